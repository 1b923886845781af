package admin

// Outcome is one per-file (or per-zip-entry) upload result line.
type Outcome struct {
	Name   string
	Detail string
}

// UploadResult accumulates the itemized outcomes of a batch upload.
type UploadResult struct {
	Successes []Outcome
	Warnings  []Outcome
	Errors    []Outcome
}

func (r *UploadResult) Success(name, detail string) {
	r.Successes = append(r.Successes, Outcome{Name: name, Detail: detail})
}

func (r *UploadResult) Warning(name, detail string) {
	r.Warnings = append(r.Warnings, Outcome{Name: name, Detail: detail})
}

func (r *UploadResult) Error(name, detail string) {
	r.Errors = append(r.Errors, Outcome{Name: name, Detail: detail})
}

// IsOk holds iff there are no warnings and no errors; successes alone never
// block it.
func (r *UploadResult) IsOk() bool {
	return len(r.Warnings) == 0 && len(r.Errors) == 0
}

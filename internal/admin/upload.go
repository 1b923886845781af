package admin

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"simplesite/internal/vpath"
)

// maxUploadBytes caps a single uploaded file.
const maxUploadBytes = 256 << 20

// FlattenFiles normalizes a multipart form into a flat, stably ordered list
// of uploads, whatever field names or nesting the client used. Done once at
// the boundary so nothing downstream deals with form shape.
func FlattenFiles(form *multipart.Form) []*multipart.FileHeader {
	if form == nil || len(form.File) == 0 {
		return nil
	}
	keys := make([]string, 0, len(form.File))
	for k := range form.File {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []*multipart.FileHeader
	for _, k := range keys {
		out = append(out, form.File[k]...)
	}
	return out
}

// Uploader lands uploads in the filesystem through capability-checked
// nodes, spooling each file under the state dir first.
type Uploader struct {
	stateDir string
}

func NewUploader(stateDir string) *Uploader {
	return &Uploader{stateDir: stateDir}
}

// Process handles a batch of uploads into the target directory node. With
// isZip set, files with a .zip extension are expanded: every entry lands as
// a sibling of the would-be zip file, not under a zip-named folder. One bad
// file or entry never aborts the rest.
func (u *Uploader) Process(target Node, files []*multipart.FileHeader, isZip bool) *UploadResult {
	res := &UploadResult{}
	for _, fh := range files {
		name := fh.Filename
		if name == "" {
			res.Error("?", "No file was uploaded.")
			continue
		}
		if fh.Size > maxUploadBytes {
			res.Error(name, "The uploaded file exceeds the size limit.")
			continue
		}
		dest, err := target.Create(filepath.Base(name))
		if err != nil {
			res.Error(name, uploadErrMessage(err))
			continue
		}
		if forbiddenPath(dest) {
			res.Error(name, "This destination is protected.")
			continue
		}

		tmp, err := u.spool(fh)
		if err != nil {
			res.Error(name, uploadErrMessage(err))
			continue
		}

		if isZip && strings.EqualFold(filepath.Ext(name), ".zip") {
			u.expandZip(res, dest, name, tmp)
		} else {
			overridden := dest.Exists()
			if err := placeFile(dest, tmp); err != nil {
				res.Error(name, uploadErrMessage(err))
			} else if overridden {
				res.Warning(name, "Overridden.")
			} else {
				res.Success(name, "Uploaded.")
			}
		}
		_ = os.Remove(tmp)
	}
	return res
}

// spool copies the upload into a temp file under the state dir, the same
// way single-shot uploads are staged before moving into place.
func (u *Uploader) spool(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dir := filepath.Join(u.stateDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp := filepath.Join(dir, fmt.Sprintf("up-%d.tmp", time.Now().UnixNano()))
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	_, err = io.Copy(dst, src)
	cerr := dst.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write upload: %w", err)
	}
	return tmp, nil
}

// expandZip writes each archive entry relative to the zip target's parent.
// Entry messages carry the zip's basename as a prefix.
func (u *Uploader) expandZip(res *UploadResult, zipDest *vpath.Path, zipName, tmp string) {
	prefix := "[" + strings.TrimSuffix(filepath.Base(zipName), filepath.Ext(zipName)) + "] "
	zr, err := zip.OpenReader(tmp)
	if err != nil {
		res.Error(zipName, "Could not open zip archive.")
		return
	}
	defer zr.Close()

	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		key := prefix + entry.Name
		dest, err := zipDest.Relative(entry.Name)
		if err != nil {
			res.Error(key, uploadErrMessage(err))
			continue
		}
		if forbiddenPath(dest) {
			res.Error(key, "This destination is protected.")
			continue
		}
		overridden := dest.Exists()
		if err := writeZipEntry(dest, entry); err != nil {
			res.Error(key, uploadErrMessage(err))
			continue
		}
		if overridden {
			res.Warning(key, "Overridden.")
		} else {
			res.Success(key, "Extracted.")
		}
	}
}

func writeZipEntry(dest *vpath.Path, entry *zip.File) error {
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := os.MkdirAll(filepath.Dir(dest.Abs()), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(dest.Abs(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, rc)
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	return err
}

// placeFile moves the spooled upload into its destination.
func placeFile(dest *vpath.Path, tmp string) error {
	if err := os.MkdirAll(filepath.Dir(dest.Abs()), 0o755); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest.Abs()); err == nil {
		return nil
	}
	// Cross-device fallback.
	src, err := os.Open(tmp)
	if err != nil {
		return err
	}
	defer src.Close()
	f, err := os.OpenFile(dest.Abs(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, src)
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	return err
}

// uploadErrMessage translates low-level upload failures into the fixed
// human messages shown in the results table.
func uploadErrMessage(err error) string {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return "The uploaded file exceeds the size limit."
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "The file was only partially uploaded."
	case errors.Is(err, vpath.ErrOutsideRoot), errors.Is(err, vpath.ErrTraversal):
		return "Invalid destination path."
	case errors.Is(err, ErrBadRequest):
		return "Uploads are not allowed here."
	case errors.Is(err, os.ErrPermission):
		return "Failed to write file to disk."
	case errors.Is(err, os.ErrNotExist):
		return "Missing a temporary folder."
	default:
		return "Upload failed: " + err.Error()
	}
}

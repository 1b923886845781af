package admin

import (
	"archive/zip"
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// multipartFiles builds real multipart file headers the way a browser
// submits them.
func multipartFiles(t *testing.T, files map[string]string) []*multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(32<<20))
	return FlattenFiles(req.MultipartForm)
}

func zipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestUploadResultIsOk(t *testing.T) {
	var r UploadResult
	assert.True(t, r.IsOk())
	r.Success("a", "Uploaded.")
	assert.True(t, r.IsOk())
	r.Warning("b", "Overridden.")
	assert.False(t, r.IsOk())

	var r2 UploadResult
	r2.Error("c", "boom")
	assert.False(t, r2.IsOk())
}

func TestProcessPlainUpload(t *testing.T) {
	reg, dirs := testRegistry(t)
	up := NewUploader(t.TempDir())
	target := locate(t, reg, "@public/")

	res := up.Process(target, multipartFiles(t, map[string]string{"hello.txt": "hi"}), false)
	assert.True(t, res.IsOk())
	require.Len(t, res.Successes, 1)
	assert.Equal(t, "hello.txt", res.Successes[0].Name)

	b, err := os.ReadFile(filepath.Join(dirs.Public, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(b))

	// Second upload of the same name overwrites with a warning.
	res = up.Process(target, multipartFiles(t, map[string]string{"hello.txt": "again"}), false)
	assert.False(t, res.IsOk())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "Overridden.", res.Warnings[0].Detail)
	b, _ = os.ReadFile(filepath.Join(dirs.Public, "hello.txt"))
	assert.Equal(t, "again", string(b))
}

func TestProcessRejectsForbiddenDestination(t *testing.T) {
	reg, dirs := testRegistry(t)
	up := NewUploader(t.TempDir())
	target := locate(t, reg, "@public/")

	res := up.Process(target, multipartFiles(t, map[string]string{"index.html": "<html>"}), false)
	assert.False(t, res.IsOk())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "This destination is protected.", res.Errors[0].Detail)
	_, err := os.Stat(filepath.Join(dirs.Public, "index.html"))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessZipExpansion(t *testing.T) {
	reg, dirs := testRegistry(t)
	up := NewUploader(t.TempDir())
	require.NoError(t, os.MkdirAll(filepath.Join(dirs.Public, "docs"), 0o755))
	target := locate(t, reg, "@public/docs")

	archive := zipBytes(t, map[string]string{
		"readme.txt":  "read me",
		"sub/note.md": "note",
	})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", "bundle.zip")
	require.NoError(t, err)
	_, err = fw.Write(archive)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(32<<20))
	files := FlattenFiles(req.MultipartForm)

	res := up.Process(target, files, true)
	assert.True(t, res.IsOk(), "first extraction should be clean: %+v", res)
	require.Len(t, res.Successes, 2)
	for _, s := range res.Successes {
		assert.Contains(t, s.Name, "[bundle] ")
	}

	// Entries land as siblings of where bundle.zip would have been, i.e.
	// directly inside docs/ - not under a bundle/ folder.
	b, err := os.ReadFile(filepath.Join(dirs.Public, "docs", "readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, "read me", string(b))
	b, err = os.ReadFile(filepath.Join(dirs.Public, "docs", "sub", "note.md"))
	require.NoError(t, err)
	assert.Equal(t, "note", string(b))
	_, err = os.Stat(filepath.Join(dirs.Public, "docs", "bundle"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dirs.Public, "docs", "bundle.zip"))
	assert.True(t, os.IsNotExist(err), "the archive itself is not kept")

	// Re-uploading the same archive reports every entry as overridden.
	var buf2 bytes.Buffer
	mw2 := multipart.NewWriter(&buf2)
	fw2, err := mw2.CreateFormFile("files", "bundle.zip")
	require.NoError(t, err)
	_, err = fw2.Write(archive)
	require.NoError(t, err)
	require.NoError(t, mw2.Close())
	reqB := httptest.NewRequest(http.MethodPost, "/", &buf2)
	reqB.Header.Set("Content-Type", mw2.FormDataContentType())
	require.NoError(t, reqB.ParseMultipartForm(32<<20))

	res = up.Process(target, FlattenFiles(reqB.MultipartForm), true)
	assert.False(t, res.IsOk())
	assert.Len(t, res.Warnings, 2)
	for _, wn := range res.Warnings {
		assert.Equal(t, "Overridden.", wn.Detail)
		assert.Contains(t, wn.Name, "[bundle] ")
	}
}

func TestProcessMissingFilename(t *testing.T) {
	reg, _ := testRegistry(t)
	up := NewUploader(t.TempDir())
	target := locate(t, reg, "@public/")

	res := up.Process(target, []*multipart.FileHeader{{Filename: ""}}, false)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "?", res.Errors[0].Name)
	assert.Equal(t, "No file was uploaded.", res.Errors[0].Detail)
}

func TestWriteZipStreamsDirectory(t *testing.T) {
	reg, dirs := testRegistry(t)
	write(t, filepath.Join(dirs.Public, "site", "a.txt"), "alpha")
	write(t, filepath.Join(dirs.Public, "site", "sub", "b.txt"), "beta")

	n := locate(t, reg, "@public/site")
	var buf bytes.Buffer
	require.NoError(t, WriteZip(&buf, n))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	got := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		got[f.Name] = string(b)
	}
	assert.Equal(t, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
	}, got)
}

func TestWriteZipSkipsForbidden(t *testing.T) {
	reg, dirs := testRegistry(t)
	write(t, filepath.Join(dirs.Public, "index.html"), "<html>")
	write(t, filepath.Join(dirs.Public, "other.txt"), "ok")

	n := locate(t, reg, "@public/")
	var buf bytes.Buffer
	require.NoError(t, WriteZip(&buf, n))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"other.txt"}, names)
}

func TestWriteZipRejectsFiles(t *testing.T) {
	reg, dirs := testRegistry(t)
	write(t, filepath.Join(dirs.Public, "a.txt"), "x")
	n := locate(t, reg, "@public/a.txt")
	assert.ErrorIs(t, WriteZip(io.Discard, n), ErrBadRequest)
}

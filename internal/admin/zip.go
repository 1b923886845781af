package admin

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// WriteZip streams the directory node as a zip archive. Files are stored
// under paths relative to the node itself; directories are recursed into
// but not written as entries; forbidden nodes (and anything beneath one)
// are skipped entirely. Output is incremental, nothing is buffered whole.
func WriteZip(w io.Writer, n Node) error {
	p, ok := n.Path()
	if !ok || !p.IsDir() || !p.Exists() {
		return fmt.Errorf("%w: not a downloadable directory", ErrBadRequest)
	}
	prefix := strings.TrimSuffix(p.Rel(), "/") + "/"

	zw := zip.NewWriter(w)
	var walk func(cur Node) error
	walk = func(cur Node) error {
		if cur.IsForbidden() {
			return nil
		}
		cp, _ := cur.Path()
		if cp.IsDir() {
			children, err := cur.List()
			if err != nil {
				return err
			}
			for _, child := range children {
				if err := walk(child); err != nil {
					return err
				}
			}
			return nil
		}
		name := strings.TrimPrefix(cp.Rel(), prefix)
		if name == "" {
			return nil
		}
		h := &zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: time.Now(),
		}
		if st, err := os.Stat(cp.Abs()); err == nil {
			h.Modified = st.ModTime()
		}
		wr, err := zw.CreateHeader(h)
		if err != nil {
			return err
		}
		f, err := os.Open(cp.Abs())
		if err != nil {
			// Entry vanished between listing and open; skip it.
			return nil
		}
		_, err = io.Copy(wr, f)
		_ = f.Close()
		return err
	}
	if err := walk(n); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

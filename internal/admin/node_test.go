package admin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simplesite/internal/config"
	"simplesite/internal/scope"
	"simplesite/internal/vpath"
)

func testRegistry(t *testing.T) (*scope.Registry, config.ScopeDirs) {
	t.Helper()
	dirs := config.ScopeDirs{
		Pages:  t.TempDir(),
		Public: t.TempDir(),
		Data:   t.TempDir(),
	}
	return scope.NewRegistry(dirs), dirs
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func locate(t *testing.T, reg *scope.Registry, in string) Node {
	t.Helper()
	p, err := vpath.New(reg, scope.Pages, in)
	require.NoError(t, err)
	return Located(reg, scope.Pages, p)
}

func TestVirtualRootCapabilities(t *testing.T) {
	reg, _ := testRegistry(t)
	n := VirtualRoot(reg, scope.Pages)

	assert.True(t, n.IsVirtualRoot())
	assert.True(t, n.IsRoot())
	assert.False(t, n.CanDelete())
	assert.False(t, n.CanEdit())
	assert.False(t, n.CanRename())
	assert.False(t, n.CanCreate())
	assert.False(t, n.CanDownload())
}

func TestVirtualRootListsConfiguredScopes(t *testing.T) {
	reg, _ := testRegistry(t) // templates unconfigured
	n := VirtualRoot(reg, scope.Pages)
	children, err := n.List()
	require.NoError(t, err)

	var names []string
	for _, c := range children {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"@pages", "@public", "@data"}, names)
}

func TestScopeRootCapabilities(t *testing.T) {
	reg, _ := testRegistry(t)
	n := locate(t, reg, "@public/")

	assert.True(t, n.IsRoot())
	assert.False(t, n.CanDelete())
	assert.False(t, n.CanRename())
	assert.True(t, n.CanCreate())
	assert.True(t, n.CanDownload())
}

func TestForbiddenEntryPoint(t *testing.T) {
	reg, dirs := testRegistry(t)
	write(t, filepath.Join(dirs.Public, "index.html"), "<html>")

	n := locate(t, reg, "@public/index.html")
	assert.True(t, n.IsForbidden())
	assert.False(t, n.CanDelete())
	assert.False(t, n.CanEdit())
	assert.False(t, n.CanRename())
	assert.False(t, n.CanDownload())

	// Same name in another scope stays editable.
	write(t, filepath.Join(dirs.Pages, "index.html"), "<html>")
	m := locate(t, reg, "@pages/index.html")
	assert.False(t, m.IsForbidden())
	assert.True(t, m.CanEdit())
}

func TestFileCapabilities(t *testing.T) {
	reg, dirs := testRegistry(t)
	write(t, filepath.Join(dirs.Pages, "about.md"), "# hi")
	write(t, filepath.Join(dirs.Pages, "photo.jpg"), "\xff\xd8")

	text := locate(t, reg, "@pages/about.md")
	assert.True(t, text.CanEdit())
	assert.True(t, text.CanDelete())
	assert.True(t, text.CanRename())
	assert.True(t, text.CanDownload())
	assert.False(t, text.CanCreate())

	bin := locate(t, reg, "@pages/photo.jpg")
	assert.False(t, bin.CanEdit())
	assert.True(t, bin.CanDelete())
	assert.True(t, bin.CanDownload())
}

func TestCreateChecksCapabilityFirst(t *testing.T) {
	reg, dirs := testRegistry(t)
	write(t, filepath.Join(dirs.Pages, "about.md"), "# hi")

	// A file cannot hold children; Create must fail before any navigation.
	file := locate(t, reg, "@pages/about.md")
	_, err := file.Create("x.txt")
	assert.ErrorIs(t, err, ErrBadRequest)

	// The virtual root cannot hold entries either.
	root := VirtualRoot(reg, scope.Pages)
	_, err = root.Create("x.txt")
	assert.ErrorIs(t, err, ErrBadRequest)

	dir := locate(t, reg, "@pages/")
	p, err := dir.Create("x.txt")
	require.NoError(t, err)
	assert.Equal(t, "/x.txt", p.Rel())
	assert.False(t, p.Exists())
}

func TestRenameTargetsSibling(t *testing.T) {
	reg, dirs := testRegistry(t)
	write(t, filepath.Join(dirs.Pages, "sub", "a.txt"), "x")
	require.NoError(t, os.MkdirAll(filepath.Join(dirs.Pages, "sub", "inner"), 0o755))

	file := locate(t, reg, "@pages/sub/a.txt")
	p, err := file.Rename("b.txt")
	require.NoError(t, err)
	assert.Equal(t, "/sub/b.txt", p.Rel())

	dir := locate(t, reg, "@pages/sub/inner")
	p, err = dir.Rename("outer")
	require.NoError(t, err)
	assert.Equal(t, "/sub/outer", p.Rel())

	root := locate(t, reg, "@pages/")
	_, err = root.Rename("other")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestTokenRoundTrip(t *testing.T) {
	reg, dirs := testRegistry(t)
	write(t, filepath.Join(dirs.Public, "a b", "c.txt"), "x")

	n := locate(t, reg, "@public/a b/c.txt")
	tok := n.Token()
	assert.Regexp(t, `^[A-Za-z0-9_-]+$`, tok)

	back, err := ResolveToken(reg, scope.Pages, tok)
	require.NoError(t, err)
	assert.Equal(t, n.String(), back.String())

	_, err = ResolveToken(reg, scope.Pages, "!!!not-base64url!!!")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestPublicURL(t *testing.T) {
	reg, dirs := testRegistry(t)
	write(t, filepath.Join(dirs.Public, "img", "logo.png"), "x")
	write(t, filepath.Join(dirs.Pages, "about.md"), "x")

	assert.Equal(t, "/img/logo.png", locate(t, reg, "@public/img/logo.png").PublicURL())
	assert.Empty(t, locate(t, reg, "@pages/about.md").PublicURL())
}

func TestBreadcrumbStartsAtVirtualRoot(t *testing.T) {
	reg, dirs := testRegistry(t)
	write(t, filepath.Join(dirs.Public, "a", "b.txt"), "x")

	n := locate(t, reg, "@public/a/b.txt")
	bc, err := n.Breadcrumb()
	require.NoError(t, err)
	require.Len(t, bc, 4)
	assert.True(t, bc[0].IsVirtualRoot())
	assert.Equal(t, "@public", bc[1].Name())
	assert.Equal(t, "a", bc[2].Name())
	assert.Equal(t, "b.txt", bc[3].Name())

	bc, err = VirtualRoot(reg, scope.Pages).Breadcrumb()
	require.NoError(t, err)
	require.Len(t, bc, 1)
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.0 KiB", humanBytes(1024))
	assert.Equal(t, "1.5 MiB", humanBytes(3<<20/2))
}

package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/imgsrc/pkg/imgsrc"
	"github.com/tendant/imgsrc/pkg/imgsrc/signature"
	"github.com/tendant/imgsrc/pkg/imgsrc/sniff"
)

var jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, make([]byte, 39)...)

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

func newTestStore(t *testing.T, dirs map[string]string) *Store {
	t.Helper()
	s, err := New(Config{DefaultDir: t.TempDir(), Dirs: dirs})
	require.NoError(t, err)
	return s
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{DefaultDir: t.TempDir(), Algorithm: "md5"})
	assert.Error(t, err)

	_, err = New(Config{DefaultDir: t.TempDir(), Dirs: map[string]string{"1": ""}})
	assert.Error(t, err)
}

func TestNew_CreatesDirectories(t *testing.T) {
	base := t.TempDir()
	def := filepath.Join(base, "default", "nested")
	extra := filepath.Join(base, "extra")

	s, err := New(Config{DefaultDir: def, Dirs: map[string]string{"2": extra}})
	require.NoError(t, err)
	assert.Equal(t, signature.SHA1, s.Algorithm())

	assert.DirExists(t, def)
	assert.DirExists(t, extra)
}

func TestStore_Root(t *testing.T) {
	extra := t.TempDir()
	s := newTestStore(t, map[string]string{"1": extra})

	root, err := s.Root("")
	require.NoError(t, err)
	assert.Equal(t, "", root.Index)

	root, err = s.Root("1")
	require.NoError(t, err)
	assert.Equal(t, Root{Index: "1", Dir: extra}, root)

	_, err = s.Root("9")
	assert.ErrorIs(t, err, imgsrc.ErrUnknownDirIndex)

	roots := s.Roots()
	require.Len(t, roots, 2)
	assert.Equal(t, "", roots[0].Index)
	assert.Equal(t, "1", roots[1].Index)
}

func TestValidateFilename(t *testing.T) {
	for _, name := range []string{"", ".", "..", "../evil.jpg", "a/b.jpg", `a\b.jpg`, "a\x00.jpg"} {
		assert.ErrorIs(t, ValidateFilename(name), imgsrc.ErrInvalidFilename, name)
	}
	for _, name := range []string{"a.jpg", "photo 1.png", "..hidden", "x"} {
		assert.NoError(t, ValidateFilename(name), name)
	}

	assert.NoError(t, ValidateFilename(strings.Repeat("a", MaxFilenameLength-4)+".jpg"))
	assert.ErrorIs(t, ValidateFilename(strings.Repeat("a", MaxFilenameLength)+".jpg"), imgsrc.ErrInvalidFilename)
}

func TestStore_BeginStagingLongestFilename(t *testing.T) {
	s := newTestStore(t, nil)
	root, _ := s.Root("")
	name := strings.Repeat("a", MaxFilenameLength-4) + ".jpg"

	first, err := s.BeginStaging(root, name, ^uint64(0))
	require.NoError(t, err)
	defer first.Abandon()

	// the collision name carries a UUID and must still fit
	second, err := s.BeginStaging(root, name, ^uint64(0))
	require.NoError(t, err)
	defer second.Abandon()
	assert.NotEqual(t, first.Path(), second.Path())
}

func TestStore_StageAndFinalize(t *testing.T) {
	s := newTestStore(t, nil)
	root, _ := s.Root("")

	st, err := s.BeginStaging(root, "a.jpg", 12345)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root.Dir, "tmp-12345-a.jpg"), st.Path())

	_, err = st.Write(jpegBytes[:20])
	require.NoError(t, err)
	_, err = st.Write(jpegBytes[20:])
	require.NoError(t, err)
	st.SetFormat(sniff.JPEG)

	obj, err := s.Finalize(context.Background(), st)
	require.NoError(t, err)

	want := sha1Hex(jpegBytes)
	assert.Equal(t, want, obj.Digest)
	assert.Equal(t, want+".jpg", obj.Name)
	assert.Equal(t, "jpg", obj.Extension)
	assert.Equal(t, int64(len(jpegBytes)), obj.Size)
	assert.Equal(t, []string{want + ".jpg"}, listDir(t, root.Dir))

	got, err := os.ReadFile(obj.Path)
	require.NoError(t, err)
	assert.Equal(t, jpegBytes, got)

	info, err := os.Stat(filepath.Join(root.Dir, obj.Name))
	require.NoError(t, err)
	assert.Equal(t, int64(len(jpegBytes)), info.Size())

	// Abandon after finalize leaves the object in place
	require.NoError(t, st.Abandon())
	assert.FileExists(t, obj.Path)
}

func TestStore_FinalizeIdempotent(t *testing.T) {
	s := newTestStore(t, nil)
	root, _ := s.Root("")

	var names []string
	for _, filename := range []string{"first.jpg", "second.png"} {
		st, err := s.BeginStaging(root, filename, 1)
		require.NoError(t, err)
		_, err = st.Write(jpegBytes)
		require.NoError(t, err)
		st.SetFormat(sniff.JPEG)
		obj, err := s.Finalize(context.Background(), st)
		require.NoError(t, err)
		names = append(names, obj.Name)
	}

	assert.Equal(t, names[0], names[1])
	assert.Len(t, listDir(t, root.Dir), 1)
}

func TestStore_StagingCollision(t *testing.T) {
	s := newTestStore(t, nil)
	root, _ := s.Root("")

	first, err := s.BeginStaging(root, "a.png", 7)
	require.NoError(t, err)
	second, err := s.BeginStaging(root, "a.png", 7)
	require.NoError(t, err)
	assert.NotEqual(t, first.Path(), second.Path())

	_, err = first.Write([]byte("first"))
	require.NoError(t, err)
	_, err = second.Write([]byte("second"))
	require.NoError(t, err)

	require.NoError(t, second.Abandon())
	require.NoError(t, first.Abandon())
	assert.Empty(t, listDir(t, root.Dir))
}

func TestStore_FinalizeRequiresAcceptedFormat(t *testing.T) {
	s := newTestStore(t, nil)
	root, _ := s.Root("")

	st, err := s.BeginStaging(root, "a.gif", 1)
	require.NoError(t, err)
	st.SetFormat(sniff.GIF)

	_, err = s.Finalize(context.Background(), st)
	assert.ErrorIs(t, err, imgsrc.ErrUnsupportedFormat)

	require.NoError(t, st.Abandon())
	assert.Empty(t, listDir(t, root.Dir))
}

func TestStore_FinalizeCanceled(t *testing.T) {
	s := newTestStore(t, nil)
	root, _ := s.Root("")

	st, err := s.BeginStaging(root, "a.jpg", 1)
	require.NoError(t, err)
	_, err = st.Write(jpegBytes)
	require.NoError(t, err)
	st.SetFormat(sniff.JPEG)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Finalize(ctx, st)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, st.Abandon())
	assert.Empty(t, listDir(t, root.Dir))
}

func TestStore_SHA256Names(t *testing.T) {
	s, err := New(Config{DefaultDir: t.TempDir(), Algorithm: signature.SHA256})
	require.NoError(t, err)
	root, _ := s.Root("")

	st, err := s.BeginStaging(root, "a.png", 1)
	require.NoError(t, err)
	_, err = st.Write(jpegBytes)
	require.NoError(t, err)
	st.SetFormat(sniff.PNG)

	obj, err := s.Finalize(context.Background(), st)
	require.NoError(t, err)
	assert.Len(t, obj.Digest, 64)
	assert.Equal(t, "sha256-"+obj.Digest+".png", obj.Name)
}

func TestStore_BeginStagingRejectsTraversal(t *testing.T) {
	s := newTestStore(t, nil)
	root, _ := s.Root("")

	_, err := s.BeginStaging(root, "../evil.jpg", 1)
	assert.ErrorIs(t, err, imgsrc.ErrInvalidFilename)
	assert.Empty(t, listDir(t, root.Dir))
}

func TestStore_BeginStagingMissingDir(t *testing.T) {
	s := newTestStore(t, nil)

	_, err := s.BeginStaging(Root{Dir: filepath.Join(t.TempDir(), "gone")}, "a.jpg", 1)
	var storageErr *imgsrc.StorageError
	assert.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "create", storageErr.Op)
}

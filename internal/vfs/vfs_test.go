package vfs

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/tapevault/tapevault/internal/models"
)

type fakeCatalog struct {
	files map[string]models.FileEntry
	total int64
	free  int64
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{files: map[string]models.FileEntry{}}
}

func (c *fakeCatalog) put(volumeTag, path string, size, mtime int64) {
	c.files[path] = models.FileEntry{VolumeTag: volumeTag, Path: path, Size: size, MTime: mtime}
}

func (c *fakeCatalog) LookupFile(path string) (*models.FileEntry, error) {
	if e, ok := c.files[path]; ok {
		return &e, nil
	}
	return nil, nil
}

func (c *fakeCatalog) HasChildren(prefix string) (bool, error) {
	lower := prefix + "/"
	if prefix == "" {
		return len(c.files) > 0, nil
	}
	for p := range c.files {
		if len(p) > len(lower) && p[:len(lower)] == lower {
			return true, nil
		}
	}
	return false, nil
}

func (c *fakeCatalog) ChildrenUnder(prefix string) ([]string, error) {
	lower := prefix + "/"
	var out []string
	for p := range c.files {
		if prefix == "" {
			out = append(out, p)
			continue
		}
		if len(p) > len(lower) && p[:len(lower)] == lower {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c *fakeCatalog) TotalCapacity() (int64, int64, error) {
	return c.total, c.free, nil
}

type fakeFetcher struct {
	sourceRoot string
}

func (f *fakeFetcher) Fetch(ctx context.Context, volumeTag, relativePath string) (string, error) {
	src := filepath.Join(f.sourceRoot, relativePath)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}
	return src, nil
}

func TestLookupFileAndDirectory(t *testing.T) {
	cat := newFakeCatalog()
	cat.put("VOL001", "data/a.bin", 100, 1000)
	root := NewRoot(cat, &fakeFetcher{})
	fs.NewNodeFS(root, &fs.Options{}) // attach the tree so Lookup can create child inodes

	var out fuse.EntryOut
	dirNode, errno := root.Lookup(context.Background(), "data", &out)
	if errno != 0 {
		t.Fatalf("Lookup(data) errno = %v", errno)
	}
	if out.Attr.Mode != dirMode {
		t.Errorf("Lookup(data) mode = %o, want dir mode", out.Attr.Mode)
	}

	dir := dirNode.Operations().(*Node)
	fileNode, errno := dir.Lookup(context.Background(), "a.bin", &out)
	if errno != 0 {
		t.Fatalf("Lookup(a.bin) errno = %v", errno)
	}
	if out.Attr.Mode != fileMode || out.Attr.Size != 100 {
		t.Errorf("Lookup(a.bin) attr = %+v", out.Attr)
	}
	_ = fileNode
}

func TestLookupMissingIsENOENT(t *testing.T) {
	cat := newFakeCatalog()
	root := NewRoot(cat, &fakeFetcher{})

	var out fuse.EntryOut
	_, errno := root.Lookup(context.Background(), "nope", &out)
	if errno != syscall.ENOENT {
		t.Fatalf("errno = %v, want ENOENT", errno)
	}
}

func TestReaddirDedupsAcrossTapes(t *testing.T) {
	cat := newFakeCatalog()
	cat.put("VOL001", "a/x.bin", 1, 1)
	cat.put("VOL002", "a/y.bin", 2, 2)
	cat.put("VOL001", "root.txt", 3, 3)
	root := NewRoot(cat, &fakeFetcher{})

	stream, errno := root.Readdir(context.Background())
	if errno != 0 {
		t.Fatalf("Readdir() errno = %v", errno)
	}

	var names []string
	for stream.HasNext() {
		e, errno := stream.Next()
		if errno != 0 {
			t.Fatalf("Next() errno = %v", errno)
		}
		names = append(names, e.Name)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "root.txt" {
		t.Fatalf("Readdir names = %v, want [a root.txt]", names)
	}
}

func TestReaddirSubdirectory(t *testing.T) {
	cat := newFakeCatalog()
	cat.put("VOL001", "data/a.bin", 1, 1)
	cat.put("VOL002", "data/b.bin", 2, 2)
	root := NewRoot(cat, &fakeFetcher{})
	fs.NewNodeFS(root, &fs.Options{})

	var out fuse.EntryOut
	dirNode, errno := root.Lookup(context.Background(), "data", &out)
	if errno != 0 {
		t.Fatalf("Lookup(data) errno = %v", errno)
	}
	dir := dirNode.Operations().(*Node)

	stream, errno := dir.Readdir(context.Background())
	if errno != 0 {
		t.Fatalf("Readdir() errno = %v", errno)
	}
	var names []string
	for stream.HasNext() {
		e, _ := stream.Next()
		names = append(names, e.Name)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a.bin" || names[1] != "b.bin" {
		t.Fatalf("Readdir(data) names = %v, want [a.bin b.bin]", names)
	}
}

func TestOpenFetchesAndReads(t *testing.T) {
	sourceRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(sourceRoot, "data"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sourceRoot, "data", "a.bin"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	cat := newFakeCatalog()
	cat.put("VOL001", "data/a.bin", 5, 1000)
	root := NewRoot(cat, &fakeFetcher{sourceRoot: sourceRoot})
	fs.NewNodeFS(root, &fs.Options{})

	var out fuse.EntryOut
	dirNode, _ := root.Lookup(context.Background(), "data", &out)
	dir := dirNode.Operations().(*Node)
	fileNode, errno := dir.Lookup(context.Background(), "a.bin", &out)
	if errno != 0 {
		t.Fatalf("Lookup(a.bin) errno = %v", errno)
	}
	file := fileNode.Operations().(*Node)

	fh, _, errno := file.Open(context.Background(), syscall.O_RDONLY)
	if errno != 0 {
		t.Fatalf("Open() errno = %v", errno)
	}

	buf := make([]byte, 5)
	res, errno := fh.(*fileHandle).Read(context.Background(), buf, 0)
	if errno != 0 {
		t.Fatalf("Read() errno = %v", errno)
	}
	data, status := res.Bytes(buf)
	if status != fuse.OK || string(data) != "hello" {
		t.Fatalf("Read() data = %q, status = %v", data, status)
	}

	if errno := fh.(*fileHandle).Release(context.Background()); errno != 0 {
		t.Fatalf("Release() errno = %v", errno)
	}
}

func TestOpenRejectsWrite(t *testing.T) {
	cat := newFakeCatalog()
	cat.put("VOL001", "data/a.bin", 5, 1000)
	root := NewRoot(cat, &fakeFetcher{})
	fs.NewNodeFS(root, &fs.Options{})

	var out fuse.EntryOut
	dirNode, _ := root.Lookup(context.Background(), "data", &out)
	dir := dirNode.Operations().(*Node)
	fileNode, _ := dir.Lookup(context.Background(), "a.bin", &out)
	file := fileNode.Operations().(*Node)

	if _, _, errno := file.Open(context.Background(), syscall.O_WRONLY); errno != syscall.EROFS {
		t.Fatalf("Open(O_WRONLY) errno = %v, want EROFS", errno)
	}
}

func TestImmediateChildren(t *testing.T) {
	children := immediateChildren("", []string{"a/x.bin", "a/y.bin", "root.txt"})
	if len(children) != 2 {
		t.Fatalf("children = %+v, want 2 entries", children)
	}
	byName := map[string]childInfo{}
	for _, c := range children {
		byName[c.name] = c
	}
	if !byName["a"].isDir {
		t.Error("expected 'a' to be a directory")
	}
	if byName["root.txt"].isDir {
		t.Error("expected 'root.txt' to be a file")
	}
}

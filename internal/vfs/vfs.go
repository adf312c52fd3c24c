// Package vfs exposes the catalog and fetcher as a read-only FUSE
// filesystem using the hanwen/go-fuse/v2 Inode-embedder tree API. The
// tree is never built up front: every directory and file node is
// materialized lazily from a catalog query the first time the kernel
// asks about it.
package vfs

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/tapevault/tapevault/internal/models"
)

const (
	dirMode  = syscall.S_IFDIR | 0755
	fileMode = syscall.S_IFREG | 0444
)

// Catalog is the subset of catalog.Store the filesystem reads from.
// Every call must be cheap and non-blocking: getattr and readdir are
// specified to never touch the drive.
type Catalog interface {
	LookupFile(path string) (*models.FileEntry, error)
	HasChildren(prefix string) (bool, error)
	ChildrenUnder(prefix string) ([]string, error)
	TotalCapacity() (total, free int64, err error)
}

// Fetcher materializes a file's content into the local cache, blocking
// on the drive lock when the file isn't cached yet.
type Fetcher interface {
	Fetch(ctx context.Context, volumeTag, relativePath string) (string, error)
}

// Root builds the FUSE tree's root node and holds the state every node
// shares: the catalog to query and the fetcher to pull content from.
type Root struct {
	catalog Catalog
	fetcher Fetcher
}

// NewRoot creates the shared filesystem state. Pass the *Node this
// returns the embedded Inode of to fs.Mount.
func NewRoot(catalog Catalog, fetcher Fetcher) *Node {
	root := &Root{catalog: catalog, fetcher: fetcher}
	return &Node{root: root, path: ""}
}

// Options returns mount options tuned for a tree that only changes at
// startup and at reconciliation time: attributes and directory entries
// can be cached by the kernel for a while without going stale, and a
// failed lookup (a path with no catalog entry) can be remembered too.
func Options() *fs.Options {
	attrTTL := 5 * time.Second
	entryTTL := 5 * time.Second
	negativeTTL := 2 * time.Second
	return &fs.Options{
		AttrTimeout:     &attrTTL,
		EntryTimeout:    &entryTTL,
		NegativeTimeout: &negativeTTL,
		MountOptions: fuse.MountOptions{
			FsName:  "tapevault",
			Name:    "tapevault",
			Options: []string{"ro"},
		},
	}
}

// Node is a lazily-populated directory or file in the vault tree. path
// is the node's location relative to the vault root, with no leading
// slash ("" for the root itself).
type Node struct {
	fs.Inode

	root *Root
	path string
}

var (
	_ fs.NodeLookuper  = (*Node)(nil)
	_ fs.NodeReaddirer = (*Node)(nil)
	_ fs.NodeGetattrer = (*Node)(nil)
	_ fs.NodeOpener    = (*Node)(nil)
	_ fs.NodeStatfser  = (*Node)(nil)
)

func childPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// Lookup resolves a single child by name. A catalog miss on both the
// exact-file and has-children queries is ENOENT; the mount's negative
// cache keeps that cheap for repeated misses (editors probing for
// .git, .nfs*, and the like).
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := childPath(n.path, name)

	entry, err := n.root.catalog.LookupFile(p)
	if err != nil {
		return nil, syscall.EIO
	}
	if entry != nil {
		child := &Node{root: n.root, path: p}
		fillFileAttr(&out.Attr, entry)
		return n.NewInode(ctx, child, fs.StableAttr{Mode: fileMode}), 0
	}

	hasChildren, err := n.root.catalog.HasChildren(p)
	if err != nil {
		return nil, syscall.EIO
	}
	if !hasChildren {
		return nil, syscall.ENOENT
	}

	child := &Node{root: n.root, path: p}
	fillDirAttr(&out.Attr)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: dirMode}), 0
}

// Readdir lists the immediate children of a directory: every distinct
// first path-segment among catalog entries nested under this node's
// path, deduplicated across tapes. "." and ".." are supplied by the
// kernel, not emitted here.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	paths, err := n.root.catalog.ChildrenUnder(n.path)
	if err != nil {
		return nil, syscall.EIO
	}

	children := immediateChildren(n.path, paths)
	entries := make([]fuse.DirEntry, 0, len(children))
	for _, c := range children {
		mode := uint32(fileMode)
		if c.isDir {
			mode = dirMode
		}
		entries = append(entries, fuse.DirEntry{Name: c.name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

// Getattr fills in size and mode. Directories report a fixed nominal
// size; files report their cataloged size, which is the size on tape
// and therefore exact regardless of whether the file is cached yet.
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if n.path == "" {
		fillDirAttr(&out.Attr)
		return 0
	}

	entry, err := n.root.catalog.LookupFile(n.path)
	if err != nil {
		return syscall.EIO
	}
	if entry != nil {
		fillFileAttr(&out.Attr, entry)
		return 0
	}

	fillDirAttr(&out.Attr)
	return 0
}

// Statfs reports aggregate capacity across every cataloged tape, so
// that `df` against the mount reflects the library as a whole rather
// than whichever tape happens to be loaded.
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	total, free, err := n.root.catalog.TotalCapacity()
	if err != nil {
		return syscall.EIO
	}
	const blockSize = 4096
	out.Bsize = blockSize
	out.Blocks = uint64(total) / blockSize
	out.Bfree = uint64(free) / blockSize
	out.Bavail = out.Bfree
	out.NameLen = 255
	return 0
}

// Open materializes the file into the local cache (blocking on the
// drive lock for a cache miss) and hands back a handle reading from
// the cached copy. Write flags are rejected: the mount is read-only.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}

	entry, err := n.root.catalog.LookupFile(n.path)
	if err != nil {
		return nil, 0, syscall.EIO
	}
	if entry == nil {
		return nil, 0, syscall.ENOENT
	}

	cachePath, err := n.root.fetcher.Fetch(ctx, entry.VolumeTag, n.path)
	if err != nil {
		return nil, 0, syscall.EIO
	}

	fh, err := os.Open(cachePath)
	if err != nil {
		return nil, 0, syscall.EIO
	}
	return &fileHandle{f: fh}, fuse.FOPEN_KEEP_CACHE, 0
}

// fileHandle reads from the local cache copy a successful Open
// produced. Content never changes after a fetch, so FOPEN_KEEP_CACHE
// above is safe: the kernel page cache is never stale.
type fileHandle struct {
	f *os.File
}

var (
	_ fs.FileReader   = (*fileHandle)(nil)
	_ fs.FileReleaser = (*fileHandle)(nil)
)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.f.ReadAt(dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	h.f.Close()
	return 0
}

func fillFileAttr(attr *fuse.Attr, entry *models.FileEntry) {
	attr.Mode = fileMode
	attr.Size = uint64(entry.Size)
	attr.Mtime = uint64(entry.MTime)
	attr.Atime = uint64(entry.MTime)
	attr.Ctime = uint64(entry.MTime)
}

func fillDirAttr(attr *fuse.Attr) {
	attr.Mode = dirMode
	attr.Size = 4096
	now := uint64(time.Now().Unix())
	attr.Mtime, attr.Atime, attr.Ctime = now, now, now
}

type childInfo struct {
	name  string
	isDir bool
}

// immediateChildren reduces the full set of nested file paths under
// prefix to their distinct first path-segments. A segment is a
// directory if any matching path continues past it with a further
// "/"; a segment that is only ever an exact file path is a file.
func immediateChildren(prefix string, paths []string) []childInfo {
	skip := 0
	if prefix != "" {
		skip = len(prefix) + 1
	}

	order := make([]string, 0)
	isDir := make(map[string]bool)
	seen := make(map[string]bool)

	for _, p := range paths {
		rest := p[skip:]
		if rest == "" {
			continue
		}
		dir := false
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			rest = rest[:idx]
			dir = true
		}
		if !seen[rest] {
			seen[rest] = true
			order = append(order, rest)
		}
		if dir {
			isDir[rest] = true
		}
	}

	children := make([]childInfo, len(order))
	for i, name := range order {
		children[i] = childInfo{name: name, isDir: isDir[name]}
	}
	return children
}

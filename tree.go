package fatimg

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aligator/fatimg/checkpoint"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// EntryKind distinguishes files from directories in a collected tree.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
)

// maxNameBytes is the longest entry name a VFAT long name can encode.
const maxNameBytes = 255

// TreeEntry is one node of the collected input tree. The tree is immutable
// once CollectTree returns and is consumed read-only by all later pipeline
// stages.
type TreeEntry struct {
	Name     string
	Kind     EntryKind
	Size     int64
	ModTime  time.Time
	Content  []byte
	Children []*TreeEntry
}

// IsDir reports whether the entry is a directory.
func (t *TreeEntry) IsDir() bool {
	return t.Kind == KindDirectory
}

// treeSource provides the minimal read operations CollectTree needs from the
// host filesystem. It mainly exists to be able to mock the source in tests.
// Generated mock using mockgen:
//  mockgen -source=tree.go -destination=tree_mock.go -package fatimg
type treeSource interface {
	ReadDir(path string) ([]os.FileInfo, error)
	ReadFile(path string) ([]byte, error)
}

// aferoSource adapts an afero.Fs to the treeSource interface so the CLI
// (OsFs) and tests (MemMapFs) share one collection path.
type aferoSource struct {
	fs afero.Fs
}

func (s aferoSource) ReadDir(path string) ([]os.FileInfo, error) {
	infos, err := afero.ReadDir(s.fs, path)
	return infos, checkpoint.From(err)
}

func (s aferoSource) ReadFile(path string) ([]byte, error) {
	content, err := afero.ReadFile(s.fs, path)
	return content, checkpoint.From(err)
}

// CollectTree reads the directory tree rooted at root into memory. Children
// are ordered lexicographically by name so the resulting image is
// reproducible across runs on the same input. File contents are read up
// front; no source I/O happens after CollectTree returns.
func CollectTree(fs afero.Fs, root string) (*TreeEntry, error) {
	return collectFrom(aferoSource{fs: fs}, root)
}

func collectFrom(src treeSource, root string) (*TreeEntry, error) {
	entry := &TreeEntry{
		Name: filepath.Base(root),
		Kind: KindDirectory,
	}

	if err := collectDir(src, root, entry); err != nil {
		return nil, err
	}

	return entry, nil
}

func collectDir(src treeSource, path string, dir *TreeEntry) error {
	infos, err := src.ReadDir(path)
	if err != nil {
		return checkpoint.Wrap(err, ErrSourceRead)
	}

	for _, info := range infos {
		name := info.Name()
		if len(name) > maxNameBytes {
			return checkpoint.Wrap(fmt.Errorf("name %q exceeds %d bytes", name, maxNameBytes), ErrSourceRead)
		}

		child := &TreeEntry{
			Name:    name,
			ModTime: info.ModTime(),
		}

		childPath := filepath.Join(path, name)
		if info.IsDir() {
			logrus.Infof("DIR: %s", name)
			child.Kind = KindDirectory
			if err := collectDir(src, childPath, child); err != nil {
				return err
			}
		} else {
			logrus.Infof("FILE: %s", name)
			child.Kind = KindFile
			content, err := src.ReadFile(childPath)
			if err != nil {
				return checkpoint.Wrap(err, ErrSourceRead)
			}
			child.Content = content
			child.Size = int64(len(content))
		}

		dir.Children = append(dir.Children, child)
	}

	sort.Slice(dir.Children, func(i, j int) bool {
		return dir.Children[i].Name < dir.Children[j].Name
	})

	return nil
}

// countEntries returns the number of files and directories below t,
// excluding t itself.
func (t *TreeEntry) countEntries() (files, dirs int) {
	for _, child := range t.Children {
		if child.IsDir() {
			dirs++
			f, d := child.countEntries()
			files += f
			dirs += d
		} else {
			files++
		}
	}
	return files, dirs
}

// totalFileBytes returns the sum of all file sizes below t.
func (t *TreeEntry) totalFileBytes() int64 {
	var total int64
	for _, child := range t.Children {
		if child.IsDir() {
			total += child.totalFileBytes()
		} else {
			total += child.Size
		}
	}
	return total
}

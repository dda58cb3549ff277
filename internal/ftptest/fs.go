package ftptest

import (
	"errors"
	"os"
	"path"
	"strings"
)

// rootFS is a per-session view of the server directory with its own virtual
// working directory. Every path is resolved inside an os.Root, so ".." cannot
// escape the served tree.
type rootFS struct {
	root *os.Root
	cwd  string
}

// resolve maps a client path (absolute or relative to cwd) to a path
// relative to the root handle.
func (f *rootFS) resolve(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		p = path.Join(f.cwd, p)
	}
	p = path.Clean(p)
	if !strings.HasPrefix(p, "/") {
		return "", errors.New("invalid path")
	}
	rel := strings.TrimPrefix(p, "/")
	if rel == "" {
		rel = "."
	}
	return rel, nil
}

func (f *rootFS) chdir(p string) error {
	rel, err := f.resolve(p)
	if err != nil {
		return err
	}
	info, err := f.root.Stat(rel)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("not a directory")
	}
	f.cwd = path.Clean("/" + rel)
	return nil
}

func (f *rootFS) mkdir(p string) (string, error) {
	rel, err := f.resolve(p)
	if err != nil {
		return "", err
	}
	if err := f.root.Mkdir(rel, 0o755); err != nil {
		return "", err
	}
	return path.Clean("/" + rel), nil
}

func (f *rootFS) remove(p string, wantDir bool) error {
	rel, err := f.resolve(p)
	if err != nil {
		return err
	}
	info, err := f.root.Stat(rel)
	if err != nil {
		return err
	}
	if info.IsDir() != wantDir {
		if wantDir {
			return errors.New("not a directory")
		}
		return errors.New("is a directory")
	}
	return f.root.Remove(rel)
}

func (f *rootFS) rename(from, to string) error {
	src, err := f.resolve(from)
	if err != nil {
		return err
	}
	dst, err := f.resolve(to)
	if err != nil {
		return err
	}
	return f.root.Rename(src, dst)
}

func (f *rootFS) stat(p string) (os.FileInfo, error) {
	rel, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	return f.root.Stat(rel)
}

// list returns the entries of a directory, or the file itself when p names a file.
func (f *rootFS) list(p string) ([]os.FileInfo, error) {
	rel, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := f.root.Stat(rel)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []os.FileInfo{info}, nil
	}

	d, err := f.root.Open(rel)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	entries, err := d.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		if fi, err := e.Info(); err == nil {
			infos = append(infos, fi)
		}
	}
	return infos, nil
}

func (f *rootFS) open(p string, flag int) (*os.File, error) {
	rel, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	return f.root.OpenFile(rel, flag, 0o644)
}

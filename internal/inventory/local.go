package inventory

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// LocalSource is the local-directory back-end: a recursive directory walk
// plus direct file reads, used both for the target directory and for a
// locally-mounted source (--source-pgdata).
type LocalSource struct {
	Root string
}

func NewLocalSource(root string) *LocalSource {
	return &LocalSource{Root: root}
}

// List walks Root depth-first, pre-order, yielding directories before their
// contents. A symlink is yielded verbatim and followed into only when it is
// the direct child "pg_xlog" or a child of "pg_tblspc/" (§4.E); any other
// symlink is reported but not descended into. An ENOENT during traversal
// (the source cluster may still be running) is tolerated: the entry is
// skipped rather than failing the whole walk.
func (s *LocalSource) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := s.walk(ctx, "", &out)
	return out, err
}

func (s *LocalSource) walk(ctx context.Context, rel string, out *[]Entry) error {
	abs := filepath.Join(s.Root, rel)
	names, err := readDirNames(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "reading directory %q", abs)
	}

	for _, name := range names {
		childRel := name
		if rel != "" {
			childRel = rel + "/" + name
		}
		childAbs := filepath.Join(s.Root, childRel)

		fi, err := os.Lstat(childAbs)
		if err != nil {
			if os.IsNotExist(err) {
				// Vanished mid-walk; the source cluster may still be running.
				continue
			}
			return errors.Wrapf(err, "stat %q", childAbs)
		}

		if Ignored(childRel) {
			continue
		}

		switch {
		case fi.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(childAbs)
			if err != nil {
				return errors.Wrapf(err, "readlink %q", childAbs)
			}
			*out = append(*out, Entry{Path: childRel, Type: Symlink, LinkTarget: target})

			if followsSymlink(rel, name) {
				if err := s.walk(ctx, childRel, out); err != nil {
					return err
				}
			}

		case fi.IsDir():
			*out = append(*out, Entry{Path: childRel, Type: Directory})
			if err := s.walk(ctx, childRel, out); err != nil {
				return err
			}

		case fi.Mode().IsRegular():
			*out = append(*out, Entry{Path: childRel, Type: Regular, Size: fi.Size()})

		default:
			// Special file (device, socket, ...): §4.E says skip silently.
		}
	}
	return nil
}

// followsSymlink implements the "direct child pg_xlog or a child of
// pg_tblspc/" traversal rule.
func followsSymlink(parentRel, name string) bool {
	if parentRel == "" && name == "pg_xlog" {
		return true
	}
	return parentRel == "pg_tblspc"
}

func readDirNames(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}

// FetchFile reads path (relative to Root) whole into memory.
func (s *LocalSource) FetchFile(ctx context.Context, path string) ([]byte, error) {
	buf, err := os.ReadFile(filepath.Join(s.Root, path))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", path)
	}
	return buf, nil
}

// ReadRange reads [offset, offset+length) of path.
func (s *LocalSource) ReadRange(ctx context.Context, req RangeRequest) ([]byte, error) {
	f, err := os.Open(filepath.Join(s.Root, req.Path))
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", req.Path)
	}
	defer f.Close()

	buf := make([]byte, req.Length)
	n, err := f.ReadAt(buf, req.Offset)
	if err != nil && n == 0 {
		return nil, errors.Wrapf(err, "reading %q at %d+%d", req.Path, req.Offset, req.Length)
	}
	return buf[:n], nil
}

// Package filemap builds the finalized, ordered list of filesystem actions
// that reconciles a target data directory with a source inventory and a
// WAL-derived page map. See SPEC_FULL.md component F.
package filemap

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/pkg/errors"

	"github.com/pgtoolkit/pg-rewind-go/internal/inventory"
	"github.com/pgtoolkit/pg-rewind-go/internal/pagemap"
	"github.com/pgtoolkit/pg-rewind-go/internal/relpath"
)

// Action is one of the filesystem operations §3 names. The numeric order
// here is never relied on for sorting (see actionRank); it exists only to
// name the variant, keeping data and ordering decoupled per §9's note.
type Action int

const (
	ActionNone Action = iota
	ActionCopyWhole
	ActionCopyTail
	ActionTruncate
	ActionCreate
	ActionRemove
)

// actionRank gives each action class its position in the finalized sort
// order: create < copy-whole < copy-tail < none < truncate < remove.
var actionRank = map[Action]int{
	ActionCreate:    0,
	ActionCopyWhole: 1,
	ActionCopyTail:  2,
	ActionNone:      3,
	ActionTruncate:  4,
	ActionRemove:    5,
}

// Entry is one path's plan: what kind of file it is, what to do with it,
// and (for regular files) which blocks its page map covers.
type Entry struct {
	Path       string
	Type       inventory.Type
	Action     Action
	OldSize    int64
	NewSize    int64
	LinkTarget string
	PageMap    pagemap.Map
}

// Map accumulates entries from the source and target listings, then
// finalizes them into a sorted, immutable plan. TargetRoot is used to
// lstat the target directory during accumulation.
type Map struct {
	TargetRoot string

	accum    []*Entry
	byPath   map[string]*Entry
	final    []*Entry
	finalize bool
}

func New(targetRoot string) *Map {
	return &Map{TargetRoot: targetRoot, byPath: make(map[string]*Entry)}
}

// relDataFileRegex matches a relation data segment path, optional fork
// suffix and segment number, per §4.F.
var relDataFileRegex = regexp.MustCompile(
	`^(global|base/[0-9]+|pg_tblspc/[0-9]+/[^/]+/[0-9]+)/[0-9]+(_fsm|_vm|_init)?(\.[0-9]+)?$`)

// IsRelationDataFile reports whether path looks like a relation segment.
func IsRelationDataFile(path string) bool {
	return relDataFileRegex.MatchString(path)
}

// ProcessRemote is called once per source inventory entry, in source
// listing order (§4.F entry point 1).
func (m *Map) ProcessRemote(path string, typ inventory.Type, newSize int64, linkTarget string) error {
	if m.finalize {
		return errors.New("filemap: ProcessRemote called after Finalize")
	}
	if inventory.Ignored(path) {
		return nil
	}

	localInfo, exists, err := m.lstatLocal(path)
	if err != nil {
		return err
	}

	var action Action
	var oldSize int64

	switch typ {
	case inventory.Directory:
		if exists && localInfo.Mode().IsRegular() {
			return errors.Errorf("%q is a directory in source but a regular file in target", path)
		}
		if exists && localInfo.Mode()&os.ModeSymlink != 0 {
			return errors.Errorf("%q is a directory in source but a symlink in target", path)
		}
		if !exists {
			action = ActionCreate
		} else {
			action = ActionNone
		}

	case inventory.Symlink:
		if exists && (localInfo.Mode().IsRegular() || localInfo.IsDir()) {
			return errors.Errorf("%q is a symlink in source but not in target", path)
		}
		if !exists {
			action = ActionCreate
		} else {
			// Present on both sides. §9 Open Question (1): even when the
			// link targets differ, the reference design leaves this as
			// none rather than re-linking.
			action = ActionNone
		}

	default: // Regular
		if exists && !localInfo.Mode().IsRegular() {
			return errors.Errorf("%q is a regular file in source but not in target", path)
		}
		if !exists || !IsRelationDataFile(path) {
			action = ActionCopyWhole
			oldSize = 0
		} else {
			oldSize = localInfo.Size()
			switch {
			case oldSize < newSize:
				action = ActionCopyTail
			case oldSize > newSize:
				action = ActionTruncate
			default:
				action = ActionNone
			}
		}
	}

	entry := &Entry{
		Path:       path,
		Type:       typ,
		Action:     action,
		OldSize:    oldSize,
		NewSize:    newSize,
		LinkTarget: linkTarget,
	}
	m.accum = append(m.accum, entry)
	m.byPath[path] = entry
	return nil
}

// ProcessLocal is called once per target inventory entry, after every
// ProcessRemote call. Anything not seen in the remote listing is scheduled
// for removal (§4.F entry point 2).
func (m *Map) ProcessLocal(path string, typ inventory.Type, oldSize int64, linkTarget string) error {
	if m.finalize {
		return errors.New("filemap: ProcessLocal called after Finalize")
	}
	if inventory.Ignored(path) {
		return nil
	}
	if _, exists := m.byPath[path]; exists {
		return nil
	}

	entry := &Entry{
		Path:       path,
		Type:       typ,
		Action:     ActionRemove,
		OldSize:    oldSize,
		NewSize:    0,
		LinkTarget: linkTarget,
	}
	m.accum = append(m.accum, entry)
	m.byPath[path] = entry
	return nil
}

// ProcessBlock is the §4.D callback: record that (relnode, fork, blkno) was
// written on the target-only branch. segment and in-segment block are
// derived here (seg = blkno / relsegSize).
func (m *Map) ProcessBlock(rnode relpath.RelFileNode, fork relpath.Fork, blkno uint32, relsegSize uint32, pageSize int64) error {
	seg := blkno / relsegSize
	blkInSeg := blkno % relsegSize

	path := relpath.SegmentPath(rnode, fork, seg)
	entry, ok := m.byPath[path]
	if !ok {
		// Relation doesn't exist on source and was removed locally too.
		return nil
	}

	switch entry.Action {
	case ActionNone, ActionCopyTail, ActionTruncate:
		if (int64(blkInSeg)+1)*pageSize <= entry.NewSize {
			entry.PageMap.Add(blkInSeg)
		}
		// else: block will be truncated away, drop it.
	case ActionCopyWhole, ActionRemove:
		// Redundant; whole file is already being copied or removed.
	case ActionCreate:
		return errors.Errorf("unexpected page modification for directory/symlink %q", path)
	}
	return nil
}

// Finalize sorts the accumulated entries into the execution order: action
// class first (create < copy-whole < copy-tail < none < truncate <
// remove), then path ascending — except remove entries, sorted by path
// descending so children precede parents.
func (m *Map) Finalize() []*Entry {
	if m.finalize {
		return m.final
	}
	m.final = append([]*Entry(nil), m.accum...)
	sort.SliceStable(m.final, func(i, j int) bool {
		a, b := m.final[i], m.final[j]
		ra, rb := actionRank[a.Action], actionRank[b.Action]
		if ra != rb {
			return ra < rb
		}
		if a.Action == ActionRemove {
			return a.Path > b.Path
		}
		return a.Path < b.Path
	})
	m.finalize = true
	return m.final
}

func (m *Map) lstatLocal(path string) (os.FileInfo, bool, error) {
	info, err := os.Lstat(filepath.Join(m.TargetRoot, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "stat %q in target", path)
	}
	return info, true, nil
}

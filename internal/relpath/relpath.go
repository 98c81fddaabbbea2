// Package relpath implements the RelFileNode-to-path scheme of §3: a
// relation fork plus segment number maps to a data file path by a fixed,
// byte-exact rule. Grounded on original_source/util.c's datasegpath and
// the catalog/relpath conventions it calls into.
package relpath

import "fmt"

// Fork names the four auxiliary streams a relation can have.
type Fork int

const (
	Main Fork = iota
	FSM
	VM
	Init
)

func (f Fork) suffix() string {
	switch f {
	case FSM:
		return "_fsm"
	case VM:
		return "_vm"
	case Init:
		return "_init"
	default:
		return ""
	}
}

// RelFileNode identifies a relation within a cluster.
type RelFileNode struct {
	Tablespace uint32 // 0 means the default/global tablespace
	Database   uint32 // 0 means shared/global relations
	RelNode    uint32
}

// tablespaceVersionDir is the per-catalog-version subdirectory name under
// pg_tblspc/<tablespace>/, e.g. "PG_9.3_201306121" in stock PostgreSQL.
// This tool pins one value; a real deployment derives it from
// catalog_version_no, out of scope for pg-rewind-go's contract (§1: the
// WAL/control-file layout is a library contract, not reimplemented here).
const tablespaceVersionDir = "PG_REWIND_1"

// SegmentPath returns the data-file path for (rnode, fork, segno), relative
// to the data directory root, POSIX-style, matching §3 exactly:
//
//	global/<relNode>[.<seg>]
//	base/<db>/<relNode>[.<seg>]
//	pg_tblspc/<tblspc>/<vercode>/<db>/<relNode>[.<seg>]
//
// with fork suffixes _fsm/_vm/_init inserted before the segment dot.
func SegmentPath(rnode RelFileNode, fork Fork, segno uint32) string {
	var base string
	switch {
	case rnode.Tablespace == 0 && rnode.Database == 0:
		base = fmt.Sprintf("global/%d", rnode.RelNode)
	case rnode.Tablespace == 0:
		base = fmt.Sprintf("base/%d/%d", rnode.Database, rnode.RelNode)
	default:
		base = fmt.Sprintf("pg_tblspc/%d/%s/%d/%d",
			rnode.Tablespace, tablespaceVersionDir, rnode.Database, rnode.RelNode)
	}

	path := base + fork.suffix()
	if segno > 0 {
		path = fmt.Sprintf("%s.%d", path, segno)
	}
	return path
}

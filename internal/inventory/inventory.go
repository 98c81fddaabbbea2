// Package inventory enumerates a cluster data directory and reads bytes out
// of it, from either a local path or a live source over a wire protocol.
// See SPEC_FULL.md component E.
package inventory

import "context"

// Type is the kind of filesystem entry a Source reports.
type Type int

const (
	Regular Type = iota
	Directory
	Symlink
)

// Entry is one (path, type, size, link target) tuple yielded by List.
// Path is POSIX-style and relative to the data directory root; directories
// are yielded before their contents (pre-order).
type Entry struct {
	Path       string
	Type       Type
	Size       int64
	LinkTarget string // only meaningful when Type == Symlink
}

// Source is the capability set both back-ends present.
type Source interface {
	// List enumerates the whole cluster directory.
	List(ctx context.Context) ([]Entry, error)
	// FetchFile reads a whole file into memory.
	FetchFile(ctx context.Context, path string) ([]byte, error)
}

// RangeRequest names a byte range of a file, used by both RangeReader and
// BatchRangeReader.
type RangeRequest struct {
	Path   string
	Offset int64
	Length int64
}

// RangeReader reads one byte range at a time. Both back-ends implement
// this; LocalSource uses it as its only read path, RemoteSource falls back
// to it when the caller doesn't batch (see BatchRangeReader).
type RangeReader interface {
	ReadRange(ctx context.Context, req RangeRequest) ([]byte, error)
}

// BatchRangeReader lets a source fetch many ranges in one round trip.
// RemoteSource implements this by loading the whole plan into a temporary
// table via COPY-IN and draining a single ranged-read query in single-row
// mode (§4.G); LocalSource has no need for it since local reads are cheap
// per-call.
type BatchRangeReader interface {
	ReadRanges(ctx context.Context, reqs []RangeRequest) (map[RangeRequest][]byte, error)
}

// Ignored reports whether a path is one of §4.E's inventory/map-build
// exclusions: postmaster.pid, postmaster.opts, anything under a
// pgsql_tmp directory, and PG_VERSION (present in both, never overwritten).
func Ignored(path string) bool {
	if path == "postmaster.pid" || path == "postmaster.opts" {
		return true
	}
	if path == "PG_VERSION" || hasSuffix(path, "/PG_VERSION") {
		return true
	}
	return containsPgsqlTmp(path)
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func containsPgsqlTmp(path string) bool {
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			component := path[start:i]
			if len(component) >= len("pgsql_tmp") && component[:len("pgsql_tmp")] == "pgsql_tmp" {
				return true
			}
			start = i + 1
		}
	}
	return false
}

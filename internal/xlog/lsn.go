// Package xlog holds the WAL primitives shared by every other component:
// the LSN and TimeLineID types, and the pg_xlog segment file naming scheme
// (grounded on original_source/parsexlog.c's XLogFileName and
// XLogSegNoOffsetToRecPtr).
package xlog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pingcap/errors"
)

// LSN is a 64-bit WAL position. Zero is the sentinel "invalid" value.
type LSN uint64

// InvalidLSN is the zero value; §3 "An LSN is valid when non-zero."
const InvalidLSN LSN = 0

func (lsn LSN) Valid() bool { return lsn != InvalidLSN }

// String formats an LSN as "%X/%X" of its high and low 32-bit halves, the
// external representation used throughout §3, §6 and §8.
func (lsn LSN) String() string {
	return fmt.Sprintf("%X/%X", uint32(lsn>>32), uint32(lsn))
}

// ParseLSN is the inverse of String; §8 requires it to be a bijection on
// valid LSNs.
func ParseLSN(s string) (LSN, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return InvalidLSN, errors.Errorf("malformed LSN %q: expected \"%%X/%%X\"", s)
	}
	hi, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return InvalidLSN, errors.Annotatef(err, "malformed LSN %q (high half)", s)
	}
	lo, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return InvalidLSN, errors.Annotatef(err, "malformed LSN %q (low half)", s)
	}
	return LSN(hi<<32 | lo), nil
}

// TimeLineID is a 32-bit branch identifier. Timeline 1 has no history file.
type TimeLineID uint32

// XLogSegSize is the on-disk WAL segment size in bytes (16MB, the stock
// PostgreSQL default; the reference tool does not make this configurable).
const XLogSegSize = 16 * 1024 * 1024

// SegmentsPerXLogID is how many segments make up the high 32 bits of an LSN
// at the default 16MB segment size (2^32 / XLogSegSize).
const SegmentsPerXLogID = 0x100000000 / XLogSegSize

// SegNo returns the WAL segment number containing lsn.
func SegNo(lsn LSN) uint64 {
	return uint64(lsn) / XLogSegSize
}

// SegmentOffset returns the byte offset of lsn within its segment.
func SegmentOffset(lsn LSN) uint32 {
	return uint32(uint64(lsn) % XLogSegSize)
}

// FileName formats the "<8hex-tli><16hex-segno>" WAL segment file name, the
// same scheme as original_source/parsexlog.c's XLogFileName.
func FileName(tli TimeLineID, segno uint64) string {
	xlogid := segno / SegmentsPerXLogID
	seg := segno % SegmentsPerXLogID
	return fmt.Sprintf("%08X%08X%08X", uint32(tli), uint32(xlogid), uint32(seg))
}

// SegNoForLSN is a convenience combining SegNo with FileName.
func SegNoForLSN(tli TimeLineID, lsn LSN) string {
	return FileName(tli, SegNo(lsn))
}

// Package control decodes the fixed-size cluster control file
// (global/pg_control). See SPEC_FULL.md component A.
package control

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
	"github.com/pingcap/errors"

	"github.com/pgtoolkit/pg-rewind-go/internal/xlog"
)

// Size is the fixed on-disk size of a control file buffer. digestControlFile
// in the reference tool rejects any other size outright.
const Size = 8192

// State mirrors pg_control's DBState enum; only the values this tool
// inspects are named.
type State int32

const (
	StateStarting State = iota
	StateShutdownedInRecovery
	StateShutdown
	StateInCrashRecovery
	StateInArchiveRecovery
	StateInProduction
)

// File is the decoded prefix of global/pg_control that pg-rewind-go cares
// about; the real file carries many more fields, but nothing past these is
// read by any §4 component.
type File struct {
	SystemIdentifier uint64
	PgControlVersion uint32
	CatalogVersionNo uint32
	State            State
	Checkpoint       xlog.LSN
	CheckpointTLI    xlog.TimeLineID
	DataChecksumVer  uint32
	WALLogHintBits   bool
}

// layout is the wire order of File's fields in the control buffer. A real
// pg_control has padding and many unrelated fields around these; this
// layout is the minimal shape this tool contracts on (§4.A: "copies the
// prefix into a typed structure").
type layout struct {
	SystemIdentifier uint64
	PgControlVersion uint32
	CatalogVersionNo uint32
	State            int32
	_                int32 // padding to align the following LSN
	Checkpoint       uint64
	CheckpointTLI    uint32
	DataChecksumVer  uint32
	WALLogHintBits   uint32
}

// Read decodes buf into a File. buf must be exactly Size bytes, matching
// digestControlFile's "unexpected control file size" fatal check.
func Read(buf []byte) (*File, error) {
	if len(buf) != Size {
		return nil, errors.Errorf("corrupt control file: got %d bytes, expected %d", len(buf), Size)
	}

	var raw layout
	if err := binary.Read(sliceReader(buf), binary.LittleEndian, &raw); err != nil {
		return nil, errors.Annotate(err, "corrupt control file")
	}

	return &File{
		SystemIdentifier: raw.SystemIdentifier,
		PgControlVersion: raw.PgControlVersion,
		CatalogVersionNo: raw.CatalogVersionNo,
		State:            State(raw.State),
		Checkpoint:       xlog.LSN(raw.Checkpoint),
		CheckpointTLI:    xlog.TimeLineID(raw.CheckpointTLI),
		DataChecksumVer:  raw.DataChecksumVer,
		WALLogHintBits:   raw.WALLogHintBits != 0,
	}, nil
}

// sliceReader adapts a []byte to io.Reader without pulling in bytes.Reader
// just for this one call site — binary.Read only needs Read.
type sliceReaderT struct {
	buf []byte
	pos int
}

func sliceReader(buf []byte) *sliceReaderT { return &sliceReaderT{buf: buf} }

func (r *sliceReaderT) Read(p []byte) (int, error) {
	n := copy(p, r.buf[r.pos:])
	r.pos += n
	return n, nil
}

// Checksum is the §4.A "CRC verification is a design hook" — not enforced
// anywhere in the decode path, only computed and logged when
// Cfg.ChecksumHook == "xxhash" (see internal/orchestrator).
func Checksum(buf []byte) uint64 {
	h := xxhash.New64()
	h.Write(buf)
	return h.Sum64()
}

// SameCluster reports whether two control files describe the same cluster,
// the §3 invariant used by sanity checks.
func SameCluster(a, b *File) bool {
	return a.SystemIdentifier == b.SystemIdentifier
}

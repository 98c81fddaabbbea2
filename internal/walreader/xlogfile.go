// xlogfile.go implements the local, file-backed RecordIterator: it reads
// pg_xlog segments and decodes records against this tool's own minimal WAL
// layout. Like control.layout (internal/control/control.go) and
// relpath's pinned tablespaceVersionDir, this is a deliberately narrowed
// on-disk contract, not byte-compatible with real PostgreSQL WAL: one long
// page header at the start of each segment, then records packed back to
// back, each padded to 8-byte alignment. The original's per-8KB interleaved
// page headers and cross-page record continuation are out of scope (§1:
// the WAL/control-file layout is a library contract here, not a
// reimplementation of the on-disk format).
package walreader

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pingcap/errors"

	"github.com/pgtoolkit/pg-rewind-go/internal/relpath"
	"github.com/pgtoolkit/pg-rewind-go/internal/xlog"
)

const pageHeaderSize = 24
const recordHeaderSize = 24

// rmgrByte is this tool's own resource-manager id encoding, assigned in
// xl_rmid on write. Grounded on original_source/parsexlog.c's RM_*_ID
// switch in extractPageInfo, narrowed to the managers this tool decodes.
type rmgrByte = uint8

const (
	rmXLogID rmgrByte = iota
	rmTransactionID
	rmCLOGID
	rmMultiXactID
	rmStandbyID
	rmHeapID
	rmHeap2ID
	rmBtreeID
	rmSequenceID
)

var rmgrNames = map[rmgrByte]ResourceManager{
	rmXLogID:        RmXLog,
	rmTransactionID: RmTransaction,
	rmCLOGID:        RmCLOG,
	rmMultiXactID:   RmMultiXact,
	rmStandbyID:     RmStandby,
	rmHeapID:        RmHeap,
	rmHeap2ID:       RmHeap2,
	rmBtreeID:       RmBtree,
	rmSequenceID:    RmSequence,
}

const (
	infoCheckpointShutdown uint8 = 0x01
	infoCheckpointOnline   uint8 = 0x02
)

// recordHeader is the wire layout immediately preceding a record's payload.
type recordHeader struct {
	TotalLen uint32
	DataLen  uint32
	Info     uint8
	RmID     uint8
	_        uint16 // alignment padding
	Prev     uint64
}

// Checkpoint is the decoded payload of an XLOG_CHECKPOINT_SHUTDOWN/ONLINE
// record, the target of §4.H.7's backward scan.
type Checkpoint struct {
	ThisTimeLineID xlog.TimeLineID
	Redo           xlog.LSN
}

// CheckpointRecord is implemented by records that may carry a checkpoint
// payload; Checkpoint's second return is false for any non-checkpoint
// record, including non-XLOG-rmgr ones.
type CheckpointRecord interface {
	Checkpoint() (Checkpoint, bool, error)
}

// genericRecord is the concrete Record this package produces.
type genericRecord struct {
	startLSN xlog.LSN
	prev     xlog.LSN
	totalLen uint32
	rmID     rmgrByte
	info     uint8
	data     []byte
}

func (r *genericRecord) StartLSN() xlog.LSN { return r.startLSN }

func (r *genericRecord) ResourceManager() ResourceManager {
	if rm, ok := rmgrNames[r.rmID]; ok {
		return rm
	}
	return ResourceManager("unknown")
}

// End returns the LSN immediately following this record, 8-byte aligned.
func (r *genericRecord) End() xlog.LSN {
	return r.startLSN + xlog.LSN(align8(int(r.totalLen)))
}

func (r *genericRecord) Prev() xlog.LSN { return r.prev }

// BlockRefs decodes the block references out of this record's payload.
// Heap, Heap2, Btree and Sequence records carry one RelFileNode+BlockNumber
// pair; anything else reaching here is a decode error, matching the
// original's strict "unrecognized record type" abort.
func (r *genericRecord) BlockRefs() ([]BlockRef, error) {
	switch r.rmID {
	case rmHeapID, rmHeap2ID, rmBtreeID, rmSequenceID:
		if len(r.data) < 16 {
			return nil, errors.Errorf("truncated relation-bearing record payload (%d bytes)", len(r.data))
		}
		rnode := relpath.RelFileNode{
			Tablespace: binary.LittleEndian.Uint32(r.data[0:4]),
			Database:   binary.LittleEndian.Uint32(r.data[4:8]),
			RelNode:    binary.LittleEndian.Uint32(r.data[8:12]),
		}
		blk := binary.LittleEndian.Uint32(r.data[12:16])
		return []BlockRef{{RelNode: rnode, Fork: relpath.Main, Block: blk}}, nil
	default:
		return nil, errors.Errorf("unrecognized resource manager id %d for relation-bearing record", r.rmID)
	}
}

// Checkpoint decodes this record as a checkpoint if it is XLOG-rmgr and
// carries the shutdown/online info bit; ok is false otherwise.
func (r *genericRecord) Checkpoint() (Checkpoint, bool, error) {
	if r.rmID != rmXLogID || (r.info != infoCheckpointShutdown && r.info != infoCheckpointOnline) {
		return Checkpoint{}, false, nil
	}
	if len(r.data) < 12 {
		return Checkpoint{}, false, errors.Errorf("truncated checkpoint record payload (%d bytes)", len(r.data))
	}
	return Checkpoint{
		ThisTimeLineID: xlog.TimeLineID(binary.LittleEndian.Uint32(r.data[0:4])),
		Redo:           xlog.LSN(binary.LittleEndian.Uint64(r.data[4:12])),
	}, true, nil
}

func align8(n int) int {
	return (n + 7) &^ 7
}

// loadSegment reads one WAL segment whole. Segment files written by this
// tool are exactly as long as their meaningfully-written records (no
// zero-padding to XLogSegSize), so physical EOF mid-segment also means "no
// more records in this segment".
func loadSegment(dataDir string, tli xlog.TimeLineID, segNo uint64) ([]byte, error) {
	path := filepath.Join(dataDir, "pg_xlog", xlog.FileName(tli, segNo))
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, io.EOF
		}
		return nil, errors.Annotatef(err, "reading WAL segment %q", path)
	}
	return buf, nil
}

// readRecordAt decodes the single record starting at lsn.
func readRecordAt(dataDir string, tli xlog.TimeLineID, lsn xlog.LSN) (*genericRecord, error) {
	segNo := xlog.SegNo(lsn)
	buf, err := loadSegment(dataDir, tli, segNo)
	if err != nil {
		return nil, err
	}

	offset := int(xlog.SegmentOffset(lsn))
	if offset+recordHeaderSize > len(buf) {
		return nil, io.EOF
	}

	var hdr recordHeader
	hdr.TotalLen = binary.LittleEndian.Uint32(buf[offset : offset+4])
	hdr.DataLen = binary.LittleEndian.Uint32(buf[offset+4 : offset+8])
	hdr.Info = buf[offset+8]
	hdr.RmID = buf[offset+9]
	hdr.Prev = binary.LittleEndian.Uint64(buf[offset+16 : offset+24])

	if hdr.TotalLen == 0 {
		return nil, io.EOF
	}

	dataStart := offset + recordHeaderSize
	dataEnd := dataStart + int(hdr.DataLen)
	if dataEnd > len(buf) {
		return nil, errors.Errorf("truncated WAL record at %s: want %d data bytes, have %d", lsn, hdr.DataLen, len(buf)-dataStart)
	}

	return &genericRecord{
		startLSN: lsn,
		prev:     xlog.LSN(hdr.Prev),
		totalLen: hdr.TotalLen,
		rmID:     hdr.RmID,
		info:     hdr.Info,
		data:     buf[dataStart:dataEnd],
	}, nil
}

// LocalFileIterator is the RecordIterator backing a local data directory:
// it decodes successive records from pg_xlog, starting at Start.
type LocalFileIterator struct {
	DataDir string
	TLI     xlog.TimeLineID

	next xlog.LSN
}

// NewLocalFileIterator constructs an iterator that yields records starting
// at start (inclusive) on timeline tli.
func NewLocalFileIterator(dataDir string, tli xlog.TimeLineID, start xlog.LSN) *LocalFileIterator {
	return &LocalFileIterator{DataDir: dataDir, TLI: tli, next: start}
}

func (it *LocalFileIterator) Next(ctx context.Context) (Record, error) {
	rec, err := readRecordAt(it.DataDir, it.TLI, it.next)
	if err != nil {
		return nil, err
	}
	it.next = rec.End()
	return rec, nil
}

// ReadOneRecord reads the single record starting at lsn, without advancing
// any iterator state. Grounded on original_source/parsexlog.c's
// readOneRecord.
func ReadOneRecord(dataDir string, tli xlog.TimeLineID, lsn xlog.LSN) (Record, error) {
	rec, err := readRecordAt(dataDir, tli, lsn)
	if err != nil {
		return nil, errors.Annotatef(err, "reading WAL record at %s", lsn)
	}
	return rec, nil
}

// FindLastCheckpoint walks backwards from forkptr via each record's Prev
// pointer until it finds an XLOG-rmgr checkpoint record, returning its
// start LSN plus the decoded checkpoint's timeline and redo LSN. Grounded
// on original_source/parsexlog.c's findLastCheckpoint.
func FindLastCheckpoint(dataDir string, tli xlog.TimeLineID, forkptr xlog.LSN) (chkptRec xlog.LSN, chkptTLI xlog.TimeLineID, chkptRedo xlog.LSN, err error) {
	searchptr := forkptr
	if xlog.SegmentOffset(searchptr) == 0 {
		searchptr += xlog.LSN(pageHeaderSize)
	}

	for {
		rec, err := readRecordAt(dataDir, tli, searchptr)
		if err != nil {
			return 0, 0, 0, errors.Annotatef(err, "scanning backward for last checkpoint from %s", forkptr)
		}

		if searchptr < forkptr {
			if cp, ok, err := rec.Checkpoint(); err != nil {
				return 0, 0, 0, err
			} else if ok {
				return searchptr, cp.ThisTimeLineID, cp.Redo, nil
			}
		}

		if rec.Prev() == xlog.InvalidLSN {
			return 0, 0, 0, errors.Errorf("no checkpoint record found scanning backward from %s", forkptr)
		}
		searchptr = rec.Prev()
	}
}

package walreader

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgtoolkit/pg-rewind-go/internal/relpath"
	"github.com/pgtoolkit/pg-rewind-go/internal/xlog"
)

type fakeRecord struct {
	lsn   xlog.LSN
	rm    ResourceManager
	refs  []BlockRef
	decErr error
}

func (r fakeRecord) StartLSN() xlog.LSN                { return r.lsn }
func (r fakeRecord) ResourceManager() ResourceManager  { return r.rm }
func (r fakeRecord) BlockRefs() ([]BlockRef, error)     { return r.refs, r.decErr }

type fakeIterator struct {
	records []Record
	pos     int
}

func (it *fakeIterator) Next(ctx context.Context) (Record, error) {
	if it.pos >= len(it.records) {
		return nil, io.EOF
	}
	rec := it.records[it.pos]
	it.pos++
	return rec, nil
}

func blockRef(dbOid, relOid, blk uint32) BlockRef {
	return BlockRef{RelNode: relpath.RelFileNode{Database: dbOid, RelNode: relOid}, Fork: relpath.Main, Block: blk}
}

func TestDriverCollectsRelationBlocks(t *testing.T) {
	it := &fakeIterator{records: []Record{
		fakeRecord{lsn: 10, rm: RmHeap, refs: []BlockRef{blockRef(1, 16384, 0)}},
		fakeRecord{lsn: 20, rm: RmBtree, refs: []BlockRef{blockRef(1, 16384, 1)}},
		fakeRecord{lsn: 30, rm: RmHeap2, refs: []BlockRef{blockRef(1, 16385, 5)}},
	}}

	var got []BlockRef
	d := &Driver{Iterator: it, EndLSN: 1000, Sink: func(ref BlockRef) error {
		got = append(got, ref)
		return nil
	}}
	require.NoError(t, d.Run(context.Background()))
	assert.Len(t, got, 3)
	assert.Equal(t, blockRef(1, 16384, 0), got[0])
	assert.Equal(t, blockRef(1, 16385, 5), got[2])
}

func TestDriverSkipsNonRelationalManagers(t *testing.T) {
	it := &fakeIterator{records: []Record{
		fakeRecord{lsn: 10, rm: RmXLog, refs: []BlockRef{blockRef(1, 1, 1)}},
		fakeRecord{lsn: 20, rm: RmTransaction, refs: []BlockRef{blockRef(1, 1, 1)}},
		fakeRecord{lsn: 30, rm: RmCLOG, refs: []BlockRef{blockRef(1, 1, 1)}},
		fakeRecord{lsn: 40, rm: RmMultiXact, refs: []BlockRef{blockRef(1, 1, 1)}},
		fakeRecord{lsn: 50, rm: RmStandby, refs: []BlockRef{blockRef(1, 1, 1)}},
		fakeRecord{lsn: 60, rm: RmHeap, refs: []BlockRef{blockRef(1, 2, 2)}},
	}}

	var got []BlockRef
	d := &Driver{Iterator: it, EndLSN: 1000, Sink: func(ref BlockRef) error {
		got = append(got, ref)
		return nil
	}}
	require.NoError(t, d.Run(context.Background()))
	require.Len(t, got, 1)
	assert.Equal(t, blockRef(1, 2, 2), got[0])
}

func TestDriverStopsAtEndLSN(t *testing.T) {
	it := &fakeIterator{records: []Record{
		fakeRecord{lsn: 10, rm: RmHeap, refs: []BlockRef{blockRef(1, 1, 0)}},
		fakeRecord{lsn: 100, rm: RmHeap, refs: []BlockRef{blockRef(1, 1, 1)}},
		fakeRecord{lsn: 200, rm: RmHeap, refs: []BlockRef{blockRef(1, 1, 2)}},
	}}

	var got []BlockRef
	d := &Driver{Iterator: it, EndLSN: 100, Sink: func(ref BlockRef) error {
		got = append(got, ref)
		return nil
	}}
	require.NoError(t, d.Run(context.Background()))
	assert.Len(t, got, 1, "the record starting at end-LSN itself must not be applied")
}

func TestDriverFailsFatalOnDecodeError(t *testing.T) {
	it := &fakeIterator{records: []Record{
		fakeRecord{lsn: 10, rm: RmHeap, decErr: assert.AnError},
	}}

	called := false
	d := &Driver{Iterator: it, EndLSN: 1000, Sink: func(ref BlockRef) error {
		called = true
		return nil
	}}
	err := d.Run(context.Background())
	require.Error(t, err)
	assert.False(t, called, "no block may be reported once a decode error occurs")
}

func TestDriverStopsOnEOF(t *testing.T) {
	it := &fakeIterator{records: nil}
	d := &Driver{Iterator: it, EndLSN: 1000, Sink: func(ref BlockRef) error { return nil }}
	require.NoError(t, d.Run(context.Background()))
}

// Package walreader drives a WAL record iterator across a single timeline,
// extracting the referenced-block footprint of every relation-bearing
// record. See SPEC_FULL.md component D.
package walreader

import (
	"context"
	"io"

	"github.com/pingcap/errors"

	"github.com/pgtoolkit/pg-rewind-go/internal/relpath"
	"github.com/pgtoolkit/pg-rewind-go/internal/xlog"
)

// ResourceManager names the record's owning subsystem. Only relation-
// bearing managers carry block references; the rest are enumerated in
// nonRelational below (§4.D).
type ResourceManager string

const (
	RmHeap        ResourceManager = "Heap"
	RmHeap2       ResourceManager = "Heap2"
	RmBtree       ResourceManager = "Btree"
	RmGin         ResourceManager = "Gin"
	RmGist        ResourceManager = "Gist"
	RmSequence    ResourceManager = "Sequence"
	RmSPGist      ResourceManager = "SPGist"
	RmBrin        ResourceManager = "Brin"
	RmXLog        ResourceManager = "XLOG"
	RmTransaction ResourceManager = "Transaction"
	RmCLOG        ResourceManager = "CLOG"
	RmMultiXact   ResourceManager = "MultiXact"
	RmStandby     ResourceManager = "Standby"
)

var nonRelational = map[ResourceManager]bool{
	RmXLog:        true,
	RmTransaction: true,
	RmCLOG:        true,
	RmMultiXact:   true,
	RmStandby:     true,
}

// BlockRef is one (fork, relation, block number) triple a record touched.
type BlockRef struct {
	RelNode relpath.RelFileNode
	Fork    relpath.Fork
	Block   uint32
}

// Record is a single decoded WAL record. BlockRefs is only meaningful when
// ResourceManager is not one of the non-relational classes; the driver
// never calls it otherwise.
type Record interface {
	StartLSN() xlog.LSN
	ResourceManager() ResourceManager
	BlockRefs() ([]BlockRef, error)
}

// RecordIterator is the external collaborator the driver reads from: "give
// me the next record starting at or after L on timeline T, reading
// segments from dataDir/pg_xlog" (§4.D). Next returns (nil, io.EOF) at the
// end of available WAL.
type RecordIterator interface {
	Next(ctx context.Context) (Record, error)
}

// Sink receives one callback per referenced block, in the order the driver
// encounters them.
type Sink func(ref BlockRef) error

// Driver reads records from an Iterator until it reaches EndLSN or the
// iterator is exhausted, reporting every relation block reference to Sink.
// It never applies records itself; it only extracts the write footprint.
type Driver struct {
	Iterator RecordIterator
	EndLSN   xlog.LSN
	Sink     Sink
}

// Run executes the stopping rule of §4.D: stop after reading a record whose
// start LSN is >= EndLSN, or on iterator EOF. Any decode error is fatal —
// the caller must discard whatever page map was being built, never use a
// partial one.
func (d *Driver) Run(ctx context.Context) error {
	for {
		rec, err := d.Iterator.Next(ctx)
		if err != nil {
			if errors.Cause(err) == io.EOF {
				return nil
			}
			return errors.Annotate(err, "reading WAL record")
		}
		if rec == nil {
			return nil
		}

		if rec.StartLSN() >= d.EndLSN {
			return nil
		}

		if nonRelational[rec.ResourceManager()] {
			continue
		}

		refs, err := rec.BlockRefs()
		if err != nil {
			return errors.Annotatef(err, "decoding block references at %s", rec.StartLSN())
		}
		for _, ref := range refs {
			if err := d.Sink(ref); err != nil {
				return errors.Annotatef(err, "reporting block reference %+v", ref)
			}
		}
	}
}

// IsEOF reports whether err is (or wraps, via pingcap/errors.Annotate) the
// standard io.EOF sentinel a RecordIterator returns on exhaustion.
func IsEOF(err error) bool {
	return err != nil && errors.Cause(err) == io.EOF
}

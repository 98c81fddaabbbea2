package relpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegmentPathGlobal(t *testing.T) {
	p := SegmentPath(RelFileNode{RelNode: 1262}, Main, 0)
	assert.Equal(t, "global/1262", p)
}

func TestSegmentPathBaseWithSegment(t *testing.T) {
	p := SegmentPath(RelFileNode{Database: 16384, RelNode: 16401}, Main, 2)
	assert.Equal(t, "base/16384/16401.2", p)
}

func TestSegmentPathForkSuffix(t *testing.T) {
	p := SegmentPath(RelFileNode{Database: 1, RelNode: 100}, FSM, 0)
	assert.Equal(t, "base/1/100_fsm", p)

	p = SegmentPath(RelFileNode{Database: 1, RelNode: 100}, VM, 1)
	assert.Equal(t, "base/1/100_vm.1", p)
}

func TestSegmentPathTablespace(t *testing.T) {
	p := SegmentPath(RelFileNode{Tablespace: 16400, Database: 16384, RelNode: 16401}, Main, 0)
	assert.Equal(t, "pg_tblspc/16400/"+tablespaceVersionDir+"/16384/16401", p)
}

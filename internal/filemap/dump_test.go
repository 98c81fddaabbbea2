package filemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDumpRendersPathActionAndBlocks(t *testing.T) {
	e := &Entry{Path: "base/1/16384", Action: ActionCopyTail, OldSize: 3, NewSize: 9}
	e.PageMap.Add(0)
	e.PageMap.Add(3)

	out := Dump([]*Entry{e})
	assert.Contains(t, out, "base/1/16384")
	assert.Contains(t, out, "copy-tail")
}

func TestDumpHandlesEmptyFileMap(t *testing.T) {
	assert.NotPanics(t, func() { Dump(nil) })
}

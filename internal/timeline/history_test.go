package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgtoolkit/pg-rewind-go/internal/xlog"
)

func TestParseHistoryChain(t *testing.T) {
	data := []byte(`
# comment line, ignored
1	0/2000000	no recovery target specified

2	0/3000000	no recovery target specified
`)
	entries, err := Parse(data, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, xlog.TimeLineID(1), entries[0].TLI)
	assert.Equal(t, xlog.InvalidLSN, entries[0].Begin)
	assert.EqualValues(t, 0x2000000, entries[0].End)

	assert.Equal(t, xlog.TimeLineID(2), entries[1].TLI)
	assert.EqualValues(t, 0x2000000, entries[1].Begin)
	assert.EqualValues(t, 0x3000000, entries[1].End)

	last := entries[2]
	assert.Equal(t, xlog.TimeLineID(3), last.TLI)
	assert.EqualValues(t, 0x3000000, last.Begin)
	assert.Equal(t, xlog.InvalidLSN, last.End)
}

func TestParseRejectsMalformedLine(t *testing.T) {
	_, err := Parse([]byte("garbage-line-with-no-tab\n"), 2)
	require.Error(t, err)
}

func TestSyntheticHistoryForTimelineOne(t *testing.T) {
	entries := Synthetic()
	require.Len(t, entries, 1)
	assert.Equal(t, xlog.TimeLineID(1), entries[0].TLI)
	assert.Equal(t, xlog.InvalidLSN, entries[0].Begin)
	assert.Equal(t, xlog.InvalidLSN, entries[0].End)
}

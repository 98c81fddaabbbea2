package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalJSONRoundTrips(t *testing.T) {
	buf := encodeFixture(t, layout{
		SystemIdentifier: 0xCAFE,
		PgControlVersion: 1300,
		CatalogVersionNo: 202107181,
		State:            int32(StateInProduction),
		Checkpoint:       0x1A00000,
		CheckpointTLI:    3,
		DataChecksumVer:  1,
		WALLogHintBits:   1,
	})
	cf, err := Read(buf)
	require.NoError(t, err)

	js, err := cf.MarshalJSON()
	require.NoError(t, err)

	var got File
	require.NoError(t, got.UnmarshalJSON(js))
	assert.Equal(t, *cf, got)
}

func TestDumpVerboseContainsFieldNames(t *testing.T) {
	cf := &File{SystemIdentifier: 42, CheckpointTLI: 1, State: StateShutdown}
	out, err := DumpVerbose(cf)
	require.NoError(t, err)
	assert.Contains(t, out, `"system_identifier":42`)
	assert.Contains(t, out, `"checkpoint_tli":1`)
}

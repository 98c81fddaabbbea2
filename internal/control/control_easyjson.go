package control

// Hand-authored in the shape easyjson's generator would produce (the
// generator itself isn't run here) for the --verbose control-file dump:
// a MarshalEasyJSON/UnmarshalEasyJSON pair wired through the package's
// jwriter/jlexer buffers rather than encoding/json's reflection-based
// codec.

import (
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"

	"github.com/pgtoolkit/pg-rewind-go/internal/xlog"
)

// MarshalEasyJSON implements easyjson.Marshaler.
func (f *File) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	w.RawString(`"system_identifier":`)
	w.Uint64(f.SystemIdentifier)
	w.RawString(`,"pg_control_version":`)
	w.Uint32(f.PgControlVersion)
	w.RawString(`,"catalog_version_no":`)
	w.Uint32(f.CatalogVersionNo)
	w.RawString(`,"state":`)
	w.Int32(int32(f.State))
	w.RawString(`,"checkpoint":`)
	w.String(f.Checkpoint.String())
	w.RawString(`,"checkpoint_tli":`)
	w.Uint32(uint32(f.CheckpointTLI))
	w.RawString(`,"data_checksum_version":`)
	w.Uint32(f.DataChecksumVer)
	w.RawString(`,"wal_log_hints":`)
	w.Bool(f.WALLogHintBits)
	w.RawByte('}')
}

// UnmarshalEasyJSON implements easyjson.Unmarshaler.
func (f *File) UnmarshalEasyJSON(l *jlexer.Lexer) {
	l.Delim('{')
	for !l.IsDelim('}') {
		key := l.UnsafeFieldName(false)
		l.WantColon()
		if l.IsNull() {
			l.Skip()
			l.WantComma()
			continue
		}
		switch key {
		case "system_identifier":
			f.SystemIdentifier = l.Uint64()
		case "pg_control_version":
			f.PgControlVersion = l.Uint32()
		case "catalog_version_no":
			f.CatalogVersionNo = l.Uint32()
		case "state":
			f.State = State(l.Int32())
		case "checkpoint":
			lsn, err := xlog.ParseLSN(l.String())
			if err != nil {
				l.AddError(err)
			}
			f.Checkpoint = lsn
		case "checkpoint_tli":
			f.CheckpointTLI = xlog.TimeLineID(l.Uint32())
		case "data_checksum_version":
			f.DataChecksumVer = l.Uint32()
		case "wal_log_hints":
			f.WALLogHintBits = l.Bool()
		default:
			l.SkipRecursive()
		}
		l.WantComma()
	}
	l.Delim('}')
}

// MarshalJSON and UnmarshalJSON satisfy encoding/json.Marshaler so a File
// still drops into anything expecting the standard interfaces, while the
// verbose dump path below calls the EasyJSON methods directly and skips
// the reflection fallback.
func (f *File) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	f.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

func (f *File) UnmarshalJSON(data []byte) error {
	l := jlexer.Lexer{Data: data}
	f.UnmarshalEasyJSON(&l)
	return l.Error()
}

var _ easyjson.Marshaler = (*File)(nil)
var _ easyjson.Unmarshaler = (*File)(nil)

// DumpVerbose renders f as the compact, single-line JSON the CLI's -v flag prints,
// the easyjson-backed replacement for the reference tool's plain-text
// control file summary.
func DumpVerbose(f *File) (string, error) {
	w := jwriter.Writer{}
	f.MarshalEasyJSON(&w)
	if w.Error != nil {
		return "", w.Error
	}
	return string(w.Buffer.BuildBytes()), nil
}

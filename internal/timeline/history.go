// Package timeline parses ".history" files into an ordered ancestry chain.
// See SPEC_FULL.md component B.
package timeline

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/pingcap/errors"

	"github.com/pgtoolkit/pg-rewind-go/internal/xlog"
)

// Entry is one link in a timeline's ancestry: tli started at Begin (LSN
// where the parent timeline ended) and ran until End (0 means "still
// current", only valid for the last entry of the chain).
type Entry struct {
	TLI   xlog.TimeLineID
	Begin xlog.LSN
	End   xlog.LSN
}

// Parse decodes a ".history" file's contents into an ordered ancestry
// ending at (target, lastSwitch, 0). Lines are "<tli>\t<switch-LSN>\t<comment>";
// blank lines and '#' comments are ignored.
func Parse(buf []byte, target xlog.TimeLineID) ([]Entry, error) {
	var entries []Entry
	prevSwitch := xlog.InvalidLSN

	scanner := bufio.NewScanner(strings.NewReader(string(buf)))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, errors.Errorf("bad history file: malformed line %d: %q", lineNo, line)
		}

		tli, err := parseTLI(fields[0])
		if err != nil {
			return nil, errors.Annotatef(err, "bad history file: line %d", lineNo)
		}
		lsn, err := xlog.ParseLSN(fields[1])
		if err != nil {
			return nil, errors.Annotatef(err, "bad history file: line %d", lineNo)
		}

		// This line says timeline `tli` ran from the previous switch point
		// up to `lsn`, where the next timeline in the chain took over.
		entries = append(entries, Entry{TLI: tli, Begin: prevSwitch, End: lsn})
		prevSwitch = lsn
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Annotate(err, "bad history file")
	}

	entries = append(entries, Entry{TLI: target, Begin: prevSwitch, End: 0})
	return entries, nil
}

func parseTLI(s string) (xlog.TimeLineID, error) {
	tli, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Errorf("invalid timeline id %q", s)
	}
	return xlog.TimeLineID(tli), nil
}

// Synthetic returns the single-entry history used when the source cluster
// is on timeline 1, which has no history file (§3, §4.B, §8 boundary case).
func Synthetic() []Entry {
	return []Entry{{TLI: 1, Begin: xlog.InvalidLSN, End: xlog.InvalidLSN}}
}

package filemap

import "github.com/k0kubun/pp"

// actionNames gives Dump's output the same words §3 and §6 use, instead of
// Action's bare int value.
var actionNames = map[Action]string{
	ActionNone:      "none",
	ActionCopyWhole: "copy-whole",
	ActionCopyTail:  "copy-tail",
	ActionTruncate:  "truncate",
	ActionCreate:    "create",
	ActionRemove:    "remove",
}

// dumpEntry is Entry reshaped for pp's field-per-line rendering; PageMap's
// internal representation is flattened to the block list it covers.
type dumpEntry struct {
	Path    string
	Action  string
	OldSize int64
	NewSize int64
	Blocks  []uint32
}

// Dump renders the finalized file map the way -v prints it, replacing the
// reference tool's print_filemap with pp's colorized struct dump.
func Dump(entries []*Entry) string {
	rows := make([]dumpEntry, len(entries))
	for i, e := range entries {
		var blocks []uint32
		it := e.PageMap.Iterate()
		for {
			blk, ok := it.Next()
			if !ok {
				break
			}
			blocks = append(blocks, blk)
		}
		rows[i] = dumpEntry{
			Path:    e.Path,
			Action:  actionNames[e.Action],
			OldSize: e.OldSize,
			NewSize: e.NewSize,
			Blocks:  blocks,
		}
	}
	return pp.Sprint(rows)
}

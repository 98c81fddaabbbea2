// Package orchestrator composes components A through G into the end-to-end
// rewind operation described by SPEC_FULL.md component H.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"

	"github.com/pgtoolkit/pg-rewind-go/internal/config"
	"github.com/pgtoolkit/pg-rewind-go/internal/control"
	"github.com/pgtoolkit/pg-rewind-go/internal/executor"
	"github.com/pgtoolkit/pg-rewind-go/internal/filemap"
	"github.com/pgtoolkit/pg-rewind-go/internal/inventory"
	"github.com/pgtoolkit/pg-rewind-go/internal/timeline"
	"github.com/pgtoolkit/pg-rewind-go/internal/walreader"
	"github.com/pgtoolkit/pg-rewind-go/internal/xlog"
	"github.com/pgtoolkit/pg-rewind-go/logger"
)

// Result reports what Run decided, for the CLI's exit-code and messaging.
type Result struct {
	RewindPerformed bool
}

// Run executes §4.H's eleven steps against cfg, which must already be
// Validate()d.
func Run(ctx context.Context, cfg *config.Cfg) (*Result, error) {
	source, cleanup, err := openSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	logger.Infof("reading control files")
	target, src, err := readControlFiles(ctx, cfg, source)
	if err != nil {
		return nil, err
	}

	if err := sanityCheck(target, src); err != nil {
		return nil, err
	}

	logger.Infof("determining divergence")
	divergence, err := determineDivergence(ctx, source, target, src)
	if err != nil {
		return nil, err
	}

	needed, err := rewindNeeded(cfg, target, divergence)
	if err != nil {
		return nil, err
	}
	if !needed {
		logger.Infof("target is already up to date with the source's divergence point, no rewind required")
		return &Result{RewindPerformed: false}, nil
	}

	chkptRec, chkptTLI, chkptRedo, err := walreader.FindLastCheckpoint(cfg.TargetDir, target.CheckpointTLI, divergence)
	if err != nil {
		return nil, errors.Annotate(err, "locating last common checkpoint")
	}

	logger.Infof("building file map")
	entries, err := buildFileMap(ctx, cfg, source, chkptRec, chkptTLI, divergence)
	if err != nil {
		return nil, err
	}
	if cfg.Verbose {
		logger.Debugf("file map:\n%s", filemap.Dump(entries))
	}

	logger.Infof("executing file map")
	exec := executor.New(cfg.TargetDir, source, cfg.PageSize, cfg.DryRun)
	if err := exec.Execute(ctx, entries); err != nil {
		return nil, errors.Annotate(err, "executing file map")
	}

	logger.Infof("writing backup label")
	if err := writeBackupLabel(cfg, chkptRec, chkptRedo, chkptTLI); err != nil {
		return nil, err
	}

	return &Result{RewindPerformed: true}, nil
}

// openSource connects to the source cluster (remote or local) per §4.H.1-2,
// returning a cleanup func that disconnects/drops the helper schema on
// every exit path.
func openSource(ctx context.Context, cfg *config.Cfg) (inventory.Source, func(), error) {
	if cfg.SourceConn != "" {
		rs, err := inventory.Open(ctx, cfg.SourceConn, os.Getpid())
		if err != nil {
			return nil, nil, errors.Annotate(err, "connecting to source server")
		}
		return rs, func() {
			if err := rs.Close(ctx); err != nil {
				logger.Warnf("closing remote source: %v", err)
			}
		}, nil
	}
	return inventory.NewLocalSource(cfg.SourceDir), func() {}, nil
}

func readControlFiles(ctx context.Context, cfg *config.Cfg, source inventory.Source) (target, src *control.File, err error) {
	targetBuf, err := os.ReadFile(filepath.Join(cfg.TargetDir, "global", "pg_control"))
	if err != nil {
		return nil, nil, errors.Annotate(err, "reading target control file")
	}
	target, err = control.Read(targetBuf)
	if err != nil {
		return nil, nil, errors.Annotate(err, "decoding target control file")
	}

	srcBuf, err := source.FetchFile(ctx, "global/pg_control")
	if err != nil {
		return nil, nil, errors.Annotate(err, "fetching source control file")
	}
	src, err = control.Read(srcBuf)
	if err != nil {
		return nil, nil, errors.Annotate(err, "decoding source control file")
	}

	if cfg.ChecksumHook == "xxhash" {
		logger.Debugf("target control file checksum: %x", control.Checksum(targetBuf))
		logger.Debugf("source control file checksum: %x", control.Checksum(srcBuf))
	}

	return target, src, nil
}

// sanityCheck enforces §4.H.4.
func sanityCheck(target, src *control.File) error {
	if !control.SameCluster(target, src) {
		return errors.Errorf("sanity: target and source do not belong to the same cluster (system identifiers differ: %d vs %d)",
			target.SystemIdentifier, src.SystemIdentifier)
	}
	if target.PgControlVersion != src.PgControlVersion || target.CatalogVersionNo != src.CatalogVersionNo {
		return errors.Errorf("sanity: incompatible control/catalog versions between target and source")
	}
	if target.DataChecksumVer == 0 && !target.WALLogHintBits {
		return errors.Errorf("sanity: target must use data checksums or have wal_log_hints enabled")
	}
	if target.State != control.StateShutdown {
		return errors.Errorf("sanity: target is not cleanly shut down (state=%v)", target.State)
	}
	if target.CheckpointTLI == src.CheckpointTLI {
		return errors.Errorf("sanity: target and source are on the same timeline, nothing to rewind")
	}
	return nil
}

// determineDivergence runs §4.H.5: fetch the source's timeline history,
// walk it newest-to-oldest until an entry's timeline matches the target's
// current one, and return that entry's End LSN.
func determineDivergence(ctx context.Context, source inventory.Source, target, src *control.File) (xlog.LSN, error) {
	var entries []timeline.Entry
	if src.CheckpointTLI == 1 {
		entries = timeline.Synthetic()
	} else {
		histName := fmt.Sprintf("pg_xlog/%08X.history", uint32(src.CheckpointTLI))
		buf, err := source.FetchFile(ctx, histName)
		if err != nil {
			return xlog.InvalidLSN, errors.Annotatef(err, "fetching source timeline history %q", histName)
		}
		entries, err = timeline.Parse(buf, src.CheckpointTLI)
		if err != nil {
			return xlog.InvalidLSN, errors.Annotate(err, "parsing source timeline history")
		}
	}

	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].TLI == target.CheckpointTLI {
			return entries[i].End, nil
		}
	}
	return xlog.InvalidLSN, errors.Errorf("sanity: no common timeline ancestry found between target (tli=%d) and source", target.CheckpointTLI)
}

// rewindNeeded implements §4.H.6.
func rewindNeeded(cfg *config.Cfg, target *control.File, divergence xlog.LSN) (bool, error) {
	if target.Checkpoint >= divergence {
		return true, nil
	}
	rec, err := walreader.ReadOneRecord(cfg.TargetDir, target.CheckpointTLI, target.Checkpoint)
	if err != nil {
		return false, errors.Annotate(err, "reading target's checkpoint record")
	}
	if gr, ok := rec.(interface{ End() xlog.LSN }); ok && gr.End() == divergence {
		return false, nil
	}
	return true, nil
}

// buildFileMap implements §4.H.8: list source, traverse target locally,
// replay the WAL range from the last common checkpoint up to divergence,
// and finalize.
func buildFileMap(ctx context.Context, cfg *config.Cfg, source inventory.Source, chkptRec xlog.LSN, chkptTLI xlog.TimeLineID, divergence xlog.LSN) ([]*filemap.Entry, error) {
	m := filemap.New(cfg.TargetDir)

	remoteEntries, err := source.List(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "listing source cluster directory")
	}
	for _, e := range remoteEntries {
		if err := m.ProcessRemote(e.Path, e.Type, e.Size, e.LinkTarget); err != nil {
			return nil, errors.Annotatef(err, "processing source entry %q", e.Path)
		}
	}

	localEntries, err := inventory.NewLocalSource(cfg.TargetDir).List(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "listing target data directory")
	}
	for _, e := range localEntries {
		if err := m.ProcessLocal(e.Path, e.Type, e.Size, e.LinkTarget); err != nil {
			return nil, errors.Annotatef(err, "processing target entry %q", e.Path)
		}
	}

	driver := &walreader.Driver{
		Iterator: walreader.NewLocalFileIterator(cfg.TargetDir, chkptTLI, chkptRec),
		EndLSN:   divergence,
		Sink: func(ref walreader.BlockRef) error {
			return m.ProcessBlock(ref.RelNode, ref.Fork, ref.Block, uint32(cfg.RelsegSize), cfg.PageSize)
		},
	}
	if err := driver.Run(ctx); err != nil {
		return nil, errors.Annotate(err, "replaying target WAL up to divergence point")
	}

	return m.Finalize(), nil
}

// writeBackupLabel implements §4.H.10 and the fsync supplement (§9 /
// SPEC_FULL.md supplemented feature 4): fsync the backup_label and the
// target's global/pg_control after write.
func writeBackupLabel(cfg *config.Cfg, chkptRec xlog.LSN, chkptRedo xlog.LSN, tli xlog.TimeLineID) error {
	walFileName := xlog.FileName(tli, xlog.SegNo(chkptRedo))
	content := fmt.Sprintf(
		"START WAL LOCATION: %s (file %s)\n"+
			"CHECKPOINT LOCATION: %s\n"+
			"BACKUP METHOD: rewound with pg_rewind\n"+
			"BACKUP FROM: master\n"+
			"START TIME: %s\n",
		chkptRedo, walFileName, chkptRec, time.Now().Format("2006-01-02 15:04:05 MST"))

	if cfg.DryRun {
		return nil
	}

	path := filepath.Join(cfg.TargetDir, "backup_label")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return errors.Annotate(err, "writing backup_label")
	}
	if err := fsyncFile(path); err != nil {
		return err
	}
	// TODO(§9 Open Questions): a full-tree fsync pass is documented as
	// future work, not specified; only backup_label and pg_control are
	// synced here, matching the original's narrower behavior.
	return fsyncFile(filepath.Join(cfg.TargetDir, "global", "pg_control"))
}

func fsyncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return errors.Annotatef(err, "opening %q for fsync", path)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return errors.Annotatef(err, "fsyncing %q", path)
	}
	return nil
}

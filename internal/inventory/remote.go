package inventory

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"

	"github.com/pgtoolkit/pg-rewind-go/logger"
)

// RemoteSource is the live-source back-end: a database/sql connection
// (driver wired via go-sql-driver/mysql, DSN built the same way as
// client/main.go's MySQLClient.Connect) standing in for the spec's
// abstract "database wire protocol" (§4.E, §6). Open creates a dedicated
// schema holding the fetch_plan table, and Close drops it. The server-side
// routines the queries below call (ls_dir_recursive, read_binary_file) are
// not created by this package; they must already exist in that schema.
type RemoteSource struct {
	db     *sql.DB
	schema string
}

// Open connects to dsn, enforces the source-server preconditions (§4.E),
// and installs the helper schema.
func Open(ctx context.Context, dsn string, pid int) (*RemoteSource, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Annotate(err, "opening connection to source server")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Annotate(err, "connecting to source server")
	}

	rs := &RemoteSource{db: db, schema: fmt.Sprintf("pgrewind_tmp_%d", pid)}

	if err := rs.checkPreconditions(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := rs.installHelperSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return rs, nil
}

// checkPreconditions enforces: not in recovery, full-page-writes enabled,
// synchronous_commit disabled for this session (§4.E bullets).
func (r *RemoteSource) checkPreconditions(ctx context.Context) error {
	var inRecovery int
	if err := r.db.QueryRowContext(ctx, "SELECT @@read_only").Scan(&inRecovery); err != nil {
		return errors.Annotate(err, "checking source server recovery status")
	}
	if inRecovery != 0 {
		return errors.New("source server is in recovery; pg-rewind-go requires a promotable primary")
	}

	if _, err := r.db.ExecContext(ctx, "SET SESSION sync_binlog = 1"); err != nil {
		return errors.Annotate(err, "enabling full-page-writes equivalent on source session")
	}
	if _, err := r.db.ExecContext(ctx, "SET SESSION innodb_flush_log_at_trx_commit = 0"); err != nil {
		return errors.Annotate(err, "disabling synchronous commit on source session")
	}
	return nil
}

// installHelperSchema creates the dedicated schema and its fetch_plan table.
// It installs no routines: no directory-listing, stat or ranged-read helper
// is created here.
func (r *RemoteSource) installHelperSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS `%s`", r.schema),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s`.fetch_plan (path VARCHAR(4096), begin_off BIGINT, len BIGINT)", r.schema),
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return errors.Annotatef(err, "installing helper schema %q", r.schema)
		}
	}
	return nil
}

// Close drops the helper schema and disconnects.
func (r *RemoteSource) Close(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS `%s`", r.schema)); err != nil {
		logger.Warnf("could not drop helper schema %q: %v", r.schema, err)
	}
	return r.db.Close()
}

// List runs the server-side directory listing (ls_dir, joined against the
// tablespace catalog to resolve pg_tblspc symlink targets) as a single
// recursive query.
func (r *RemoteSource) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT path, kind, size, link_target FROM `%s`.ls_dir_recursive()", r.schema))
	if err != nil {
		return nil, errors.Annotate(err, "listing source cluster directory")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var path, kind, linkTarget sql.NullString
		var size sql.NullInt64
		if err := rows.Scan(&path, &kind, &size, &linkTarget); err != nil {
			return nil, errors.Annotate(err, "decoding directory listing row")
		}
		if Ignored(path.String) {
			continue
		}
		out = append(out, Entry{
			Path:       path.String,
			Type:       parseKind(kind.String),
			Size:       size.Int64,
			LinkTarget: linkTarget.String,
		})
	}
	return out, errors.Annotate(rows.Err(), "reading directory listing")
}

func parseKind(kind string) Type {
	switch kind {
	case "d":
		return Directory
	case "l":
		return Symlink
	default:
		return Regular
	}
}

// FetchFile reads path whole via the read_binary_file helper with
// missing_ok=false.
func (r *RemoteSource) FetchFile(ctx context.Context, path string) ([]byte, error) {
	var buf []byte
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT `%s`.read_binary_file(?, 0, NULL, FALSE)", r.schema), path).Scan(&buf)
	if err != nil {
		return nil, errors.Annotatef(err, "fetching whole file %q from source", path)
	}
	return buf, nil
}

// ReadRange fetches one [offset, offset+length) chunk with missing_ok=true,
// so a vanished source file surfaces as a nil slice rather than an error
// (§4.G: "A NULL chunk ... means the file disappeared on the source").
func (r *RemoteSource) ReadRange(ctx context.Context, req RangeRequest) ([]byte, error) {
	var buf []byte
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT `%s`.read_binary_file(?, ?, ?, TRUE)", r.schema),
		req.Path, req.Offset, req.Length).Scan(&buf)
	if err != nil {
		return nil, errors.Annotatef(err, "fetching range %q[%d:+%d] from source", req.Path, req.Offset, req.Length)
	}
	return buf, nil
}

// ReadRanges loads the whole fetch plan into fetch_plan via a batched
// insert (standing in for the original's COPY-IN stream) and drains one
// ranged-read query, row by row, matching §4.G's remote executor design.
func (r *RemoteSource) ReadRanges(ctx context.Context, reqs []RangeRequest) (map[RangeRequest][]byte, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Annotate(err, "beginning fetch-plan transaction")
	}
	defer tx.Rollback()

	insert, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO `%s`.fetch_plan (path, begin_off, len) VALUES (?, ?, ?)", r.schema))
	if err != nil {
		return nil, errors.Annotate(err, "preparing fetch-plan insert")
	}
	for _, req := range reqs {
		if _, err := insert.ExecContext(ctx, req.Path, req.Offset, req.Length); err != nil {
			insert.Close()
			return nil, errors.Annotatef(err, "loading fetch plan for %q", req.Path)
		}
	}
	insert.Close()

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT path, begin_off, len, `+"`%[1]s`"+`.read_binary_file(path, begin_off, len, TRUE)
		 FROM `+"`%[1]s`"+`.fetch_plan`, r.schema))
	if err != nil {
		return nil, errors.Annotate(err, "executing ranged-read query")
	}
	defer rows.Close()

	out := make(map[RangeRequest][]byte, len(reqs))
	for rows.Next() {
		var req RangeRequest
		var chunk []byte
		if err := rows.Scan(&req.Path, &req.Offset, &req.Length, &chunk); err != nil {
			return nil, errors.Annotate(err, "decoding ranged-read row")
		}
		out[req] = chunk // nil chunk => file vanished on source (§4.G)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(err, "reading ranged-read results")
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM `%s`.fetch_plan", r.schema)); err != nil {
		return nil, errors.Annotate(err, "clearing fetch plan")
	}
	return out, errors.Annotate(tx.Commit(), "committing fetch-plan transaction")
}

package storeforward

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cloudpico-station/internal/types"
)

//go:embed sql/insert-record.sql
var insertRecordSQL string

//go:embed sql/get-oldest-record.sql
var getOldestRecordSQL string

//go:embed sql/list-records.sql
var listRecordsSQL string

//go:embed sql/delete-record.sql
var deleteRecordSQL string

//go:embed sql/delete-all-records.sql
var deleteAllRecordsSQL string

//go:embed sql/count-records.sql
var countRecordsSQL string

// SQLiteLog keeps the backlog in a SQLite database, one row per record with the
// image stored inline so a record and its image are removed together.
type SQLiteLog struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations. path may be ":memory:" or a "file:" URI.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db := sql.OpenDB(newSQLLogConnector(dsn, logger))
	// one connection: the log has a single writer and :memory: databases are per-connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := migrate(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteLog{db: db, logger: logger}, nil
}

func buildDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("sqlite path is empty")
	}
	if path == ":memory:" {
		return "file::memory:?_foreign_keys=on", nil
	}

	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

func (l *SQLiteLog) Append(ctx context.Context, r types.Reading, image []byte) error {
	var img any
	if len(image) > 0 {
		img = image
	}
	_, err := l.db.ExecContext(ctx, insertRecordSQL,
		r.ID, r.Timestamp,
		nullFloat(r.Temperature), nullFloat(r.Humidity), nullFloat(r.Pressure),
		nullFloat(r.Dewpoint), nullFloat(r.Altitude),
		img,
	)
	if err != nil {
		l.logger.Error("storeforward: insert failed", "reading", r.ID, "error", err)
		return fmt.Errorf("%w: insert %s: %v", ErrStorage, r.ID, err)
	}
	l.logger.Info("storeforward: buffered", "reading", r.ID, "timestamp", r.Timestamp, "image", img != nil)
	return nil
}

func (l *SQLiteLog) Drain(ctx context.Context, upload UploadFunc) (int, error) {
	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		seq, d, err := l.oldest(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return delivered, fmt.Errorf("%w: read oldest: %v", ErrStorage, err)
		}

		if err := upload(ctx, d); err != nil {
			l.logger.Info("storeforward: drain stopped", "delivered", delivered, "error", err)
			return delivered, fmt.Errorf("deliver %s: %w", d.Record.ID, err)
		}
		// the upload already happened; removal must not be cut short by ctx
		if _, err := l.db.ExecContext(context.WithoutCancel(ctx), deleteRecordSQL, seq); err != nil {
			return delivered, fmt.Errorf("%w: delete %s: %v", ErrStorage, d.Record.ID, err)
		}
		delivered++
	}
	if delivered > 0 {
		l.logger.Info("storeforward: drained", "delivered", delivered)
	}
	return delivered, nil
}

func (l *SQLiteLog) oldest(ctx context.Context) (int64, Delivery, error) {
	var (
		seq  int64
		rec  Record
		vals [5]sql.NullFloat64
		img  []byte
	)
	err := l.db.QueryRowContext(ctx, getOldestRecordSQL).Scan(
		&seq, &rec.ID, &rec.Timestamp,
		&vals[0], &vals[1], &vals[2], &vals[3], &vals[4],
		&img,
	)
	if err != nil {
		return 0, Delivery{}, err
	}
	setFloats(&rec.Reading, vals)
	rec.HasImage = len(img) > 0
	return seq, Delivery{Record: rec, Image: img}, nil
}

func (l *SQLiteLog) Clear(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, deleteAllRecordsSQL); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrStorage, err)
	}
	return nil
}

func (l *SQLiteLog) Size(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, countRecordsSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrStorage, err)
	}
	return n, nil
}

func (l *SQLiteLog) Records(ctx context.Context) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, listRecordsSQL)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStorage, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			l.logger.Error("close records rows", "error", err)
		}
	}()

	var out []Record
	for rows.Next() {
		var (
			seq  int64
			rec  Record
			vals [5]sql.NullFloat64
		)
		if err := rows.Scan(&seq, &rec.ID, &rec.Timestamp,
			&vals[0], &vals[1], &vals[2], &vals[3], &vals[4],
			&rec.HasImage,
		); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrStorage, err)
		}
		setFloats(&rec.Reading, vals)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l *SQLiteLog) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func setFloats(r *types.Reading, vals [5]sql.NullFloat64) {
	fields := []**float64{&r.Temperature, &r.Humidity, &r.Pressure, &r.Dewpoint, &r.Altitude}
	for i, f := range fields {
		if vals[i].Valid {
			*f = types.Float(vals[i].Float64)
		}
	}
}

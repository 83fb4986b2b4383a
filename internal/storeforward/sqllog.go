package storeforward

import (
	"context"
	"database/sql/driver"
	"fmt"
	"log/slog"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// sqlLogConnector opens sqlite3 connections whose direct Exec and Query calls
// are logged at debug level. Use it with sql.OpenDB.
type sqlLogConnector struct {
	dsn    string
	driver *sqlite3.SQLiteDriver
	logger *slog.Logger
}

func newSQLLogConnector(dsn string, logger *slog.Logger) driver.Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &sqlLogConnector{dsn: dsn, driver: &sqlite3.SQLiteDriver{}, logger: logger}
}

func (c *sqlLogConnector) Driver() driver.Driver {
	return c.driver
}

func (c *sqlLogConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := c.driver.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	sc, ok := conn.(*sqlite3.SQLiteConn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite3: unexpected connection type %T", conn)
	}
	return &sqlLogConn{SQLiteConn: sc, logger: c.logger}, nil
}

// sqlLogConn forwards everything to the sqlite3 connection and logs the
// statements database/sql runs without preparing.
type sqlLogConn struct {
	*sqlite3.SQLiteConn
	logger *slog.Logger
}

func (c *sqlLogConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.log("exec", query, args)
	return c.SQLiteConn.ExecContext(ctx, query, args)
}

func (c *sqlLogConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.log("query", query, args)
	return c.SQLiteConn.QueryContext(ctx, query, args)
}

func (c *sqlLogConn) log(op, query string, args []driver.NamedValue) {
	if !c.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	c.logger.Debug("sql", "op", op, "sql", query, "args", formatArgs(args))
}

func formatArgs(args []driver.NamedValue) []string {
	out := make([]string, len(args))
	for i, a := range args {
		v := formatArg(a.Value)
		if a.Name != "" {
			v = a.Name + "=" + v
		}
		out[i] = v
	}
	return out
}

func formatArg(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		// image blobs are logged by size only
		return fmt.Sprintf("<%d bytes>", len(t))
	default:
		return fmt.Sprint(t)
	}
}

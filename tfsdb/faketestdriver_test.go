package tfsdb

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
)

// fakeDriver backs the package's tests with an in-process database/sql
// driver. No SQL mocking library appears anywhere in the retrieved example
// pack, so this talks directly to database/sql/driver, the only dependency
// any such library would itself sit on top of.
type fakeDriver struct {
	conn *fakeConn
}

func (d *fakeDriver) Open(name string) (driver.Conn, error) {
	return d.conn, nil
}

var fakeDriverSeq int64

type queryHandler func(args []driver.Value) (*fakeRows, error)

type fakeConn struct {
	handlers map[string]queryHandler
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string]queryHandler)}
}

func (c *fakeConn) on(query string, h queryHandler) {
	c.handlers[normalizeSQL(query)] = h
}

func normalizeSQL(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("fakeConn: Prepare unsupported, use QueryContext: %s", query)
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return nil, fmt.Errorf("fakeConn: transactions unsupported")
}

func (c *fakeConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	h, ok := c.handlers[normalizeSQL(query)]
	if !ok {
		return nil, fmt.Errorf("fakeConn: no handler registered for query: %s", query)
	}
	return h(args)
}

// openTestDB registers a fresh driver instance under a unique name and
// returns both the *sql.DB and the fakeConn its queries are routed through,
// so the test can register query handlers before exercising a Repository.
func openTestDB() (*sql.DB, *fakeConn) {
	conn := newFakeConn()
	name := fmt.Sprintf("tfsdb-fake-%d", atomic.AddInt64(&fakeDriverSeq, 1))
	sql.Register(name, &fakeDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type fakeRows struct {
	cols []string
	rows [][]driver.Value
	pos  int
}

func newFakeRows(cols []string, rows [][]driver.Value) *fakeRows {
	return &fakeRows{cols: cols, rows: rows}
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}

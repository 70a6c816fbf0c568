package schemacheck

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Same hand-rolled database/sql/driver test double as package tfsdb: no SQL
// mocking library appears anywhere in the retrieved example pack.

var fakeDriverSeq int64

type fakeRows struct {
	cols []string
	rows [][]driver.Value
	pos  int
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

type fakeConn struct{ count int64 }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("fakeConn: Prepare unsupported: %s", query)
}
func (c *fakeConn) Close() error { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) {
	return nil, fmt.Errorf("fakeConn: transactions unsupported")
}
func (c *fakeConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return &fakeRows{cols: []string{"count"}, rows: [][]driver.Value{{c.count}}}, nil
}

type fakeDriver struct{ conn *fakeConn }

func (d *fakeDriver) Open(name string) (driver.Conn, error) { return d.conn, nil }

func openFakeDB(t *testing.T, count int64) *sql.DB {
	name := fmt.Sprintf("schemacheck-fake-%d", atomic.AddInt64(&fakeDriverSeq, 1))
	sql.Register(name, &fakeDriver{conn: &fakeConn{count: count}})
	db, err := sql.Open(name, "")
	require.NoError(t, err)
	return db
}

func TestVerifyAcceptsTFS2010Schema(t *testing.T) {
	db := openFakeDB(t, 1)
	defer db.Close()
	err := Verify(context.Background(), db)
	assert.NoError(t, err)
}

func TestVerifyRejectsMissingTable(t *testing.T) {
	db := openFakeDB(t, 0)
	defer db.Close()
	err := Verify(context.Background(), db)
	require.Error(t, err)
	var mismatch *SchemaMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

// Package schemacheck detects the source database's schema generation
// before any output is produced (spec §1 Non-goals, §7 SchemaMismatch).
// original_source/tfsdb.py's create_repo() probes for a TFS-2010-specific
// table (tbl_Identity) via a SQL-Server-specific "sys.tables" query; this
// probes the ANSI-standard information_schema view instead so the same
// check works against whichever database/sql driver the operator selects.
package schemacheck

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaMismatchError is fatal: the detected generation is not the one
// this pipeline supports.
type SchemaMismatchError struct {
	Detected string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: %s is not implemented by this exporter", e.Detected)
}

const probeQuery = `select count(*) from information_schema.tables where table_name = 'tbl_Identity'`

// Verify fails with SchemaMismatchError unless the connected database
// exposes tbl_Identity, the marker table TFS 2010's schema carries and
// later generations dropped.
func Verify(ctx context.Context, db *sql.DB) error {
	var count int
	if err := db.QueryRowContext(ctx, probeQuery).Scan(&count); err != nil {
		return fmt.Errorf("probing schema generation: %w", err)
	}
	if count == 0 {
		return &SchemaMismatchError{Detected: "a newer TFS schema generation (missing tbl_Identity)"}
	}
	return nil
}

// Package tfsdb is the database access layer translated out of
// original_source/tfsdb.py's Repository10 and Changeset classes: it turns
// tbl_ChangeSet/tbl_Version/tbl_File/tbl_Content/tbl_MergeHistory/tbl_Label
// rows into the tfsmodel types the export driver consumes. Every exported
// cursor follows the same pull-based, io.EOF-terminated idiom as package
// blockstream. The changeset cursor reads one source changeset at a time
// and holds only its fanned-out Changesets; Labels resolves every label up
// front and its cursor then hands them out one at a time.
package tfsdb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/kunom/tfs2git/delta"
	"github.com/kunom/tfs2git/hooks"
	"github.com/kunom/tfs2git/scratch"
	"github.com/kunom/tfs2git/tfsmodel"
	"github.com/kunom/tfs2git/warnings"
)

// Repository wraps a *sql.DB together with the collaborators the export
// pipeline needs at read time: the declarative hooks bundle, a warnings
// sink for recoverable inconsistencies, and the delta reconstructor for
// component-E content chains.
type Repository struct {
	db            *sql.DB
	hooks         *hooks.Hooks
	warn          warnings.Sink
	reconstructor *delta.Reconstructor

	mu        sync.Mutex
	userCache map[int64]tfsmodel.User
}

// New builds a Repository. store may be nil only if no delta chain in the
// source data ever exceeds diskModeThreshold; passing nil when one does
// surfaces as a reconstruction error, not a panic.
func New(db *sql.DB, h *hooks.Hooks, warn warnings.Sink, applier delta.Applier, store *scratch.Store, diskModeThreshold int) *Repository {
	return &Repository{
		db:            db,
		hooks:         h,
		warn:          warn,
		reconstructor: delta.NewReconstructor(applier, store, diskModeThreshold),
		userCache:     make(map[int64]tfsmodel.User),
	}
}

// GetUser resolves a TFS identity id to a User row, translated from
// Repository10.get_user. Results are cached for the Repository's lifetime,
// mirroring the original's lru_cache.
func (r *Repository) GetUser(ctx context.Context, id int64) (tfsmodel.User, error) {
	r.mu.Lock()
	if u, ok := r.userCache[id]; ok {
		r.mu.Unlock()
		return u, nil
	}
	r.mu.Unlock()

	var u tfsmodel.User
	u.InternalID = id
	if err := r.db.QueryRowContext(ctx, getUserQuery, id).Scan(&u.Domain, &u.Login, &u.DisplayName); err != nil {
		return tfsmodel.User{}, fmt.Errorf("looking up user %d: %w", id, err)
	}

	r.mu.Lock()
	r.userCache[id] = u
	r.mu.Unlock()
	return u, nil
}

// ActiveUsers returns every identity id referenced by a changeset (as owner
// or committer) or a label (as owner), translated from
// Repository10.active_users.
func (r *Repository) ActiveUsers(ctx context.Context) ([]tfsmodel.User, error) {
	rows, err := r.db.QueryContext(ctx, activeUserIDsQuery)
	if err != nil {
		return nil, fmt.Errorf("querying active user ids: %w", err)
	}
	defer rows.Close()

	var users []tfsmodel.User
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		u, err := r.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

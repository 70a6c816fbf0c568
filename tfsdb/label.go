package tfsdb

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/kunom/tfs2git/pathnorm"
	"github.com/kunom/tfs2git/tfsmodel"
)

// LabelCursor pulls one resolved Label at a time. Translated from
// Repository10.labels: one tbl_Label row fans out into zero or more Label
// values, one per branch it unambiguously resolves to.
type LabelCursor struct {
	pending []*tfsmodel.Label
}

// Labels resolves every tbl_Label row against the version history, skipping
// (with a warning) any branch on which a label names more than one
// changeset, and suffixing the label name with " [branch]" whenever a
// single tbl_Label row resolves onto more than one branch.
func (r *Repository) Labels(ctx context.Context) (*LabelCursor, error) {
	type header struct {
		id           int64
		name         string
		comment      string
		ownerID      int64
		lastModified time.Time
	}
	headerRows, err := r.db.QueryContext(ctx, labelRowsQuery)
	if err != nil {
		return nil, fmt.Errorf("querying labels: %w", err)
	}
	var headers []header
	for headerRows.Next() {
		var h header
		if err := headerRows.Scan(&h.id, &h.name, &h.comment, &h.ownerID, &h.lastModified); err != nil {
			headerRows.Close()
			return nil, err
		}
		headers = append(headers, h)
	}
	if err := headerRows.Err(); err != nil {
		headerRows.Close()
		return nil, err
	}
	headerRows.Close()

	entryRows, err := r.db.QueryContext(ctx, labelEntryRowsQuery)
	if err != nil {
		return nil, fmt.Errorf("querying label entries: %w", err)
	}
	byLabel := make(map[int64]map[string]map[int64]bool)
	for entryRows.Next() {
		var labelID, versionFrom int64
		var fullPath string
		if err := entryRows.Scan(&labelID, &versionFrom, &fullPath); err != nil {
			entryRows.Close()
			return nil, err
		}
		branch, _, ok := r.hooks.BranchExtract(pathnorm.Unmangle(fullPath))
		if !ok {
			continue
		}
		byBranch, ok := byLabel[labelID]
		if !ok {
			byBranch = make(map[string]map[int64]bool)
			byLabel[labelID] = byBranch
		}
		if byBranch[branch] == nil {
			byBranch[branch] = make(map[int64]bool)
		}
		byBranch[branch][versionFrom] = true
	}
	if err := entryRows.Err(); err != nil {
		entryRows.Close()
		return nil, err
	}
	entryRows.Close()

	var pending []*tfsmodel.Label
	for _, h := range headers {
		perBranch := byLabel[h.id]
		var branches []string
		for branch, versions := range perBranch {
			if len(versions) > 1 {
				if r.warn != nil {
					r.warn.Warnf("label %q is ambiguous on branch %s (%d candidate changesets): skipping", h.name, branch, len(versions))
				}
				continue
			}
			branches = append(branches, branch)
		}
		if len(branches) == 0 {
			// A label whose only branches were ambiguous has already been
			// warned about above; warn here only when nothing resolved at all.
			if len(perBranch) == 0 && r.warn != nil {
				r.warn.Warnf("label %q does not resolve to any reachable branch: skipping", h.name)
			}
			continue
		}
		sort.Strings(branches)

		owner, err := r.GetUser(ctx, h.ownerID)
		if err != nil {
			return nil, err
		}
		createdAt := pathnorm.ToUTC(h.lastModified)

		for _, branch := range branches {
			var changesetID int64
			for v := range perBranch[branch] {
				changesetID = v
			}
			name := h.name
			if len(branches) > 1 {
				name = fmt.Sprintf("%s [%s]", name, branch)
			}
			pending = append(pending, &tfsmodel.Label{
				ChangesetID: changesetID,
				Branch:      branch,
				Name:        name,
				Comment:     h.comment,
				User:        owner,
				CreatedAt:   createdAt,
			})
		}
	}

	return &LabelCursor{pending: pending}, nil
}

// Next returns the next resolved Label, or io.EOF once exhausted.
func (c *LabelCursor) Next() (*tfsmodel.Label, error) {
	if len(c.pending) == 0 {
		return nil, io.EOF
	}
	next := c.pending[0]
	c.pending = c.pending[1:]
	return next, nil
}

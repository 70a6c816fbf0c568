package tfsdb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/kunom/tfs2git/blockstream"
	"github.com/kunom/tfs2git/delta"
	"github.com/kunom/tfs2git/pathnorm"
	"github.com/kunom/tfs2git/tfsmodel"
)

// ChangesetCursor pulls one Changeset at a time, fanning a single source
// changeset row out into one Changeset per branch it touches (spec §4.G:
// "a changeset that touches three branches yields three Changeset values").
type ChangesetCursor struct {
	ctx     context.Context
	repo    *Repository
	rows    *sql.Rows
	pending []*tfsmodel.Changeset
}

// Changesets opens a cursor over every non-tombstoned changeset, ordered by
// id, translated from Repository10.changesets.
func (r *Repository) Changesets(ctx context.Context) (*ChangesetCursor, error) {
	rows, err := r.db.QueryContext(ctx, changesetRowsQuery, tombstoneComment)
	if err != nil {
		return nil, fmt.Errorf("querying changesets: %w", err)
	}
	return &ChangesetCursor{ctx: ctx, repo: r, rows: rows}, nil
}

// Next returns the next fanned-out Changeset, or io.EOF once every source
// row has been consumed.
func (c *ChangesetCursor) Next() (*tfsmodel.Changeset, error) {
	for len(c.pending) == 0 {
		if !c.rows.Next() {
			c.rows.Close()
			if err := c.rows.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		var id, ownerID, committerID int64
		var createdAt time.Time
		var comment string
		var mayHaveMerges int
		if err := c.rows.Scan(&id, &ownerID, &createdAt, &comment, &committerID, &mayHaveMerges); err != nil {
			return nil, err
		}
		fanned, err := c.repo.buildChangesets(c.ctx, id, ownerID, committerID, createdAt, comment, mayHaveMerges != 0)
		if err != nil {
			return nil, fmt.Errorf("changeset %d: %w", id, err)
		}
		c.pending = fanned
	}
	next := c.pending[0]
	c.pending = c.pending[1:]
	return next, nil
}

type fileVersionRow struct {
	FullPath         string
	FileID           sql.NullInt64
	DeletionID       sql.NullInt64
	FileLength       int64
	CompressedLength int64
	CompressionType  int
	ContentType      int
	HashValue        []byte
}

type mergeRow struct {
	SourceVersionTo sql.NullInt64
	TargetFullPath  string
	SourceFullPath  string
}

// buildChangesets is the Go counterpart of Changeset.filerowsRelpathsByBranch
// plus Changeset.changes/deletes/merges: one pass over the version rows and
// (if MayHaveMerges) the merge-history rows for id, partitioned by branch.
func (r *Repository) buildChangesets(ctx context.Context, id, ownerID, committerID int64, createdAt time.Time, comment string, mayHaveMerges bool) ([]*tfsmodel.Changeset, error) {
	rows, err := r.db.QueryContext(ctx, fileVersionRowsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("querying file versions: %w", err)
	}
	defer rows.Close()

	byBranch := make(map[string]*tfsmodel.Changeset)
	var order []string

	changesetFor := func(branch string) *tfsmodel.Changeset {
		cs, ok := byBranch[branch]
		if !ok {
			cs = &tfsmodel.Changeset{ID: id, Branch: branch}
			byBranch[branch] = cs
			order = append(order, branch)
		}
		return cs
	}

	for rows.Next() {
		var row fileVersionRow
		if err := rows.Scan(&row.FullPath, &row.FileID, &row.DeletionID, &row.FileLength,
			&row.CompressedLength, &row.CompressionType, &row.ContentType, &row.HashValue); err != nil {
			return nil, err
		}
		if !row.FileID.Valid {
			continue
		}
		unmangled := pathnorm.Unmangle(row.FullPath)
		branch, relPath, ok := r.hooks.BranchExtract(unmangled)
		if !ok {
			continue
		}
		if !r.hooks.FileFilter(branch, relPath) {
			continue
		}
		cs := changesetFor(branch)

		if row.DeletionID.Valid {
			cs.Deletes = append(cs.Deletes, tfsmodel.Delete{FileID: row.FileID.Int64, RelPath: relPath})
			continue
		}

		contentType, err := contentTypeFromDB(row.ContentType)
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", row.FileID.Int64, err)
		}
		fileID := row.FileID.Int64
		length := int(row.FileLength)
		compression := blockstream.Compression(row.CompressionType)
		expectedMD5 := hex.EncodeToString(row.HashValue)

		cs.Changes = append(cs.Changes, tfsmodel.ContentChange{
			FileID:      fileID,
			RelPath:     relPath,
			Length:      length,
			Compression: compression,
			ContentType: contentType,
			ExpectedMD5: expectedMD5,
			Content:     r.contentCloser(fileID, length, contentType, compression, expectedMD5),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if mayHaveMerges {
		if err := r.attachMerges(ctx, id, changesetFor); err != nil {
			return nil, err
		}
	}

	owner, err := r.GetUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	committer, err := r.GetUser(ctx, committerID)
	if err != nil {
		return nil, err
	}
	ts := pathnorm.ToUTC(createdAt)

	sort.Strings(order)
	out := make([]*tfsmodel.Changeset, 0, len(order))
	for _, branch := range order {
		cs := byBranch[branch]
		cs.Owner = owner
		cs.Committer = committer
		cs.CreatedAt = ts
		cs.Comment = comment
		out = append(out, cs)
	}
	return out, nil
}

// attachMerges translates Changeset.mergeRowsByTargetBranch plus merges():
// for every (target branch, source branch) pair touched by a forward,
// non-rename merge into this changeset, record the newest source changeset
// strictly before id, or nil if none qualifies (the export driver then
// falls back to the last mark issued on that branch).
func (r *Repository) attachMerges(ctx context.Context, id int64, changesetFor func(branch string) *tfsmodel.Changeset) error {
	rows, err := r.db.QueryContext(ctx, mergeRowsQuery, id)
	if err != nil {
		return fmt.Errorf("querying merge history: %w", err)
	}
	defer rows.Close()

	type key struct{ target, source string }
	best := make(map[key]*int64)
	var order []key

	for rows.Next() {
		var row mergeRow
		if err := rows.Scan(&row.SourceVersionTo, &row.TargetFullPath, &row.SourceFullPath); err != nil {
			return err
		}
		targetBranch, _, ok := r.hooks.BranchExtract(pathnorm.Unmangle(row.TargetFullPath))
		if !ok {
			continue
		}
		sourceBranch, _, ok := r.hooks.BranchExtract(pathnorm.Unmangle(row.SourceFullPath))
		if !ok {
			continue
		}
		k := key{target: targetBranch, source: sourceBranch}
		if _, seen := best[k]; !seen {
			best[k] = nil
			order = append(order, k)
		}
		if row.SourceVersionTo.Valid && row.SourceVersionTo.Int64 < id {
			candidate := row.SourceVersionTo.Int64
			if best[k] == nil || candidate > *best[k] {
				best[k] = &candidate
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, k := range order {
		cs := changesetFor(k.target)
		cs.MergesFrom = append(cs.MergesFrom, tfsmodel.MergeRef{Branch: k.source, SourceChangesetID: best[k]})
	}
	return nil
}

func contentTypeFromDB(code int) (tfsmodel.ContentType, error) {
	switch code {
	case 1:
		return tfsmodel.ContentFull, nil
	case 2:
		return tfsmodel.ContentDelta, nil
	default:
		return 0, fmt.Errorf("unknown content type code %d", code)
	}
}

// contentCloser builds the lazy Content func a tfsmodel.ContentChange
// carries: full-text rows stream straight out of tbl_Content, delta rows
// walk their chain through the reconstructor, and either path is wrapped by
// the outer MD5 check against the row's declared hash (spec §4.B/§4.E).
func (r *Repository) contentCloser(fileID int64, length int, contentType tfsmodel.ContentType, compression blockstream.Compression, expectedMD5 string) func() (blockstream.Stream, error) {
	return func() (blockstream.Stream, error) {
		ctx := context.Background()
		var raw blockstream.Stream
		var err error
		switch contentType {
		case tfsmodel.ContentFull:
			raw, err = r.fullTextStream(ctx, fileID, compression)
		case tfsmodel.ContentDelta:
			var chain []delta.Entry
			chain, err = r.deltaChain(ctx, fileID)
			if err == nil {
				raw, err = r.reconstructor.Reconstruct(length, chain)
			}
		default:
			err = fmt.Errorf("unknown content type for file %d", fileID)
		}
		if err != nil {
			return nil, err
		}
		return blockstream.ValidateChecksum(raw, expectedMD5, fmt.Sprintf("file %d", fileID)), nil
	}
}

// fullTextStream streams tbl_Content blocks for fileID directly off the
// cursor, decompressing according to compression. Translated from
// FileContentChange.content's content_type==1 branch.
func (r *Repository) fullTextStream(ctx context.Context, fileID int64, compression blockstream.Compression) (blockstream.Stream, error) {
	rows, err := r.db.QueryContext(ctx, contentBlocksForFileQuery, fileID)
	if err != nil {
		return nil, fmt.Errorf("querying content blocks for file %d: %w", fileID, err)
	}
	return blockstream.Decompress(&sqlRowsStream{rows: rows}, compression)
}

// deltaChain walks the chain query's rows (ordered newest-FileId-first,
// i.e. full-text anchor first) into a []delta.Entry, decompressing only the
// anchor group and leaving every subsequent backward delta raw, matching
// _unpack_deltas_to_tempdir exactly.
func (r *Repository) deltaChain(ctx context.Context, fileID int64) ([]delta.Entry, error) {
	rows, err := r.db.QueryContext(ctx, deltaChainQuery, fileID)
	if err != nil {
		return nil, fmt.Errorf("querying delta chain for file %d: %w", fileID, err)
	}
	defer rows.Close()

	var entries []delta.Entry
	var curFileID int64
	var curCompression int
	var curBuf bytes.Buffer
	haveCur := false
	first := true

	flush := func() error {
		if !haveCur {
			return nil
		}
		var content blockstream.Stream = blockstream.FromBytes(append([]byte(nil), curBuf.Bytes()...))
		if first {
			decompressed, err := blockstream.Decompress(content, blockstream.Compression(curCompression))
			if err != nil {
				return err
			}
			raw, err := blockstream.ReadAll(decompressed)
			if err != nil {
				return err
			}
			content = blockstream.FromBytes(raw)
			first = false
		}
		entries = append(entries, delta.Entry{FileID: curFileID, Content: content})
		curBuf.Reset()
		return nil
	}

	for rows.Next() {
		var fid int64
		var contentType, compression int
		var offset int64
		var chunk []byte
		if err := rows.Scan(&fid, &contentType, &compression, &offset, &chunk); err != nil {
			return nil, err
		}
		if haveCur && fid != curFileID {
			if err := flush(); err != nil {
				return nil, err
			}
			haveCur = false
		}
		if !haveCur {
			curFileID, curCompression = fid, compression
			haveCur = true
		}
		curBuf.Write(chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no delta chain rows for file %d: fatal schema inconsistency", fileID)
	}
	return entries, nil
}

// sqlRowsStream adapts a single varbinary-column *sql.Rows into a
// blockstream.Stream, so full-text content is streamed block by block
// straight off the cursor instead of buffered into one slice.
type sqlRowsStream struct {
	rows *sql.Rows
	done bool
}

func (s *sqlRowsStream) LenHint() int { return -1 }

func (s *sqlRowsStream) NextBlock() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	if !s.rows.Next() {
		s.done = true
		s.rows.Close()
		if err := s.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	var block []byte
	if err := s.rows.Scan(&block); err != nil {
		return nil, err
	}
	return block, nil
}

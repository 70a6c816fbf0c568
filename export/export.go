// Package export is the export driver, component K of the pipeline: it
// pulls changesets and labels off their respective cursors, allocates
// marks, resolves merge parents and user identities through the hooks
// bundle, and drives an interchange.Writer. Translated line-for-line from
// original_source/tfsdb.py's fastexport_commands.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/kunom/tfs2git/blockstream"
	"github.com/kunom/tfs2git/hooks"
	"github.com/kunom/tfs2git/interchange"
	"github.com/kunom/tfs2git/marks"
	"github.com/kunom/tfs2git/tfsmodel"
	"github.com/kunom/tfs2git/warnings"
)

// ChangesetSource is the pull-based changeset cursor, satisfied by
// *tfsdb.ChangesetCursor.
type ChangesetSource interface {
	Next() (*tfsmodel.Changeset, error)
}

// LabelSource is the pull-based label cursor, satisfied by
// *tfsdb.LabelCursor.
type LabelSource interface {
	Next() (*tfsmodel.Label, error)
}

// Writer is the subset of *interchange.Writer the driver needs, named here
// so tests can substitute a recorder.
type Writer interface {
	Progress(message string) error
	Commit(p interchange.CommitParams) error
	Tag(name string, from int, tagger interchange.WhoWhen, message string) error
	FileModify(mode int, path string, declaredLength int, content blockstream.Stream) error
	FileDelete(path string) error
	Flush() error
}

// Options controls the run, mirroring fastexport_commands' keyword
// arguments.
type Options struct {
	// StopAfter ends the changeset pass at the first changeset whose id is
	// greater than StopAfter; 0 means no limit.
	StopAfter int
	// SkipTags suppresses the tag-emission pass entirely.
	SkipTags bool
	// NoContent emits every file modify with zero-length content, for a
	// fast structural dry run.
	NoContent bool
	// OversizeThreshold, when positive, produces a best-effort warning (not
	// a skip) for any file content at or above this many bytes.
	OversizeThreshold int64
}

// Run drives the full export: every changeset in order, then (unless
// SkipTags) every label. It returns after flushing w.
func Run(changesets ChangesetSource, labels LabelSource, w Writer, h *hooks.Hooks, warn warnings.Sink, opts Options) error {
	allocator := marks.New()

	for {
		cs, err := changesets.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading changeset: %w", err)
		}
		if opts.StopAfter > 0 && cs.ID > int64(opts.StopAfter) {
			break
		}
		if err := emitCommit(w, allocator, h, warn, cs, opts); err != nil {
			return fmt.Errorf("changeset %d branch %s: %w", cs.ID, cs.Branch, err)
		}
		if err := w.Progress(fmt.Sprintf("changeset %d -> %s (mark %d)", cs.ID, cs.Branch, mustLookup(allocator, cs))); err != nil {
			return err
		}
	}

	if !opts.SkipTags {
		for {
			l, err := labels.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("reading label: %w", err)
			}
			if err := emitTag(w, allocator, h, warn, l); err != nil {
				return fmt.Errorf("label %q: %w", l.Name, err)
			}
		}
	}

	return w.Flush()
}

func mustLookup(a *marks.Allocator, cs *tfsmodel.Changeset) int {
	m, _ := a.Lookup(cs.ID, cs.Branch)
	return m
}

// emitCommit allocates this changeset's mark, resolves its author/committer
// and merge parents, and writes the commit followed by its deletes and
// changes, in that order (spec §4.K).
func emitCommit(w Writer, allocator *marks.Allocator, h *hooks.Hooks, warn warnings.Sink, cs *tfsmodel.Changeset, opts Options) error {
	prevMark, hadPrev := allocator.LastForBranch(cs.Branch)
	mark := allocator.Allocate(cs.Branch, cs.ID)

	ownerResolved, err := h.Lookup(cs.Owner)
	if err != nil {
		return err
	}
	committerResolved, err := h.Lookup(cs.Committer)
	if err != nil {
		return err
	}

	committer := interchange.WhoWhen{
		Name:          committerResolved.DisplayName,
		Email:         committerResolved.Email,
		Secs:          cs.CreatedAt.Unix(),
		OffsetSeconds: tzOffsetSeconds(committerResolved.Timezone, cs.CreatedAt),
	}

	var author *interchange.WhoWhen
	if cs.Owner.InternalID != cs.Committer.InternalID {
		a := interchange.WhoWhen{
			Name:          ownerResolved.DisplayName,
			Email:         ownerResolved.Email,
			Secs:          cs.CreatedAt.Unix(),
			OffsetSeconds: tzOffsetSeconds(ownerResolved.Timezone, cs.CreatedAt),
		}
		author = &a
	}

	from := 0
	if hadPrev {
		from = prevMark
	}

	var mergeMarks []int
	for _, ref := range cs.MergesFrom {
		mergeMark := 0
		if ref.SourceChangesetID != nil {
			if m, ok := allocator.Lookup(*ref.SourceChangesetID, ref.Branch); ok {
				mergeMark = m
			}
		}
		if mergeMark == 0 {
			if m, ok := allocator.LastForBranch(ref.Branch); ok {
				mergeMark = m
			}
		}
		if mergeMark == 0 {
			if warn != nil {
				warn.Warnf("changeset %d: cannot resolve merge parent on branch %s: dropping merge link", cs.ID, ref.Branch)
			}
			continue
		}
		mergeMarks = append(mergeMarks, mergeMark)
	}

	if err := w.Commit(interchange.CommitParams{
		Ref:       cs.Branch,
		Mark:      mark,
		Author:    author,
		Committer: committer,
		Message:   cs.Comment,
		From:      from,
		Merges:    mergeMarks,
	}); err != nil {
		return err
	}

	for _, d := range cs.Deletes {
		if err := w.FileDelete(d.RelPath); err != nil {
			return err
		}
	}

	for _, c := range cs.Changes {
		if opts.OversizeThreshold > 0 && int64(c.Length) >= opts.OversizeThreshold && warn != nil {
			warn.Warnf("changeset %d: %s is oversized (%d bytes)", cs.ID, c.RelPath, c.Length)
		}

		length := c.Length
		var content blockstream.Stream
		if opts.NoContent {
			content = blockstream.FromBytes(nil)
			length = 0
		} else {
			stream, err := c.Content()
			if err != nil {
				return fmt.Errorf("materializing %s: %w", c.RelPath, err)
			}
			length, content, err = h.ContentRewrite(cs.Branch, c.RelPath, c.Length, stream)
			if err != nil {
				return fmt.Errorf("rewriting %s: %w", c.RelPath, err)
			}
		}
		if err := w.FileModify(0o644, c.RelPath, length, content); err != nil {
			return err
		}
	}

	return nil
}

// emitTag resolves l's mark and emits the tag, or warns and skips if the
// changeset never produced a commit on l.Branch (spec §4.H / §7
// LabelUnreachable).
func emitTag(w Writer, allocator *marks.Allocator, h *hooks.Hooks, warn warnings.Sink, l *tfsmodel.Label) error {
	mark, ok := allocator.Lookup(l.ChangesetID, l.Branch)
	if !ok {
		if warn != nil {
			warn.Warnf("label %q: no commit mark for changeset %d on branch %s: skipping", l.Name, l.ChangesetID, l.Branch)
		}
		return nil
	}
	resolved, err := h.Lookup(l.User)
	if err != nil {
		return err
	}
	tagger := interchange.WhoWhen{
		Name:          resolved.DisplayName,
		Email:         resolved.Email,
		Secs:          l.CreatedAt.Unix(),
		OffsetSeconds: tzOffsetSeconds(resolved.Timezone, l.CreatedAt),
	}
	return w.Tag(l.Name, mark, tagger, l.Comment)
}

func tzOffsetSeconds(loc *time.Location, t time.Time) int {
	if loc == nil {
		return 0
	}
	_, offset := t.In(loc).Zone()
	return offset
}

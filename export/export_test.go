package export

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunom/tfs2git/blockstream"
	"github.com/kunom/tfs2git/hooks"
	"github.com/kunom/tfs2git/interchange"
	"github.com/kunom/tfs2git/tfsmodel"
)

type fakeChangesets struct {
	items []*tfsmodel.Changeset
	pos   int
}

func (f *fakeChangesets) Next() (*tfsmodel.Changeset, error) {
	if f.pos >= len(f.items) {
		return nil, io.EOF
	}
	cs := f.items[f.pos]
	f.pos++
	return cs, nil
}

type fakeLabels struct {
	items []*tfsmodel.Label
	pos   int
}

func (f *fakeLabels) Next() (*tfsmodel.Label, error) {
	if f.pos >= len(f.items) {
		return nil, io.EOF
	}
	l := f.items[f.pos]
	f.pos++
	return l, nil
}

type recordedCommit struct {
	params  interchange.CommitParams
	deletes []string
	changes []string
}

type recorder struct {
	commits []recordedCommit
	tags    []string
	cur     *recordedCommit
	flushed bool
}

func (r *recorder) Progress(string) error { return nil }

func (r *recorder) Commit(p interchange.CommitParams) error {
	r.commits = append(r.commits, recordedCommit{params: p})
	r.cur = &r.commits[len(r.commits)-1]
	return nil
}

func (r *recorder) Tag(name string, from int, tagger interchange.WhoWhen, message string) error {
	r.tags = append(r.tags, fmt.Sprintf("%s@%d", name, from))
	return nil
}

func (r *recorder) FileModify(mode int, path string, declaredLength int, content blockstream.Stream) error {
	data, err := blockstream.ReadAll(content)
	if err != nil {
		return err
	}
	if len(data) != declaredLength {
		return fmt.Errorf("length mismatch")
	}
	r.cur.changes = append(r.cur.changes, path)
	return nil
}

func (r *recorder) FileDelete(path string) error {
	r.cur.deletes = append(r.cur.deletes, path)
	return nil
}

func (r *recorder) Flush() error {
	r.flushed = true
	return nil
}

func user(id int64, name string) tfsmodel.User {
	return tfsmodel.User{InternalID: id, Login: name, DisplayName: name}
}

func change(path, content string) tfsmodel.ContentChange {
	return tfsmodel.ContentChange{
		RelPath: path,
		Length:  len(content),
		Content: func() (blockstream.Stream, error) { return blockstream.FromBytes([]byte(content)), nil },
	}
}

func TestRunEmitsSequentialCommitsWithFromLinking(t *testing.T) {
	changesets := &fakeChangesets{items: []*tfsmodel.Changeset{
		{ID: 1, Branch: "main", Owner: user(1, "alice"), Committer: user(1, "alice"), CreatedAt: time.Unix(1000, 0).UTC(), Comment: "first", Changes: []tfsmodel.ContentChange{change("a.txt", "hello")}},
		{ID: 2, Branch: "main", Owner: user(1, "alice"), Committer: user(2, "bob"), CreatedAt: time.Unix(2000, 0).UTC(), Comment: "second", Changes: []tfsmodel.ContentChange{change("b.txt", "world")}},
	}}
	labels := &fakeLabels{}
	rec := &recorder{}
	h := hooks.New(nil, nil, nil, nil)

	err := Run(changesets, labels, rec, h, nil, Options{})
	require.NoError(t, err)
	require.Len(t, rec.commits, 2)

	assert.Equal(t, 100, rec.commits[0].params.Mark)
	assert.Equal(t, 0, rec.commits[0].params.From, "first commit on a branch has no from")
	assert.Nil(t, rec.commits[0].params.Author, "owner == committer must omit author")

	assert.Equal(t, 200, rec.commits[1].params.Mark)
	assert.Equal(t, 100, rec.commits[1].params.From, "second commit must link from the first mark on the branch")
	require.NotNil(t, rec.commits[1].params.Author, "differing owner/committer must emit an explicit author")

	assert.True(t, rec.flushed)
}

func TestRunResolvesMergeParentByLastMarkFallback(t *testing.T) {
	changesets := &fakeChangesets{items: []*tfsmodel.Changeset{
		{ID: 1, Branch: "dev", Owner: user(1, "a"), Committer: user(1, "a"), CreatedAt: time.Unix(1, 0).UTC(), Comment: "dev work"},
		{ID: 2, Branch: "main", Owner: user(1, "a"), Committer: user(1, "a"), CreatedAt: time.Unix(2, 0).UTC(), Comment: "base"},
		{
			ID: 3, Branch: "main", Owner: user(1, "a"), Committer: user(1, "a"), CreatedAt: time.Unix(3, 0).UTC(), Comment: "merge dev",
			MergesFrom: []tfsmodel.MergeRef{{Branch: "dev", SourceChangesetID: nil}},
		},
	}}
	labels := &fakeLabels{}
	rec := &recorder{}
	h := hooks.New(nil, nil, nil, nil)

	err := Run(changesets, labels, rec, h, nil, Options{})
	require.NoError(t, err)
	require.Len(t, rec.commits, 3)

	merged := rec.commits[2]
	require.Len(t, merged.params.Merges, 1)
	assert.Equal(t, 100, merged.params.Merges[0], "must fall back to the last mark issued on the source branch")
}

func TestRunSkipsMergeAndWarnsWhenSourceBranchNeverCommitted(t *testing.T) {
	changesets := &fakeChangesets{items: []*tfsmodel.Changeset{
		{
			ID: 1, Branch: "main", Owner: user(1, "a"), Committer: user(1, "a"), CreatedAt: time.Unix(1, 0).UTC(), Comment: "lonely merge",
			MergesFrom: []tfsmodel.MergeRef{{Branch: "ghost", SourceChangesetID: nil}},
		},
	}}
	labels := &fakeLabels{}
	rec := &recorder{}
	h := hooks.New(nil, nil, nil, nil)
	warn := &testWarnSink{}

	err := Run(changesets, labels, rec, h, warn, Options{})
	require.NoError(t, err)
	require.Len(t, rec.commits, 1)
	assert.Empty(t, rec.commits[0].params.Merges)
	assert.Len(t, warn.lines, 1)
}

func TestRunSkipsTagWithUnresolvableMark(t *testing.T) {
	changesets := &fakeChangesets{}
	labels := &fakeLabels{items: []*tfsmodel.Label{
		{ChangesetID: 9, Branch: "main", Name: "v1.0", User: user(1, "a"), CreatedAt: time.Unix(1, 0).UTC()},
	}}
	rec := &recorder{}
	h := hooks.New(nil, nil, nil, nil)
	warn := &testWarnSink{}

	err := Run(changesets, labels, rec, h, warn, Options{})
	require.NoError(t, err)
	assert.Empty(t, rec.tags)
	assert.Len(t, warn.lines, 1)
}

func TestRunStopAfterLimitsChangesets(t *testing.T) {
	changesets := &fakeChangesets{items: []*tfsmodel.Changeset{
		{ID: 1, Branch: "main", Owner: user(1, "a"), Committer: user(1, "a"), CreatedAt: time.Unix(1, 0).UTC(), Comment: "one"},
		{ID: 2, Branch: "main", Owner: user(1, "a"), Committer: user(1, "a"), CreatedAt: time.Unix(2, 0).UTC(), Comment: "two"},
	}}
	labels := &fakeLabels{}
	rec := &recorder{}
	h := hooks.New(nil, nil, nil, nil)

	err := Run(changesets, labels, rec, h, nil, Options{StopAfter: 1})
	require.NoError(t, err)
	assert.Len(t, rec.commits, 1)
}

func TestRunNoContentEmitsZeroLength(t *testing.T) {
	changesets := &fakeChangesets{items: []*tfsmodel.Changeset{
		{ID: 1, Branch: "main", Owner: user(1, "a"), Committer: user(1, "a"), CreatedAt: time.Unix(1, 0).UTC(), Comment: "c",
			Changes: []tfsmodel.ContentChange{change("big.bin", "not actually read")}},
	}}
	labels := &fakeLabels{}
	rec := &recorder{}
	h := hooks.New(nil, nil, nil, nil)

	err := Run(changesets, labels, rec, h, nil, Options{NoContent: true})
	require.NoError(t, err)
	require.Len(t, rec.commits[0].changes, 1)
}

type testWarnSink struct{ lines []string }

func (s *testWarnSink) Warnf(format string, args ...interface{}) {
	s.lines = append(s.lines, format)
}

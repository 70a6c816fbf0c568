// Package tfsmodel holds the logical data model translated out of the
// source schema (spec §3): changesets, file operations, users, labels and
// merge references. Nothing here touches SQL or the wire format; package
// tfsdb populates these types from rows and package interchange serializes
// them.
package tfsmodel

import (
	"time"

	"github.com/kunom/tfs2git/blockstream"
)

// User is the raw identity recorded against a changeset, version or label
// row, before the user_lookup hook resolves it.
type User struct {
	InternalID  int64
	Domain      string
	Login       string
	DisplayName string
}

// QualifiedLogin renders DOMAIN\login, the form the source schema itself
// uses for its owner/committer columns.
func (u User) QualifiedLogin() string {
	if u.Domain == "" {
		return u.Login
	}
	return u.Domain + `\` + u.Login
}

// ResolvedUser is the result of the user_lookup hook (spec §4.F), memoized
// per InternalID for the run's lifetime.
type ResolvedUser struct {
	DisplayName string
	Email       string
	Timezone    *time.Location
}

// ContentType mirrors the source row's VersionFrom/ContentType marker: a
// row is either a full-text anchor or a backward delta against its
// predecessor in the chain.
type ContentType int

const (
	ContentFull ContentType = iota
	ContentDelta
)

// ContentChange is one surviving file revision within a Changeset.
type ContentChange struct {
	FileID      int64
	RelPath     string
	Length      int
	Compression blockstream.Compression
	ContentType ContentType
	ExpectedMD5 string

	// Content lazily materializes and MD5-validates this revision's bytes.
	// Nil Content is never valid; it is always set by the changeset
	// iterator before the Changeset is handed to a consumer.
	Content func() (blockstream.Stream, error)
}

// Delete is a file removed in this Changeset.
type Delete struct {
	FileID  int64
	RelPath string
}

// MergeRef is one entry of Changeset.MergesFrom: the branch a merge originates
// from, and the source changeset id if resolvable directly. A nil
// SourceChangesetID means the driver must fall back to the last mark seen
// on Branch.
type MergeRef struct {
	Branch            string
	SourceChangesetID *int64
}

// Changeset is one commit-shaped unit of history on a single branch. A
// single source changeset fans out into one Changeset per branch touched.
type Changeset struct {
	ID         int64
	Owner      User
	Committer  User
	CreatedAt  time.Time
	Comment    string
	Branch     string
	Changes    []ContentChange
	Deletes    []Delete
	MergesFrom []MergeRef
}

// Label is a single tag scoped to one changeset on one branch (spec §4.H
// has already resolved away any cross-changeset ambiguity by the time a
// Label value exists).
type Label struct {
	ChangesetID int64
	Branch      string
	Name        string
	Comment     string
	User        User
	CreatedAt   time.Time
}

// Package marks implements the mark allocator (spec §4.I): stable numeric
// commit identifiers so that later tags and merges can reference
// already-emitted commits. Modeled as an owned struct with explicit
// methods per spec §9 ("avoid free-function closures over mutable
// captures").
package marks

// key identifies one allocated mark by the source changeset id and the
// destination branch it was allocated for.
type key struct {
	changesetID int64
	branch      string
}

// Allocator assigns marks as changesetID*100 + a per-changeset local
// counter, and answers lookups by (changesetID, branch) or by branch alone
// (the driver's fallback when a merge's exact source changeset is
// unknown).
type Allocator struct {
	marks         map[key]int
	lastPerBranch map[string]int
	lastChangeset int64
	haveLast      bool
	lastLocal     int
}

// New returns an empty Allocator.
func New() *Allocator {
	return &Allocator{
		marks:         make(map[key]int),
		lastPerBranch: make(map[string]int),
	}
}

// Allocate assigns the next mark for (branch, changesetID). The local
// counter resets to changesetID*100 whenever changesetID differs from the
// changeset of the previous call, and otherwise increments by one —
// matching commits fanned out to multiple branches from the same source
// changeset.
func (a *Allocator) Allocate(branch string, changesetID int64) int {
	if !a.haveLast || changesetID != a.lastChangeset {
		a.lastLocal = int(changesetID) * 100
	} else {
		a.lastLocal++
	}
	a.lastChangeset = changesetID
	a.haveLast = true

	mark := a.lastLocal
	a.marks[key{changesetID: changesetID, branch: branch}] = mark
	a.lastPerBranch[branch] = mark
	return mark
}

// Lookup returns the mark allocated for (changesetID, branch), if any.
func (a *Allocator) Lookup(changesetID int64, branch string) (int, bool) {
	m, ok := a.marks[key{changesetID: changesetID, branch: branch}]
	return m, ok
}

// LastForBranch returns the most recently allocated mark on branch, the
// fallback used when a merge source's exact changeset is unknown.
func (a *Allocator) LastForBranch(branch string) (int, bool) {
	m, ok := a.lastPerBranch[branch]
	return m, ok
}

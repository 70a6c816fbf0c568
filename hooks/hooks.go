// Package hooks models the four pure, operator-supplied functions spec
// §4.F calls out: branch_extract, file_filter, content_rewrite and
// user_lookup. Per spec §9 ("Hooks as first-class values") they are a
// small struct of closures rather than an interface with one
// implementation per operator, so package config can build one straight
// from a declarative YAML document.
package hooks

import (
	"fmt"
	"sync"

	"github.com/kunom/tfs2git/blockstream"
	"github.com/kunom/tfs2git/tfsmodel"
)

// HookLookupMissingError is fatal: user_lookup raised for a user the
// pipeline needed to resolve.
type HookLookupMissingError struct {
	User tfsmodel.User
	Err  error
}

func (e *HookLookupMissingError) Error() string {
	return fmt.Sprintf("user lookup failed for %s: %v", e.User.QualifiedLogin(), e.Err)
}

func (e *HookLookupMissingError) Unwrap() error { return e.Err }

// BranchExtractFunc maps a full, already-unmangled source path to a branch
// and a branch-relative path. ok=false drops the file.
type BranchExtractFunc func(fullPath string) (branch, relPath string, ok bool)

// FileFilterFunc returns false to drop a file that branch_extract kept.
type FileFilterFunc func(branch, relPath string) bool

// ContentRewriteFunc may wholly rewrite a file's content; the returned
// length must equal the sum of the returned stream's block sizes.
type ContentRewriteFunc func(branch, relPath string, length int, blocks blockstream.Stream) (int, blockstream.Stream, error)

// UserLookupFunc resolves a source User to display identity. Hooks.Lookup
// wraps this with per-run memoization; implementations need not cache
// themselves.
type UserLookupFunc func(tfsmodel.User) (tfsmodel.ResolvedUser, error)

// Hooks bundles the four configurable functions together with the
// memoization cache user_lookup requires (spec §4.F: "results are
// memoized for the lifetime of the run").
type Hooks struct {
	BranchExtract  BranchExtractFunc
	FileFilter     FileFilterFunc
	ContentRewrite ContentRewriteFunc
	userLookup     UserLookupFunc

	mu    sync.Mutex
	cache map[int64]tfsmodel.ResolvedUser
}

// New builds a Hooks bundle. Any nil function is replaced with a no-op
// default: BranchExtract maps nothing, FileFilter keeps everything,
// ContentRewrite passes content through unchanged, and UserLookup returns
// the user's display name with no email.
func New(branchExtract BranchExtractFunc, fileFilter FileFilterFunc, contentRewrite ContentRewriteFunc, userLookup UserLookupFunc) *Hooks {
	if branchExtract == nil {
		branchExtract = func(string) (string, string, bool) { return "", "", false }
	}
	if fileFilter == nil {
		fileFilter = func(string, string) bool { return true }
	}
	if contentRewrite == nil {
		contentRewrite = func(_, _ string, length int, blocks blockstream.Stream) (int, blockstream.Stream, error) {
			return length, blocks, nil
		}
	}
	if userLookup == nil {
		userLookup = func(u tfsmodel.User) (tfsmodel.ResolvedUser, error) {
			return tfsmodel.ResolvedUser{DisplayName: u.DisplayName}, nil
		}
	}
	return &Hooks{
		BranchExtract:  branchExtract,
		FileFilter:     fileFilter,
		ContentRewrite: contentRewrite,
		userLookup:     userLookup,
		cache:          make(map[int64]tfsmodel.ResolvedUser),
	}
}

// Lookup resolves u, caching the result by u.InternalID for the lifetime of
// the Hooks value. A second call for the same id never re-invokes the
// underlying hook, matching the "call-once-per-input caching" the engine
// relies on.
func (h *Hooks) Lookup(u tfsmodel.User) (tfsmodel.ResolvedUser, error) {
	h.mu.Lock()
	if cached, ok := h.cache[u.InternalID]; ok {
		h.mu.Unlock()
		return cached, nil
	}
	h.mu.Unlock()

	resolved, err := h.userLookup(u)
	if err != nil {
		return tfsmodel.ResolvedUser{}, &HookLookupMissingError{User: u, Err: err}
	}

	h.mu.Lock()
	h.cache[u.InternalID] = resolved
	h.mu.Unlock()
	return resolved, nil
}

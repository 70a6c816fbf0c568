package tfsdb

import (
	"context"
	"fmt"

	"github.com/kunom/tfs2git/pathnorm"
)

// OversizedFile names a branch-relative path whose declared length is at or
// above the caller's oversize threshold (spec §4.F / §7 OversizeFile warning).
type OversizedFile struct {
	Branch  string
	RelPath string
	Length  int64
}

// BranchesInfo reports, for the `branches-info` inspection command, how
// every distinct versioned path in the source resolves: which branch and
// relative path branch_extract/file_filter assign it to, which paths they
// drop entirely, and which assigned paths are oversized. Translated from
// Repository10.get_branches_info.
type BranchesInfo struct {
	Assigned  map[string][]string
	Ignored   []string
	Oversized []OversizedFile
}

// BranchesInfo runs the hooks bundle over every distinct path the source
// has ever versioned. oversizeThreshold <= 0 disables the oversize report.
func (r *Repository) BranchesInfo(ctx context.Context, oversizeThreshold int64) (*BranchesInfo, error) {
	rows, err := r.db.QueryContext(ctx, branchFilesQuery)
	if err != nil {
		return nil, fmt.Errorf("querying branch files: %w", err)
	}
	defer rows.Close()

	info := &BranchesInfo{Assigned: make(map[string][]string)}
	for rows.Next() {
		var fullPath string
		var length int64
		if err := rows.Scan(&fullPath, &length); err != nil {
			return nil, err
		}
		unmangled := pathnorm.Unmangle(fullPath)
		branch, relPath, ok := r.hooks.BranchExtract(unmangled)
		if !ok {
			info.Ignored = append(info.Ignored, unmangled)
			continue
		}
		if !r.hooks.FileFilter(branch, relPath) {
			info.Ignored = append(info.Ignored, unmangled)
			continue
		}
		info.Assigned[branch] = append(info.Assigned[branch], relPath)
		if oversizeThreshold > 0 && length >= oversizeThreshold {
			info.Oversized = append(info.Oversized, OversizedFile{Branch: branch, RelPath: relPath, Length: length})
		}
	}
	return info, rows.Err()
}

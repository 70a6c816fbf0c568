package delta

import (
	"fmt"

	"github.com/kunom/tfs2git/blockstream"
	"github.com/kunom/tfs2git/scratch"
)

// Entry is one group of content chunks in a reconstructed chain: index 0 is
// the full-text anchor (already decompressed raw bytes), any subsequent
// entries are backward deltas applied in order against the previous
// result. FileID is used only to name scratch intermediates.
type Entry struct {
	FileID  int64
	Content blockstream.Stream
}

// Reconstructor materializes a requested file revision by walking its delta
// chain, choosing memory or disk mode by the requested revision's declared
// length against diskModeThreshold (default 10,000,000 bytes per spec §6).
type Reconstructor struct {
	applier           Applier
	store             *scratch.Store
	diskModeThreshold int
}

func NewReconstructor(applier Applier, store *scratch.Store, diskModeThreshold int) *Reconstructor {
	if diskModeThreshold <= 0 {
		diskModeThreshold = 10_000_000
	}
	return &Reconstructor{applier: applier, store: store, diskModeThreshold: diskModeThreshold}
}

// Reconstruct folds chain into the target revision's bytes. chain must be
// non-empty; an empty chain is a fatal schema inconsistency per spec §4.E.
func (r *Reconstructor) Reconstruct(requestedLength int, chain []Entry) (blockstream.Stream, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("empty delta chain: fatal schema inconsistency")
	}
	if len(chain) == 1 {
		return chain[0].Content, nil
	}
	if requestedLength > r.diskModeThreshold {
		return r.reconstructOnDisk(chain)
	}
	return r.reconstructInMemory(chain)
}

func (r *Reconstructor) reconstructInMemory(chain []Entry) (blockstream.Stream, error) {
	base, err := blockstream.ReadAll(chain[0].Content)
	if err != nil {
		return nil, fmt.Errorf("reading full-text anchor: %w", err)
	}
	if r.store != nil {
		_, _ = r.store.Create(fmt.Sprintf("fold-%d", chain[0].FileID), blockstream.FromBytes(base))
	}
	for _, entry := range chain[1:] {
		deltaBytes, err := blockstream.ReadAll(entry.Content)
		if err != nil {
			return nil, fmt.Errorf("reading delta for file %d: %w", entry.FileID, err)
		}
		next, err := r.applier.ApplyInMemory(base, deltaBytes)
		if err != nil {
			return nil, &DeltaApplyFailedError{Reason: err.Error()}
		}
		base = next
		if r.store != nil {
			_, _ = r.store.Create(fmt.Sprintf("fold-%d", entry.FileID), blockstream.FromBytes(base))
		}
	}
	return blockstream.FromBytes(base), nil
}

func (r *Reconstructor) reconstructOnDisk(chain []Entry) (blockstream.Stream, error) {
	if r.store == nil {
		return nil, fmt.Errorf("disk-mode reconstruction requires scratch storage")
	}
	baseName := fmt.Sprintf("disk-base-%d", chain[0].FileID)
	basePath, err := r.store.Create(baseName, chain[0].Content)
	if err != nil {
		return nil, fmt.Errorf("materializing full-text anchor: %w", err)
	}

	currentName := baseName
	currentPath := basePath
	for _, entry := range chain[1:] {
		deltaName := fmt.Sprintf("disk-delta-%d", entry.FileID)
		deltaPath, err := r.store.Create(deltaName, entry.Content)
		if err != nil {
			return nil, fmt.Errorf("materializing delta for file %d: %w", entry.FileID, err)
		}

		outName := fmt.Sprintf("disk-out-%d", entry.FileID)
		outPath, err := r.store.Create(outName, nil)
		if err != nil {
			return nil, fmt.Errorf("allocating output for file %d: %w", entry.FileID, err)
		}
		if err := r.applier.ApplyOnDisk(currentPath, deltaPath, outPath); err != nil {
			return nil, &DeltaApplyFailedError{Reason: err.Error()}
		}

		if currentName != baseName {
			_ = r.store.Remove(currentName)
		}
		_ = r.store.Remove(deltaName)

		currentName = outName
		currentPath = outPath
	}

	return r.store.Read(currentName, 1<<20, true)
}

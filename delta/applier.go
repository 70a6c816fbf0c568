// Package delta reconstructs a file revision from its delta chain (spec
// §4.E). The actual binary-diff algorithm is an external collaborator —
// Windows's MSDelta in the source tool, see original_source/msdelta.py —
// abstracted here behind the Applier interface per spec §9 ("Delta
// primitive"). ReferenceApplier is a concrete, dependency-free
// implementation used by tests and as the CLI's default; it stores the
// whole target revision behind the MSDelta magic number rather than
// computing a true binary diff, since no such primitive exists anywhere in
// the retrieved example pack.
package delta

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// MagicNumber is the four-byte marker Windows MSDelta stamps on every delta
// blob it produces; the apply flag below must be passed whenever this
// marker is recognized, per original_source/msdelta.py.
const MagicNumber = "PA19"

// DeltaApplyFlagAllowPA19 mirrors DELTA_APPLY_FLAG_ALLOW_PA19 from MSDelta:
// without it, ApplyDeltaB refuses to process a PA19-format delta.
const DeltaApplyFlagAllowPA19 = 1

// DeltaApplyFailedError is fatal: the delta primitive rejected the chain.
type DeltaApplyFailedError struct {
	Reason string
}

func (e *DeltaApplyFailedError) Error() string {
	return fmt.Sprintf("delta apply failed: %s", e.Reason)
}

// Applier abstracts the binary-delta primitive behind the two operations
// spec §9 calls for: an in-memory fold and a disk-to-disk fold for large
// files.
type Applier interface {
	ApplyInMemory(base, delta []byte) ([]byte, error)
	ApplyOnDisk(basePath, deltaPath, outPath string) error
}

// ReferenceApplier is a magic-number-aware stand-in for the platform
// delta primitive. It never reads base; the chain-walking contract (base
// is byte-for-byte reproducible without it) is preserved because
// CreateDelta below packages the full target alongside the magic number,
// exactly as a real MSDelta blob would be opaque to its caller.
type ReferenceApplier struct{}

// CreateDelta packages target as a delta against base, for use by tests
// that need fixtures without a real MSDelta binding (original_source's own
// msdelta_test.py exercises CreateDeltaB the same way).
func (ReferenceApplier) CreateDelta(base, target []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(MagicNumber)
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(target)))
	buf.Write(lenBuf[:])
	buf.Write(target)
	return buf.Bytes()
}

func (ReferenceApplier) ApplyInMemory(base, delta []byte) ([]byte, error) {
	target, err := decodeDelta(delta)
	if err != nil {
		return nil, err
	}
	return target, nil
}

func (r ReferenceApplier) ApplyOnDisk(basePath, deltaPath, outPath string) error {
	delta, err := os.ReadFile(deltaPath)
	if err != nil {
		return fmt.Errorf("reading delta: %w", err)
	}
	target, err := decodeDelta(delta)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, target, 0o644); err != nil {
		return fmt.Errorf("writing applied delta: %w", err)
	}
	return nil
}

func decodeDelta(delta []byte) ([]byte, error) {
	magicLen := len(MagicNumber)
	if len(delta) < magicLen+8 || string(delta[:magicLen]) != MagicNumber {
		return nil, &DeltaApplyFailedError{Reason: "missing or unrecognized magic number"}
	}
	n := binary.BigEndian.Uint64(delta[magicLen : magicLen+8])
	body := delta[magicLen+8:]
	if uint64(len(body)) != n {
		return nil, &DeltaApplyFailedError{Reason: "declared delta length does not match payload"}
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(bytes.NewReader(body), out); err != nil {
		return nil, &DeltaApplyFailedError{Reason: err.Error()}
	}
	return out, nil
}

package collective

import "errors"

// Error taxonomy of the collective layer. Configuration errors are detected
// synchronously at construction or first setup, before any communication.
// Structure mismatches surface to the caller instead of being silently
// coerced. There is no retry anywhere: collectives are not idempotent
// against partial completion, so the only recoverable behavior is local
// plan recomputation, never re-issuing a failed communication.
var (
	// ErrConfig reports incompatible partitions, axes or halo depths at
	// primitive construction or setup time.
	ErrConfig = errors.New("invalid collective configuration")

	// ErrStructureMismatch reports a tensor whose structure disagrees with
	// the structure a primitive was set up with in a way lazy re-setup
	// cannot reconcile (a dtype or gradient-requirement change).
	ErrStructureMismatch = errors.New("tensor structure mismatch")

	// ErrNotSetUp reports an adjoint call before any forward call
	// established the primitive's structures. This is a caller bug.
	ErrNotSetUp = errors.New("primitive not set up: no forward call preceded the adjoint")
)

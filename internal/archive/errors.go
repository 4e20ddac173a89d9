package archive

import (
	"fmt"

	"github.com/rnleach/bufkit-data/internal/index"
	"github.com/rnleach/bufkit-data/internal/inventory"
)

// Re-exported sentinels so callers of the facade branch with errors.Is
// without importing the storage packages.
var (
	ErrNotFound         = index.ErrNotFound
	ErrDuplicateSite    = index.ErrDuplicateSite
	ErrDuplicateFile    = index.ErrDuplicateFile
	ErrInsufficientData = inventory.ErrInsufficientData
)

// IdentityMismatchError is returned when a caller-supplied site id hint
// disagrees with the id embedded in the sounding text. Content is ground
// truth; the hint is rejected rather than silently overridden.
type IdentityMismatchError struct {
	Hint     string
	Embedded string
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("site id hint %q disagrees with embedded id %q", e.Hint, e.Embedded)
}

package repository

import (
	"fmt"

	"github.com/baharkarakas/paygate/internal/apperr"
)

// ErrNotFound is returned by every Get* when no row matches.
var ErrNotFound = apperr.ErrNotFound

// ErrDuplicate is returned on a unique-key violation.
var ErrDuplicate = fmt.Errorf("%w: duplicate key", apperr.ErrConflict)

// ErrSelectionUsed is returned when an upsert targets a consumed store selection.
var ErrSelectionUsed = fmt.Errorf("%w: store selection already used", apperr.ErrConflict)

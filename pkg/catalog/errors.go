package catalog

import "errors"

var (
	ErrUnknownPlan    = errors.New("catalog: unknown plan/period combination")
	ErrUnknownProduct = errors.New("catalog: unknown external product identifier")
	ErrDuplicateEntry = errors.New("catalog: duplicate catalog entry")
	ErrInvalidEntry   = errors.New("catalog: invalid catalog entry")

	ErrFailedToLoadEntries = errors.New("catalog: failed to load catalog entries")
)

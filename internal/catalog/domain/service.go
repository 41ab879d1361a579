package domain

import "errors"

// Service resolves operation codes against the closed catalog.
// Unknown codes are a hard error, never treated as zero-cost.
type Service interface {
	Resolve(code string) (*Operation, error)
	List() []Operation
}

var (
	ErrUnknownOperation = errors.New("unknown_operation")
	ErrInvalidCatalog   = errors.New("invalid_catalog")
)

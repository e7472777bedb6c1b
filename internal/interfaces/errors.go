package interfaces

import "errors"

// Storage sentinels. Implementations translate their own not-found
// errors into these so callers never depend on the storage engine.
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrPageNotFound    = errors.New("page not found")
	ErrAlreadyTerminal = errors.New("job already terminal")
)

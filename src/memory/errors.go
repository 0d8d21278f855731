package memory

import "errors"

var (
	// ErrBankNotFound signals an unconfigured memory id.
	ErrBankNotFound = errors.New("memory bank not found")

	// ErrStorageCorrupt signals an unreadable persisted bank. The affected
	// bank is treated as empty; other banks stay usable.
	ErrStorageCorrupt = errors.New("memory storage corrupt")
)

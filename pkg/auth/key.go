// Package auth provides the shared-key primitives of the fencing protocol.
package auth

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// MaxKeyLength bounds how much of a key file is read.
const MaxKeyLength = 4096

// ErrEmptyKey is returned for a key file with no content.
var ErrEmptyKey = errors.New("auth: key file is empty")

// ReadKeyFile reads up to MaxKeyLength bytes of key material from path.
func ReadKeyFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer f.Close()

	key, err := io.ReadAll(io.LimitReader(f, MaxKeyLength))
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyKey)
	}
	return key, nil
}

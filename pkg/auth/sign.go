package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/pkg/wire"
)

// hashFunc returns the constructor for a hash type, nil for none.
func hashFunc(h domain.HashType) (func() hash.Hash, error) {
	switch h {
	case domain.HashNone:
		return nil, nil
	case domain.HashSHA1:
		return sha1.New, nil
	case domain.HashSHA256:
		return sha256.New, nil
	case domain.HashSHA512:
		return sha512.New, nil
	}
	return nil, domain.ErrUnsupportedHash
}

// mac computes the keyed hash of a request with its hash field zeroed.
func mac(req *wire.Request, key []byte) ([]byte, error) {
	fn, err := hashFunc(req.HashType)
	if err != nil || fn == nil {
		return nil, err
	}
	m := hmac.New(fn, key)
	m.Write(req.WithoutHash())
	return m.Sum(nil), nil
}

// Sign zeroes the hash field of req and writes the keyed hash selected by
// req.HashType into it. HashNone leaves the field zeroed.
func Sign(req *wire.Request, key []byte) error {
	clear(req.Hash[:])
	if req.HashType == domain.HashNone {
		return nil
	}
	if len(key) == 0 {
		return domain.ErrNoKey
	}
	sum, err := mac(req, key)
	if err != nil {
		return err
	}
	copy(req.Hash[:], sum)
	return nil
}

// Verify checks req against key. It fails if the request's hash is weaker
// than minimum, or if hashing is in play and no key is available.
// req is not modified.
func Verify(req *wire.Request, minimum domain.HashType, key []byte) error {
	if req.HashType < minimum {
		return domain.ErrHashTooWeak
	}
	if req.HashType == domain.HashNone {
		return nil
	}
	if len(key) == 0 {
		return domain.ErrNoKey
	}

	sum, err := mac(req, key)
	if err != nil {
		return err
	}

	var want [wire.MaxHashLength]byte
	copy(want[:], sum)
	if !hmac.Equal(want[:], req.Hash[:]) {
		return domain.ErrVerifyFailed
	}
	return nil
}

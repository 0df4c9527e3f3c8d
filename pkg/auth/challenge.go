package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

// ChallengeSize is the number of random bytes in a challenge.
const ChallengeSize = 64

// digest computes hash(key || challenge).
func digest(h domain.HashType, key, challenge []byte) ([]byte, error) {
	fn, err := hashFunc(h)
	if err != nil {
		return nil, err
	}
	d := fn()
	d.Write(key)
	d.Write(challenge)
	return d.Sum(nil), nil
}

// Challenge sends a random challenge and checks that the peer answers
// with hash(key || challenge) within timeout.
func Challenge(conn net.Conn, h domain.HashType, key []byte, timeout time.Duration) error {
	if h == domain.HashNone {
		return nil
	}
	if len(key) == 0 {
		return domain.ErrNoKey
	}

	challenge := make([]byte, ChallengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return fmt.Errorf("generate challenge: %w", err)
	}
	want, err := digest(h, key, challenge)
	if err != nil {
		return err
	}

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write(challenge); err != nil {
		return fmt.Errorf("send challenge: %w", err)
	}
	got := make([]byte, len(want))
	if _, err := io.ReadFull(conn, got); err != nil {
		return fmt.Errorf("read challenge response: %w", err)
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return domain.ErrChallengeFailed
	}
	return nil
}

// Respond reads a challenge and answers it with hash(key || challenge)
// within timeout.
func Respond(conn net.Conn, h domain.HashType, key []byte, timeout time.Duration) error {
	if h == domain.HashNone {
		return nil
	}
	if len(key) == 0 {
		return domain.ErrNoKey
	}

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	challenge := make([]byte, ChallengeSize)
	if _, err := io.ReadFull(conn, challenge); err != nil {
		return fmt.Errorf("read challenge: %w", err)
	}
	answer, err := digest(h, key, challenge)
	if err != nil {
		return err
	}
	if _, err := conn.Write(answer); err != nil {
		return fmt.Errorf("send challenge response: %w", err)
	}
	return nil
}

// ServerHandshake authenticates the peer and then proves the local key.
func ServerHandshake(conn net.Conn, h domain.HashType, key []byte, timeout time.Duration) error {
	if err := Challenge(conn, h, key, timeout); err != nil {
		return err
	}
	return Respond(conn, h, key, timeout)
}

// ClientHandshake is the mirror of ServerHandshake.
func ClientHandshake(conn net.Conn, h domain.HashType, key []byte, timeout time.Duration) error {
	if err := Respond(conn, h, key, timeout); err != nil {
		return err
	}
	return Challenge(conn, h, key, timeout)
}

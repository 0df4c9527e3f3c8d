package listener

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/internal/server/config"
	"github.com/yndnr/fencevirt-go/pkg/auth"
)

// Auth is the loaded authentication policy of a network listener.
type Auth struct {
	// Key is the shared key. It is empty only when Hash and Handshake are
	// both none.
	Key []byte

	// Hash is the weakest keyed hash accepted on requests.
	Hash domain.HashType

	// Handshake is the hash used for challenge-response.
	Handshake domain.HashType

	// Timeout bounds every read and write of an interaction.
	Timeout time.Duration
}

// LoadAuth parses cfg and reads the key file when one is needed.
func LoadAuth(cfg config.AuthConfig) (Auth, error) {
	a := Auth{Timeout: cfg.IOTimeout}
	if a.Timeout <= 0 {
		a.Timeout = config.DefaultIOTimeout
	}

	var err error
	if a.Hash, err = domain.ParseHashType(cfg.Hash); err != nil {
		return Auth{}, err
	}
	if a.Handshake, err = domain.ParseHashType(cfg.Auth); err != nil {
		return Auth{}, err
	}

	if a.Hash == domain.HashNone && a.Handshake == domain.HashNone {
		return a, nil
	}
	if cfg.KeyFile == "" {
		return Auth{}, domain.ErrNoKey.WithDetails("key_file is required when hashing is enabled")
	}
	if a.Key, err = auth.ReadKeyFile(cfg.KeyFile); err != nil {
		return Auth{}, fmt.Errorf("load key: %w", err)
	}
	return a, nil
}

// LogValue implements slog.LogValuer. Key material is never logged.
func (a Auth) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("hash", a.Hash.String()),
		slog.String("auth", a.Handshake.String()),
		slog.Int("key_bytes", len(a.Key)),
		slog.Duration("io_timeout", a.Timeout),
	)
}

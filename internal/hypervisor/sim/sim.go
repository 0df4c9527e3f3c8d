// Package sim is a simulated hypervisor that keeps domain definitions and
// power state in badger. It registers the "sim" URI scheme:
//
//	sim:///var/lib/fencevirt/sim   on-disk store at the given path
//	sim://memory                   in-memory store
//	sim://memory/<name>            named in-memory store
//
// In-memory stores are shared by every connection in the process that uses
// the same name and live until the process exits, so a reconnecting backend
// sees the same domains.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/internal/hypervisor"
	"github.com/yndnr/fencevirt-go/internal/telemetry/logger"
)

// Scheme is the URI scheme handled by this driver.
const Scheme = "sim"

var (
	domainPrefix = []byte("domain/")
	uuidPrefix   = []byte("uuid/")
)

// ErrNotRunning is returned by Destroy for a domain that is already off.
var ErrNotRunning = errors.New("sim: domain is not running")

// ErrRunning is returned by Create for a domain that is already on.
var ErrRunning = errors.New("sim: domain is already running")

func init() {
	hypervisor.Register(Scheme, func(ctx context.Context, u *url.URL, l *slog.Logger) (hypervisor.Hypervisor, error) {
		return Open(u, l)
	})
}

type record struct {
	Name    string `cbor:"1,keyasint"`
	UUID    string `cbor:"2,keyasint"`
	Running bool   `cbor:"3,keyasint"`
}

// Sim is a connection to a simulated hypervisor.
type Sim struct {
	db     *badger.DB
	shared bool
	logger *slog.Logger
}

var (
	memoryMu sync.Mutex
	memory   = make(map[string]*badger.DB)
)

// Open opens the store named by u.
func Open(u *url.URL, l *slog.Logger) (*Sim, error) {
	if l == nil {
		l = slog.Default()
	}
	if u.Host == "memory" {
		return openMemory(u.Path, l)
	}
	if u.Path == "" {
		return nil, fmt.Errorf("sim: uri %q has no path", u.String())
	}
	return OpenDir(u.Path, l)
}

// OpenDir opens an on-disk store.
func OpenDir(dir string, l *slog.Logger) (*Sim, error) {
	if l == nil {
		l = slog.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(logger.Badger(l))
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("sim: open %s: %w", dir, err)
	}
	return &Sim{db: db, logger: l}, nil
}

func openMemory(name string, l *slog.Logger) (*Sim, error) {
	memoryMu.Lock()
	defer memoryMu.Unlock()

	db, ok := memory[name]
	if !ok {
		opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(logger.Badger(l))
		var err error
		db, err = badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("sim: open memory store: %w", err)
		}
		memory[name] = db
	}
	return &Sim{db: db, shared: true, logger: l}, nil
}

func domainKey(name string) []byte {
	return append(append([]byte(nil), domainPrefix...), name...)
}

func uuidKey(id string) []byte {
	return append(append([]byte(nil), uuidPrefix...), id...)
}

func getRecord(txn *badger.Txn, name string) (record, error) {
	var rec record
	item, err := txn.Get(domainKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return rec, domain.ErrDomainNotFound.WithDetails(name)
	}
	if err != nil {
		return rec, err
	}
	err = item.Value(func(v []byte) error {
		return cbor.Unmarshal(v, &rec)
	})
	return rec, err
}

func putRecord(txn *badger.Txn, rec record) error {
	v, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(domainKey(rec.Name), v)
}

func (r record) domain() hypervisor.Domain {
	return hypervisor.Domain{Name: r.Name, UUID: r.UUID, Running: r.Running}
}

// Define adds a stopped domain. An empty id generates a random UUID.
func (s *Sim) Define(_ context.Context, name, id string) (hypervisor.Domain, error) {
	if name == "" {
		return hypervisor.Domain{}, fmt.Errorf("sim: empty domain name")
	}
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return hypervisor.Domain{}, fmt.Errorf("sim: invalid uuid %q: %w", id, err)
	}

	rec := record{Name: name, UUID: id}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(domainKey(name)); err == nil {
			return fmt.Errorf("sim: domain %q already defined", name)
		}
		if _, err := txn.Get(uuidKey(id)); err == nil {
			return fmt.Errorf("sim: uuid %s already in use", id)
		}
		if err := putRecord(txn, rec); err != nil {
			return err
		}
		return txn.Set(uuidKey(id), []byte(name))
	})
	if err != nil {
		return hypervisor.Domain{}, err
	}

	s.logger.Debug("domain defined", "domain", name, "uuid", id)
	return rec.domain(), nil
}

// Undefine removes a domain.
func (s *Sim) Undefine(_ context.Context, name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, name)
		if err != nil {
			return err
		}
		if err := txn.Delete(uuidKey(rec.UUID)); err != nil {
			return err
		}
		return txn.Delete(domainKey(name))
	})
}

// Lookup implements hypervisor.Hypervisor.
func (s *Sim) Lookup(_ context.Context, target string, byUUID bool) (hypervisor.Domain, error) {
	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		name := target
		if byUUID {
			item, err := txn.Get(uuidKey(target))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrDomainNotFound.WithDetails(target)
			}
			if err != nil {
				return err
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			name = string(v)
		}
		var err error
		rec, err = getRecord(txn, name)
		return err
	})
	return rec.domain(), err
}

func (s *Sim) setRunning(name string, running bool) error {
	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, name)
		if err != nil {
			return err
		}
		switch {
		case rec.Running == running && running:
			return ErrRunning
		case rec.Running == running:
			return ErrNotRunning
		}
		rec.Running = running
		return putRecord(txn, rec)
	})
}

// Destroy implements hypervisor.Hypervisor.
func (s *Sim) Destroy(_ context.Context, name string) error {
	if err := s.setRunning(name, false); err != nil {
		return err
	}
	s.logger.Info("domain destroyed", "domain", name)
	return nil
}

// Create implements hypervisor.Hypervisor.
func (s *Sim) Create(_ context.Context, name string) error {
	if err := s.setRunning(name, true); err != nil {
		return err
	}
	s.logger.Info("domain started", "domain", name)
	return nil
}

// List implements hypervisor.Hypervisor. Domains are sorted by name.
func (s *Sim) List(_ context.Context) ([]hypervisor.Domain, error) {
	var out []hypervisor.Domain
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = domainPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec record
			if err := it.Item().Value(func(v []byte) error {
				return cbor.Unmarshal(v, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec.domain())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

// Close implements hypervisor.Hypervisor. Shared in-memory stores stay open.
func (s *Sim) Close() error {
	if s.shared {
		return nil
	}
	return s.db.Close()
}

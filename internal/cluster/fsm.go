package cluster

import (
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/raft"
)

// entryKind is the kind of a raft log entry.
type entryKind uint8

const (
	// entryMessage carries one group message.
	entryMessage entryKind = 1

	// entryView carries a new member list.
	entryView entryKind = 2
)

// logEntry is the CBOR body of a raft log entry.
type logEntry struct {
	Kind    entryKind `cbor:"1,keyasint"`
	From    NodeID    `cbor:"2,keyasint,omitempty"`
	At      int64     `cbor:"3,keyasint"`
	Msg     []byte    `cbor:"4,keyasint,omitempty"`
	Members []NodeID  `cbor:"5,keyasint,omitempty"`
}

func (e *logEntry) encode() ([]byte, error) {
	return encMode.Marshal(e)
}

func decodeEntry(data []byte) (*logEntry, error) {
	var e logEntry
	if err := decMode.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	switch e.Kind {
	case entryMessage:
		var m Message
		if err := m.UnmarshalBinary(e.Msg); err != nil {
			return nil, err
		}
	case entryView:
	default:
		return nil, fmt.Errorf("unknown entry kind %d", e.Kind)
	}
	return &e, nil
}

// fsm turns committed raft entries into group deliveries.
//
// Entries committed before this member started are replayed by raft when
// it catches up. Stale messages are dropped so old requests are never acted
// on twice; stale views only update the member list.
type fsm struct {
	mu        sync.Mutex
	members   []NodeID // state replicated through raft
	delivered []NodeID // last view handed to the queue
	started   int64
	q         *queue
	logger    *slog.Logger
}

func newFSM(q *queue, started time.Time, logger *slog.Logger) *fsm {
	if logger == nil {
		logger = slog.Default()
	}
	return &fsm{q: q, started: started.UnixNano(), logger: logger}
}

// Apply implements raft.FSM. Entries are validated before they are
// proposed, so a bad entry here means a corrupted log.
func (f *fsm) Apply(log *raft.Log) interface{} {
	if log.Type != raft.LogCommand {
		return nil
	}
	e, err := decodeEntry(log.Data)
	if err != nil {
		f.logger.Error("FATAL: failed to decode log entry - data corrupted",
			"error", err,
			"log_index", log.Index,
			"log_term", log.Term)
		panic(fmt.Sprintf("fsm.Apply: decode failed at index=%d: %v", log.Index, err))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	stale := e.At < f.started
	switch e.Kind {
	case entryMessage:
		if stale {
			f.logger.Debug("dropping replayed group message", "log_index", log.Index)
			return nil
		}
		var m Message
		_ = m.UnmarshalBinary(e.Msg)
		f.q.push(event{from: e.From, msg: &m})

	case entryView:
		f.members = slices.Clone(e.Members)
		slices.Sort(f.members)
		if stale {
			return nil
		}
		v := diffView(f.delivered, f.members)
		f.delivered = v.Members
		if len(v.Joined) > 0 || len(v.Left) > 0 {
			f.q.push(event{view: &v})
		}
	}
	return nil
}

// Members returns the replicated member list.
func (f *fsm) Members() []NodeID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.members)
}

// Snapshot implements raft.FSM.
func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &fsmSnapshot{members: slices.Clone(f.members)}, nil
}

// Restore implements raft.FSM.
func (f *fsm) Restore(r io.ReadCloser) error {
	defer r.Close()

	gzReader, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzReader.Close()

	var members []NodeID
	if err := decMode.NewDecoder(gzReader).Decode(&members); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	f.members = members
	f.mu.Unlock()

	f.logger.Info("fsm state restored from snapshot", "member_count", len(members))
	return nil
}

// fsmSnapshot implements raft.FSMSnapshot.
type fsmSnapshot struct {
	members []NodeID
}

// Persist writes the gzip-compressed member list to the sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		gzWriter := gzip.NewWriter(sink)
		if err := encMode.NewEncoder(gzWriter).Encode(s.members); err != nil {
			gzWriter.Close()
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if err := gzWriter.Close(); err != nil {
			return fmt.Errorf("close gzip writer: %w", err)
		}
		return nil
	}()

	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

// Release implements raft.FSMSnapshot.
func (s *fsmSnapshot) Release() {}

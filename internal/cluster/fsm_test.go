package cluster

import (
	"bytes"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/hashicorp/raft"
)

func messageLog(t *testing.T, index uint64, from NodeID, at time.Time, seq uint32) *raft.Log {
	t.Helper()
	body, _ := (&Message{Type: MessageReply, SeqNo: seq, Payload: []byte{0}}).MarshalBinary()
	data, err := (&logEntry{Kind: entryMessage, From: from, At: at.UnixNano(), Msg: body}).encode()
	if err != nil {
		t.Fatalf("encode() error = %v", err)
	}
	return &raft.Log{Index: index, Type: raft.LogCommand, Data: data}
}

func viewLog(t *testing.T, index uint64, at time.Time, members ...NodeID) *raft.Log {
	t.Helper()
	data, err := (&logEntry{Kind: entryView, At: at.UnixNano(), Members: members}).encode()
	if err != nil {
		t.Fatalf("encode() error = %v", err)
	}
	return &raft.Log{Index: index, Type: raft.LogCommand, Data: data}
}

func TestFSM_Apply(t *testing.T) {
	started := time.Now()
	q := newQueue()
	rec := &recordingDelivery{}
	q.start(rec)
	defer q.close()
	f := newFSM(q, started, nil)

	old := started.Add(-time.Minute)
	fresh := started.Add(time.Millisecond)

	f.Apply(viewLog(t, 1, old, 1))
	f.Apply(messageLog(t, 2, 1, old, 7))
	f.Apply(viewLog(t, 3, fresh, 2, 1))
	f.Apply(messageLog(t, 4, 2, fresh, 8))
	f.Apply(viewLog(t, 5, fresh, 1, 2))
	f.Apply(&raft.Log{Index: 6, Type: raft.LogConfiguration})

	if got := f.Members(); !slices.Equal(got, []NodeID{1, 2}) {
		t.Errorf("Members() = %v, want [1 2]", got)
	}

	want := []string{"view [1 2]", "msg 2/8"}
	eventually(t, time.Second, func() bool { return len(rec.snapshot()) == len(want) })
	// Give a stray delivery a chance to show up.
	time.Sleep(20 * time.Millisecond)
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Errorf("delivered %v, want %v", got, want)
	}
}

func TestFSM_ApplyCorrupt(t *testing.T) {
	f := newFSM(newQueue(), time.Now(), nil)
	defer func() {
		if recover() == nil {
			t.Error("Apply() of a corrupt entry did not panic")
		}
	}()
	f.Apply(&raft.Log{Index: 1, Type: raft.LogCommand, Data: []byte{0xff, 0x00}})
}

func TestDecodeEntry(t *testing.T) {
	bad, _ := (&logEntry{Kind: entryMessage, Msg: []byte{1, 2}}).encode()
	if _, err := decodeEntry(bad); err == nil {
		t.Error("decodeEntry() accepted a truncated message")
	}
	unknown, _ := (&logEntry{Kind: 9}).encode()
	if _, err := decodeEntry(unknown); err == nil {
		t.Error("decodeEntry() accepted an unknown kind")
	}
}

// memorySink is a raft.SnapshotSink backed by a buffer.
type memorySink struct {
	bytes.Buffer
	cancelled bool
}

func (s *memorySink) ID() string    { return "test" }
func (s *memorySink) Close() error  { return nil }
func (s *memorySink) Cancel() error { s.cancelled = true; return nil }

func TestFSM_SnapshotRestore(t *testing.T) {
	f := newFSM(newQueue(), time.Now(), nil)
	f.Apply(viewLog(t, 1, time.Now().Add(-time.Hour), 3, 1, 2))

	snap, err := f.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	sink := &memorySink{}
	if err := snap.Persist(sink); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	snap.Release()
	if sink.cancelled {
		t.Fatal("Persist() cancelled the sink")
	}

	restored := newFSM(newQueue(), time.Now(), nil)
	if err := restored.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := restored.Members(); !slices.Equal(got, []NodeID{1, 2, 3}) {
		t.Errorf("Members() = %v, want [1 2 3]", got)
	}

	if err := restored.Restore(io.NopCloser(bytes.NewReader([]byte("not gzip")))); err == nil {
		t.Error("Restore() accepted garbage")
	}
}

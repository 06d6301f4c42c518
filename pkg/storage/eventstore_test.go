package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/custodex/custodex/pkg/events"
	"github.com/custodex/custodex/pkg/util"
)

type noteEvent struct {
	Note string `json:"note"`
}

func (noteEvent) Type() string { return "Note" }

func newTestStore(t *testing.T) *EventStore {
	t.Helper()
	s, err := NewEventStore(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func appendRecords(t *testing.T, l *events.Log, n int) []events.Record {
	t.Helper()
	var recs []events.Record
	for i := 0; i < n; i++ {
		rec, err := l.Append(noteEvent{Note: "n"})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		recs = append(recs, rec)
	}
	return recs
}

func TestEventStoreAppendLoad(t *testing.T) {
	s := newTestStore(t)
	l := events.NewLog(util.NewManualClock(time.Unix(1_700_000_000, 0)))

	for _, rec := range appendRecords(t, l, 5) {
		if err := s.Append(rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.Load(2, 4)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	for i, rec := range got {
		if rec.Seq != uint64(i)+2 {
			t.Errorf("record %d: seq = %d, want %d", i, rec.Seq, i+2)
		}
		if rec.Type != "Note" {
			t.Errorf("record %d: type = %s", i, rec.Type)
		}
	}
}

func TestEventStoreLastSeq(t *testing.T) {
	s := newTestStore(t)

	last, err := s.LastSeq()
	if err != nil {
		t.Fatalf("lastSeq: %v", err)
	}
	if last != 0 {
		t.Errorf("empty store lastSeq = %d, want 0", last)
	}

	l := events.NewLog(util.NewManualClock(time.Unix(1_700_000_000, 0)))
	for _, rec := range appendRecords(t, l, 12) {
		if err := s.Append(rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	last, err = s.LastSeq()
	if err != nil {
		t.Fatalf("lastSeq: %v", err)
	}
	if last != 12 {
		t.Errorf("lastSeq = %d, want 12", last)
	}
}

func TestEventStoreAppendBatch(t *testing.T) {
	s := newTestStore(t)
	l := events.NewLog(util.NewManualClock(time.Unix(1_700_000_000, 0)))

	recs := appendRecords(t, l, 4)
	if err := s.AppendBatch(recs); err != nil {
		t.Fatalf("appendBatch: %v", err)
	}

	got, err := s.Load(1, 4)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("got %d records, want 4", len(got))
	}
	// The hash chain survives the round trip.
	for i, rec := range got {
		if rec.Hash != recs[i].Hash || rec.PrevHash != recs[i].PrevHash {
			t.Errorf("record %d: hash mismatch after round trip", rec.Seq)
		}
	}
}

func TestEventStoreFollow(t *testing.T) {
	s := newTestStore(t)
	l := events.NewLog(util.NewManualClock(time.Unix(1_700_000_000, 0)))

	ch := l.Subscribe(16)
	done := make(chan struct{})
	go func() {
		s.Follow(ch, nil)
		close(done)
	}()

	appendRecords(t, l, 3)
	l.Close()
	<-done

	last, err := s.LastSeq()
	if err != nil {
		t.Fatalf("lastSeq: %v", err)
	}
	if last != 3 {
		t.Errorf("lastSeq = %d, want 3", last)
	}
}

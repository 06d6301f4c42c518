package events

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/custodex/custodex/pkg/util"
)

type noteEvent struct {
	Note string `json:"note"`
}

func (noteEvent) Type() string { return "Note" }

func newTestLog() *Log {
	return NewLog(util.NewManualClock(time.Unix(1_700_000_000, 0)))
}

func TestLogAppendAssignsSequence(t *testing.T) {
	l := newTestLog()

	for i := 1; i <= 3; i++ {
		rec, err := l.Append(noteEvent{Note: "n"})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if rec.Seq != uint64(i) {
			t.Errorf("seq = %d, want %d", rec.Seq, i)
		}
		if rec.Time < 1 {
			t.Errorf("time = %d, want >= 1", rec.Time)
		}
	}
	if l.Len() != 3 {
		t.Errorf("len = %d, want 3", l.Len())
	}
}

func TestLogHashChain(t *testing.T) {
	l := newTestLog()

	var prev common.Hash
	for i := 0; i < 5; i++ {
		rec, err := l.Append(noteEvent{Note: "n"})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if rec.PrevHash != prev {
			t.Errorf("record %d: prevHash = %s, want %s", rec.Seq, rec.PrevHash, prev)
		}
		if rec.Hash == (common.Hash{}) {
			t.Errorf("record %d: empty hash", rec.Seq)
		}
		prev = rec.Hash
	}

	if err := l.Verify(); err != nil {
		t.Errorf("verify: %v", err)
	}
}

func TestLogVerifyDetectsTampering(t *testing.T) {
	l := newTestLog()
	for i := 0; i < 3; i++ {
		if _, err := l.Append(noteEvent{Note: "n"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	l.records[1].Payload = []byte(`{"note":"tampered"}`)
	if err := l.Verify(); err == nil {
		t.Error("verify accepted a tampered record")
	}
}

func TestLogSubscribe(t *testing.T) {
	l := newTestLog()
	ch := l.Subscribe(8)

	if _, err := l.Append(noteEvent{Note: "first"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := l.Append(noteEvent{Note: "second"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	rec := <-ch
	if rec.Seq != 1 {
		t.Errorf("first delivery seq = %d, want 1", rec.Seq)
	}
	rec = <-ch
	if rec.Seq != 2 {
		t.Errorf("second delivery seq = %d, want 2", rec.Seq)
	}

	l.Close()
	if _, open := <-ch; open {
		t.Error("channel still open after Close")
	}
}

func TestLogSlowSubscriberDropped(t *testing.T) {
	l := newTestLog()
	ch := l.Subscribe(1)

	// Second append overflows the buffer; the log must not block.
	l.Append(noteEvent{Note: "kept"})
	l.Append(noteEvent{Note: "dropped"})

	rec := <-ch
	if rec.Seq != 1 {
		t.Errorf("delivered seq = %d, want 1", rec.Seq)
	}
	select {
	case rec := <-ch:
		t.Errorf("unexpected delivery: %+v", rec)
	default:
	}
}

func TestLogRecordsFrom(t *testing.T) {
	l := newTestLog()
	for i := 0; i < 5; i++ {
		l.Append(noteEvent{Note: "n"})
	}

	recs := l.RecordsFrom(3)
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].Seq != 3 || recs[2].Seq != 5 {
		t.Errorf("range = [%d, %d], want [3, 5]", recs[0].Seq, recs[2].Seq)
	}
	if got := l.RecordsFrom(6); got != nil {
		t.Errorf("out-of-range query returned %d records", len(got))
	}
}

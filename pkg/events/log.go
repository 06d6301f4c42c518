// Package events provides the append-only, ordered record of every
// state-changing operation on the exchange and its token ledgers.
//
// Token ledgers and the exchange share one Log so that the ordering
// contract consumed by external indexers (ledger Transfer before the
// exchange's own Deposit/Withdraw) is a property of a single sequence.
package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/custodex/custodex/pkg/crypto"
	"github.com/custodex/custodex/pkg/util"
)

// Event is a state-change notification. Type returns the stable wire name
// ("Transfer", "Deposit", "Order", ...); the concrete struct is the payload.
type Event interface {
	Type() string
}

// Record is one entry of the log. Seq starts at 1 and increments by one per
// append. Hash chains the record to its predecessor:
//
//	Hash = keccak256(PrevHash || seq || type || payload)
//
// which makes the journal tamper-evident for downstream consumers.
type Record struct {
	Seq      uint64          `json:"seq"`
	Time     int64           `json:"time"` // unix seconds
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Hash     common.Hash     `json:"hash"`
	PrevHash common.Hash     `json:"prevHash"`
}

// Decode unmarshals the payload into out.
func (r Record) Decode(out any) error {
	return json.Unmarshal(r.Payload, out)
}

// Log is the append-only event log. Appends are serialized; subscribers
// receive records over buffered channels and are skipped (not blocked on)
// when their buffer is full.
type Log struct {
	mu       sync.RWMutex
	clock    util.Clock
	records  []Record
	lastHash common.Hash
	subs     []chan Record
	closed   bool
}

func NewLog(clock util.Clock) *Log {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Log{clock: clock}
}

// Append assigns the next sequence number to evt and publishes it.
func (l *Log) Append(evt Event) (Record, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return Record{}, fmt.Errorf("marshal %s event: %w", evt.Type(), err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec := Record{
		Seq:      uint64(len(l.records)) + 1,
		Time:     l.clock.Now().Unix(),
		Type:     evt.Type(),
		Payload:  payload,
		PrevHash: l.lastHash,
	}
	rec.Hash = chainHash(rec)

	l.records = append(l.records, rec)
	l.lastHash = rec.Hash

	for _, ch := range l.subs {
		select {
		case ch <- rec:
		default:
			// Subscriber buffer full, drop the record for this consumer.
		}
	}
	return rec, nil
}

func chainHash(rec Record) common.Hash {
	var seq [8]byte
	for i := 0; i < 8; i++ {
		seq[7-i] = byte(rec.Seq >> (8 * i))
	}
	sum := crypto.Keccak256(rec.PrevHash[:], seq[:], []byte(rec.Type), rec.Payload)
	return common.BytesToHash(sum)
}

// Subscribe returns a channel receiving every record appended after the call.
func (l *Log) Subscribe(buf int) <-chan Record {
	ch := make(chan Record, buf)
	l.mu.Lock()
	l.subs = append(l.subs, ch)
	l.mu.Unlock()
	return ch
}

// Close closes all subscriber channels. Append must not be called afterwards.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for _, ch := range l.subs {
		close(ch)
	}
	l.subs = nil
}

// Len returns the number of appended records.
func (l *Log) Len() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.records))
}

// Records returns a copy of the log, oldest first.
func (l *Log) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// RecordsFrom returns a copy of all records with Seq >= from.
func (l *Log) RecordsFrom(from uint64) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if from <= 1 {
		from = 1
	}
	if from > uint64(len(l.records)) {
		return nil
	}
	out := make([]Record, uint64(len(l.records))-from+1)
	copy(out, l.records[from-1:])
	return out
}

// Verify walks the hash chain and reports the first corrupted record, if any.
func (l *Log) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var prev common.Hash
	for i, rec := range l.records {
		if rec.Seq != uint64(i)+1 {
			return fmt.Errorf("record %d: seq %d out of order", i, rec.Seq)
		}
		if rec.PrevHash != prev {
			return fmt.Errorf("record %d: broken chain", rec.Seq)
		}
		if chainHash(rec) != rec.Hash {
			return fmt.Errorf("record %d: hash mismatch", rec.Seq)
		}
		prev = rec.Hash
	}
	return nil
}

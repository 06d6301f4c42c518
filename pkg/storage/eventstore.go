// Package storage persists the exchange event log in Pebble. The store is a
// downstream consumer of events.Log: the process subscribes it to the log and
// every record lands under a sequence-ordered key, so indexers can be rebuilt
// by range-scanning the journal.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/custodex/custodex/pkg/events"
)

// Key schema: "evt:{seq}" with the sequence zero-padded to 20 digits so
// lexicographic order equals append order.
const prefixEvent = "evt:"

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

type EventStore struct {
	db *pebble.DB
}

// NewEventStore opens (or creates) a Pebble database at path.
func NewEventStore(path string) (*EventStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &EventStore{db: db}, nil
}

func (s *EventStore) Close() error { return s.db.Close() }

// Append persists one record.
func (s *EventStore) Append(rec events.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %d: %w", rec.Seq, err)
	}
	if err := s.db.Set(eventKey(rec.Seq), data, pebble.Sync); err != nil {
		return fmt.Errorf("save record %d: %w", rec.Seq, err)
	}
	return nil
}

// AppendBatch persists records atomically.
func (s *EventStore) AppendBatch(recs []events.Record) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record %d: %w", rec.Seq, err)
		}
		if err := batch.Set(eventKey(rec.Seq), data, nil); err != nil {
			return fmt.Errorf("batch record %d: %w", rec.Seq, err)
		}
	}
	return batch.Commit(pebble.Sync)
}

// Load returns records with from <= Seq <= to, in order.
func (s *EventStore) Load(from, to uint64) ([]events.Record, error) {
	if from == 0 {
		from = 1
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(from),
		UpperBound: keyUpperBound(eventKey(to)),
	})
	if err != nil {
		return nil, fmt.Errorf("event iterator: %w", err)
	}
	defer iter.Close()

	var out []events.Record
	for iter.First(); iter.Valid(); iter.Next() {
		var rec events.Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode record at %s: %w", iter.Key(), err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// LastSeq returns the highest persisted sequence number, 0 for an empty journal.
func (s *EventStore) LastSeq() (uint64, error) {
	prefix := []byte(prefixEvent)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, fmt.Errorf("event iterator: %w", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, nil
	}
	var rec events.Record
	if err := json.Unmarshal(iter.Value(), &rec); err != nil {
		return 0, fmt.Errorf("decode record at %s: %w", iter.Key(), err)
	}
	return rec.Seq, nil
}

// Follow consumes a log subscription until the channel closes, persisting
// every record. Run it in its own goroutine.
func (s *EventStore) Follow(ch <-chan events.Record, logger *zap.SugaredLogger) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	for rec := range ch {
		if err := s.Append(rec); err != nil {
			logger.Errorw("event_persist_failed", "seq", rec.Seq, "type", rec.Type, "err", err)
		}
	}
}

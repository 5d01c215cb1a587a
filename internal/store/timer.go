package store

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/swarmguard/workflow-engine/internal/ir"
	"github.com/swarmguard/workflow-engine/internal/timerwheel"
)

func timerKindOf(k uint8) ir.TimerKind { return ir.TimerKind(k) }
func policyOf(p uint8) ir.CatchupPolicy { return ir.CatchupPolicy(p) }

// timerRecord is the wire form of a timerwheel.Entry; Entry's
// unexported seq/heapIdx fields are intentionally not round-tripped —
// Wheel.Recover recomputes them when it re-pushes the entry onto its
// heap.
type timerRecord struct {
	ID      string
	CaseID  string
	NodeID  uint32
	DueNs   int64
	DueWall int64 // unix nanos
	Kind    uint8
	Policy  uint8
	RRule   *ir.RRuleNorm `json:",omitempty"`
}

func timerKey(dueNs int64, id string) []byte {
	key := make([]byte, 8+1+len(id))
	binary.BigEndian.PutUint64(key, uint64(dueNs))
	key[8] = ':'
	copy(key[9:], id)
	return key
}

// PutTimer persists a timer record under timer:<due_ns>:<id>, giving
// bbolt's key-sorted iteration a due-time-ascending order for free —
// the same reasoning that motivated receipts' big-endian stripe keys.
func (s *Store) PutTimer(e timerwheel.Entry) error {
	rec := timerRecord{
		ID: e.ID, CaseID: e.CaseID, NodeID: e.NodeID,
		DueNs: e.DueNs, DueWall: e.DueWall.UnixNano(),
		Kind: uint8(e.Kind), Policy: uint8(e.Policy), RRule: e.RRule,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.instrumentWrite("put_timer", func() error {
		return s.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketTimer).Put(timerKey(e.DueNs, e.ID), data)
		})
	})
}

// DeleteTimer removes a timer by scanning for its id — the bucket is
// keyed by (due_ns, id) for iteration order, not by id alone, so a
// direct key lookup isn't possible; cancellation is rare enough
// relative to scheduling that a full-bucket scan is acceptable here.
func (s *Store) DeleteTimer(id string) error {
	return s.instrumentWrite("delete_timer", func() error {
		return s.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(bucketTimer)
			c := b.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				var rec timerRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					continue
				}
				if rec.ID == id {
					return c.Delete()
				}
			}
			return nil
		})
	})
}

// ForEachTimer replays every durably-written timer in due-ascending
// order, the crash+resume path Wheel.Recover drives.
func (s *Store) ForEachTimer(fn func(timerwheel.Entry) error) error {
	return s.instrumentRead("scan_timers", func() error {
		return s.db.View(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketTimer).ForEach(func(k, v []byte) error {
				var rec timerRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return err
				}
				e := timerwheel.Entry{
					ID: rec.ID, CaseID: rec.CaseID, NodeID: rec.NodeID,
					DueNs:   rec.DueNs,
					DueWall: time.Unix(0, rec.DueWall),
					Kind:    timerKindOf(rec.Kind),
					Policy:  policyOf(rec.Policy),
					RRule:   rec.RRule,
				}
				return fn(e)
			})
		})
	})
}

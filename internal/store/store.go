// Package store is the bbolt-backed persistence layer for every
// subsystem except the receipt log (R owns its own badger-backed
// storage exclusively, per spec §3's "Ownership: R exclusively owns
// its storage; all other subsystems hold read-only handles" — see
// DESIGN.md). It implements the four remaining key namespaces §6
// names: rdf:, spec:, case:, timer:. Grounded directly on
// services/orchestrator/persistence.go's WorkflowStore — same
// bucket-per-concern layout, hot in-memory cache over a cold bbolt
// backend, and metric-instrumented read/write paths.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/workflow-engine/internal/timerwheel"
)

var (
	bucketRDF   = []byte("rdf")
	bucketSpec  = []byte("spec")
	bucketCase  = []byte("case")
	bucketTimer = []byte("timer")
)

// Store wraps a bbolt database holding the four bucket namespaces.
type Store struct {
	db *bbolt.DB

	mu           sync.RWMutex
	specCache    map[string][]byte // graph_hash -> IR blob, hot path for load_ir
	readLatency  metric.Float64Histogram
	writeLatency metric.Float64Histogram
}

// Open opens (or creates) a bbolt database at path and ensures all
// four buckets exist.
func Open(path string) (*Store, error) {
	opts := &bbolt.Options{Timeout: 1 * time.Second, FreelistType: bbolt.FreelistArrayType}
	db, err := bbolt.Open(path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketRDF, bucketSpec, bucketCase, bucketTimer} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}

	m := otel.Meter("workflow-engine/store")
	readLatency, _ := m.Float64Histogram("workflow_store_read_ms")
	writeLatency, _ := m.Float64Histogram("workflow_store_write_ms")

	return &Store{
		db:           db,
		specCache:    make(map[string][]byte),
		readLatency:  readLatency,
		writeLatency: writeLatency,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) instrumentWrite(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if s.writeLatency != nil {
		s.writeLatency.Record(context.Background(), float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", op)))
	}
	return err
}

func (s *Store) instrumentRead(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if s.readLatency != nil {
		s.readLatency.Record(context.Background(), float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", op)))
	}
	return err
}

// PutRDF stores the compressed canonical RDF bytes for graphHash.
func (s *Store) PutRDF(graphHash string, data []byte) error {
	return s.instrumentWrite("put_rdf", func() error {
		return s.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketRDF).Put([]byte(graphHash), data)
		})
	})
}

// GetRDF retrieves the canonical RDF bytes for graphHash.
func (s *Store) GetRDF(graphHash string) ([]byte, bool, error) {
	var out []byte
	err := s.instrumentRead("get_rdf", func() error {
		return s.db.View(func(tx *bbolt.Tx) error {
			v := tx.Bucket(bucketRDF).Get([]byte(graphHash))
			if v != nil {
				out = append([]byte(nil), v...)
			}
			return nil
		})
	})
	return out, out != nil, err
}

// PutSpec stores a compiled IR blob for graphHash, warming the cache.
func (s *Store) PutSpec(graphHash string, blob []byte) error {
	err := s.instrumentWrite("put_spec", func() error {
		return s.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketSpec).Put([]byte(graphHash), blob)
		})
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.specCache[graphHash] = blob
	s.mu.Unlock()
	return nil
}

// GetSpec retrieves a compiled IR blob, serving from the in-memory
// cache when present (the load_ir hot path spec §6 names).
func (s *Store) GetSpec(graphHash string) ([]byte, bool, error) {
	s.mu.RLock()
	if blob, ok := s.specCache[graphHash]; ok {
		s.mu.RUnlock()
		return blob, true, nil
	}
	s.mu.RUnlock()

	var out []byte
	err := s.instrumentRead("get_spec", func() error {
		return s.db.View(func(tx *bbolt.Tx) error {
			v := tx.Bucket(bucketSpec).Get([]byte(graphHash))
			if v != nil {
				out = append([]byte(nil), v...)
			}
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}
	s.mu.Lock()
	s.specCache[graphHash] = out
	s.mu.Unlock()
	return out, true, nil
}

// PutCaseSnapshot stores a case's marking snapshot + tail receipt
// hash, keyed by case_id.
func (s *Store) PutCaseSnapshot(caseID string, snapshot []byte) error {
	return s.instrumentWrite("put_case", func() error {
		return s.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketCase).Put([]byte(caseID), snapshot)
		})
	})
}

// GetCaseSnapshot retrieves a case's last persisted snapshot.
func (s *Store) GetCaseSnapshot(caseID string) ([]byte, bool, error) {
	var out []byte
	err := s.instrumentRead("get_case", func() error {
		return s.db.View(func(tx *bbolt.Tx) error {
			v := tx.Bucket(bucketCase).Get([]byte(caseID))
			if v != nil {
				out = append([]byte(nil), v...)
			}
			return nil
		})
	})
	return out, out != nil, err
}

var _ timerwheel.PersistentStore = (*Store)(nil)

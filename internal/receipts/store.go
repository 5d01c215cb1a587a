package receipts

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
)

// DurableStore is badger-backed persistence for a receipt stripe,
// grounded on services/blockchain/store/kv_store.go's Store wrapper —
// same badger.Open/Update/View shape, generalized from block records
// to receipt entries and keyed big-endian (unlike kv_store.go's
// little-endian encodeKey) so Badger's native key-lexicographic
// iteration actually yields ascending Seq order within a stripe.
type DurableStore struct {
	db *badger.DB
}

// OpenDurableStore opens (or creates) a badger database at path.
func OpenDurableStore(path string) (*DurableStore, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("receipts: open store: %w", err)
	}
	return &DurableStore{db: db}, nil
}

func (d *DurableStore) Close() error { return d.db.Close() }

func stripeKey(caseID string, seq uint64) []byte {
	key := make([]byte, len(caseID)+1+8)
	copy(key, caseID)
	key[len(caseID)] = ':'
	binary.BigEndian.PutUint64(key[len(caseID)+1:], seq)
	return key
}

func (d *DurableStore) put(e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stripeKey(e.CaseID, e.Seq), raw)
	})
}

// forEachInCase iterates a single case's stripe in ascending seq
// order, the ordering badger's key-sorted iterator gives for free once
// keys are big-endian.
func (d *DurableStore) forEachInCase(caseID string, fn func(Entry) error) error {
	prefix := append([]byte(caseID), ':')
	return d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var e Entry
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// stripe is one case's single-writer chain state, held in memory for
// O(1) append (the durable write still goes through DurableStore on
// every Append so a crash never loses a committed receipt).
type stripe struct {
	mu       sync.Mutex
	nextSeq  uint64
	lastHash string
	signer   ed25519.PrivateKey
}

// Log is R: a collection of per-case stripes, each single-writer,
// backed by one shared DurableStore. Appends across different cases
// proceed fully in parallel; within one case they serialize on that
// case's stripe lock, matching §5's "single-writer per case, globally
// append-only" and "receipt log striped by case id."
type Log struct {
	mu      sync.Mutex
	stripes map[string]*stripe
	store   *DurableStore
	signer  ed25519.PrivateKey // per-node-group key, copied into every stripe; there is no per-case key
}

// New constructs a Log over store, signing every entry with signingKey
// (nil to skip signing, e.g. in tests).
func New(store *DurableStore, signingKey ed25519.PrivateKey) *Log {
	return &Log{stripes: make(map[string]*stripe), store: store, signer: signingKey}
}

func (l *Log) stripeFor(caseID string) *stripe {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stripes[caseID]
	if !ok {
		s = &stripe{signer: l.signer}
		l.stripes[caseID] = s
	}
	return s
}

// Append implements executor.ReceiptSink: one step's outcome becomes
// one chained, optionally signed, durably-written entry.
func (l *Log) Append(caseID string, nodeID uint32, pattern uint16, outcome string, ticks uint8, payload []byte) error {
	s := l.stripeFor(caseID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := Entry{
		CaseID:   caseID,
		Seq:      s.nextSeq,
		NodeID:   nodeID,
		Pattern:  pattern,
		Outcome:  outcome,
		Ticks:    ticks,
		Payload:  payload,
		PrevHash: s.lastHash,
	}
	e.Hash = hashEntry(e)
	if s.signer != nil {
		e.Sig = ed25519.Sign(s.signer, []byte(e.Hash))
	}

	if err := l.store.put(e); err != nil {
		return fmt.Errorf("receipts: append: %w", err)
	}
	s.nextSeq++
	s.lastHash = e.Hash
	return nil
}

// Verify recomputes a case's entire chain from seq 0 and checks every
// hash and prev_hash link, the audit property (P-ChainIntegrity) names.
func (l *Log) Verify(caseID string) (bool, error) {
	var prevHash string
	first := true
	ok := true
	err := l.store.forEachInCase(caseID, func(e Entry) error {
		if hashEntry(e) != e.Hash {
			ok = false
			return nil
		}
		if !first && e.PrevHash != prevHash {
			ok = false
			return nil
		}
		first = false
		prevHash = e.Hash
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Export returns every entry in a case's stripe, in chain order.
func (l *Log) Export(caseID string) ([]Entry, error) {
	var out []Entry
	err := l.store.forEachInCase(caseID, func(e Entry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

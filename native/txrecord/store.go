package txrecord

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"guardian/storage"
)

var (
	ErrNotFound     = errors.New("txrecord: record not found")
	ErrNotPending   = errors.New("txrecord: record already finalized")
	ErrInvalidState = errors.New("txrecord: target status must be terminal")
)

var (
	recordKeyPrefix = []byte("txrecord/")
	nextIDKey       = []byte("txrecord-next-id")
)

// Store is the ledger of operation requests. Records are keyed by a monotonic
// identifier allocated at creation time and persisted through the generic
// key-value backend so a restarted engine resumes with its full history.
type Store struct {
	mu      sync.RWMutex
	db      storage.Database
	records map[uint64]*TxRecord
	nextID  uint64
}

// NewStore opens the ledger on top of the provided backend, rebuilding the
// in-memory index from persisted records.
func NewStore(db storage.Database) (*Store, error) {
	s := &Store{
		db:      db,
		records: make(map[uint64]*TxRecord),
		nextID:  1,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// storedRecord is the RLP-friendly shape of a TxRecord. RLP has no signed
// integer support, hence the unsigned release time.
type storedRecord struct {
	TxID             uint64
	Status           uint8
	ReleaseTime      uint64
	Requester        [20]byte
	Target           [20]byte
	Value            *big.Int
	GasLimit         uint64
	OperationType    [32]byte
	ExecutionType    uint8
	ExecutionOptions []byte
	Result           []byte
	Payment          *big.Int
}

func toStored(rec *TxRecord) *storedRecord {
	return &storedRecord{
		TxID:             rec.TxID,
		Status:           uint8(rec.Status),
		ReleaseTime:      uint64(rec.ReleaseTime),
		Requester:        rec.Params.Requester,
		Target:           rec.Params.Target,
		Value:            cloneBigInt(rec.Params.Value),
		GasLimit:         rec.Params.GasLimit,
		OperationType:    rec.Params.OperationType,
		ExecutionType:    uint8(rec.Params.ExecutionType),
		ExecutionOptions: rec.Params.ExecutionOptions,
		Result:           rec.Result,
		Payment:          cloneBigInt(rec.Payment),
	}
}

func fromStored(stored *storedRecord) *TxRecord {
	return &TxRecord{
		TxID:        stored.TxID,
		Status:      TxStatus(stored.Status),
		ReleaseTime: int64(stored.ReleaseTime),
		Params: TxParams{
			Requester:        stored.Requester,
			Target:           stored.Target,
			Value:            cloneBigInt(stored.Value),
			GasLimit:         stored.GasLimit,
			OperationType:    stored.OperationType,
			ExecutionType:    ExecutionType(stored.ExecutionType),
			ExecutionOptions: stored.ExecutionOptions,
		},
		Result:  stored.Result,
		Payment: cloneBigInt(stored.Payment),
	}
}

func recordKey(id uint64) []byte {
	key := make([]byte, len(recordKeyPrefix)+8)
	copy(key, recordKeyPrefix)
	binary.BigEndian.PutUint64(key[len(recordKeyPrefix):], id)
	return key
}

func (s *Store) load() error {
	if s.db == nil {
		return nil
	}
	if raw, err := s.db.Get(nextIDKey); err == nil {
		var next uint64
		if err := rlp.DecodeBytes(raw, &next); err != nil {
			return fmt.Errorf("txrecord: decode next id: %w", err)
		}
		s.nextID = next
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return err
	}
	return s.db.IteratePrefix(recordKeyPrefix, func(_, value []byte) bool {
		stored := new(storedRecord)
		if err := rlp.DecodeBytes(value, stored); err != nil {
			return true
		}
		s.records[stored.TxID] = fromStored(stored)
		return true
	})
}

func (s *Store) persist(rec *TxRecord) error {
	if s.db == nil {
		return nil
	}
	encoded, err := rlp.EncodeToBytes(toStored(rec))
	if err != nil {
		return fmt.Errorf("txrecord: encode record %d: %w", rec.TxID, err)
	}
	return s.db.Put(recordKey(rec.TxID), encoded)
}

func (s *Store) persistNextID() error {
	if s.db == nil {
		return nil
	}
	encoded, err := rlp.EncodeToBytes(s.nextID)
	if err != nil {
		return err
	}
	return s.db.Put(nextIDKey, encoded)
}

// Create allocates the next identifier and stores a Pending record with the
// supplied release time.
func (s *Store) Create(params TxParams, releaseTime int64) (*TxRecord, error) {
	if params.Value == nil {
		params.Value = big.NewInt(0)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &TxRecord{
		TxID:        s.nextID,
		Status:      StatusPending,
		ReleaseTime: releaseTime,
		Params:      params,
		Payment:     big.NewInt(0),
	}
	// The counter must be durable before the record: a crash between the two
	// writes then skips the identifier on restart instead of reallocating it
	// over an existing entry.
	s.nextID++
	if err := s.persistNextID(); err != nil {
		s.nextID--
		return nil, err
	}
	if err := s.persist(rec); err != nil {
		return nil, err
	}
	s.records[rec.TxID] = rec
	return rec.Clone(), nil
}

// Get returns a copy of the record with the given identifier.
func (s *Store) Get(txID uint64) (*TxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[txID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Finalize moves a Pending record to the supplied terminal status, storing
// the execution result alongside. Any record already in a terminal state is
// rejected, which doubles as the idempotency guard against double completion
// and as the first-commit-wins tie-break between racing approval paths.
func (s *Store) Finalize(txID uint64, status TxStatus, result []byte) (*TxRecord, error) {
	if !status.Terminal() {
		return nil, ErrInvalidState
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[txID]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != StatusPending {
		return nil, ErrNotPending
	}
	updated := rec.Clone()
	updated.Status = status
	updated.Result = append([]byte(nil), result...)
	if err := s.persist(updated); err != nil {
		return nil, err
	}
	s.records[txID] = updated
	return updated.Clone(), nil
}

// ListPending returns every record still awaiting a terminal transition,
// ordered by identifier.
func (s *Store) ListPending() []*TxRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TxRecord, 0)
	for _, rec := range s.records {
		if rec.Status == StatusPending {
			out = append(out, rec.Clone())
		}
	}
	sortRecords(out)
	return out
}

// ListRange returns the records with identifiers in [from, to], ordered by
// identifier. Unknown identifiers inside the range are skipped.
func (s *Store) ListRange(from, to uint64) []*TxRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TxRecord, 0)
	if from == 0 {
		from = 1
	}
	// Clamp to the highest allocated identifier so a caller-supplied upper
	// bound near MaxUint64 cannot spin the loop or wrap the counter.
	if last := s.nextID - 1; to > last {
		to = last
	}
	for id := from; id <= to; id++ {
		if rec, ok := s.records[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// NextID returns the identifier the next created record will receive.
func (s *Store) NextID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

func sortRecords(list []*TxRecord) {
	sort.Slice(list, func(i, j int) bool { return list[i].TxID < list[j].TxID })
}

package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/strandkit/strand/pkg/api"
)

// The in-memory stores are goroutine-safe implementations backed by maps,
// non-durable, intended for tests and single-process development runs.
//
// Business state and payloads are round-tripped through the gob codec on
// write and read, so callers always observe an independent snapshot — the
// same isolation the SQLite store provides naturally.

// NewMemoryStores returns a store bundle with every interface backed by
// fresh in-memory implementations.
func NewMemoryStores() Stores {
	return Stores{
		Processes:    NewMemoryProcessStore(),
		Messages:     NewMemoryMessageStore(),
		Logs:         NewMemoryLogStore(),
		Correlations: NewMemoryCorrelationStore(),
	}
}

// MemoryProcessStore is an in-memory ProcessStore.
type MemoryProcessStore struct {
	mu        sync.RWMutex
	processes map[string]*api.ProcessInfo
	locks     map[string]lease
}

type lease struct {
	owner string
	until time.Time
}

// NewMemoryProcessStore creates an empty MemoryProcessStore.
func NewMemoryProcessStore() *MemoryProcessStore {
	return &MemoryProcessStore{
		processes: make(map[string]*api.ProcessInfo),
		locks:     make(map[string]lease),
	}
}

var _ ProcessStore = (*MemoryProcessStore)(nil)

func copyProcess(info *api.ProcessInfo) (*api.ProcessInfo, error) {
	state, err := roundTrip(info.State)
	if err != nil {
		return nil, err
	}
	c := *info
	c.State = state
	c.Marking = append([]byte(nil), info.Marking...)
	return &c, nil
}

func (s *MemoryProcessStore) Insert(ctx context.Context, info *api.ProcessInfo) error {
	c, err := copyProcess(info)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processes[info.ID] = c
	return nil
}

func (s *MemoryProcessStore) Update(ctx context.Context, info *api.ProcessInfo) error {
	c, err := copyProcess(info)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.processes[info.ID]
	if !ok {
		return ErrProcessNotFound
	}
	if stored.Version != info.Version {
		return ErrVersionConflict
	}
	c.Version = stored.Version + 1
	c.UpdatedAt = time.Now()
	s.processes[info.ID] = c
	info.Version = c.Version
	return nil
}

func (s *MemoryProcessStore) SetStatus(ctx context.Context, id string, status api.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.processes[id]
	if !ok {
		return ErrProcessNotFound
	}
	stored.Status = status
	stored.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryProcessStore) Get(ctx context.Context, id string) (*api.ProcessInfo, error) {
	s.mu.RLock()
	stored, ok := s.processes[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrProcessNotFound
	}
	return copyProcess(stored)
}

func (s *MemoryProcessStore) List(ctx context.Context, filter ProcessFilter) ([]*api.ProcessInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.ProcessInfo
	for _, info := range s.processes {
		if filter.Shape != "" && info.Shape != filter.Shape {
			continue
		}
		if filter.Status != "" && info.Status != filter.Status {
			continue
		}
		c, err := copyProcess(info)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryProcessStore) TryLock(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processes[id]; !ok {
		return false, ErrProcessNotFound
	}

	now := time.Now()
	if l, held := s.locks[id]; held && l.owner != owner && l.until.After(now) {
		return false, nil
	}
	s.locks[id] = lease{owner: owner, until: now.Add(ttl)}
	return true, nil
}

func (s *MemoryProcessStore) Unlock(ctx context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, held := s.locks[id]; held && l.owner == owner {
		delete(s.locks, id)
	}
	return nil
}

// MemoryMessageStore is an in-memory MessageStore.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string]*api.ProcessMessage
}

// NewMemoryMessageStore creates an empty MemoryMessageStore.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{messages: make(map[string]*api.ProcessMessage)}
}

var _ MessageStore = (*MemoryMessageStore)(nil)

func copyMessage(msg *api.ProcessMessage) (*api.ProcessMessage, error) {
	payload, err := roundTrip(msg.Payload)
	if err != nil {
		return nil, err
	}
	c := *msg
	c.Payload = payload
	return &c, nil
}

func (s *MemoryMessageStore) Upsert(ctx context.Context, msg *api.ProcessMessage) error {
	c, err := copyMessage(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.UpdatedAt = time.Now()
	s.messages[msg.ID] = c
	return nil
}

func (s *MemoryMessageStore) Update(ctx context.Context, msg *api.ProcessMessage) error {
	c, err := copyMessage(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[msg.ID]; !ok {
		return ErrMessageNotFound
	}
	c.UpdatedAt = time.Now()
	s.messages[msg.ID] = c
	return nil
}

func (s *MemoryMessageStore) Get(ctx context.Context, id string) (*api.ProcessMessage, error) {
	s.mu.RLock()
	stored, ok := s.messages[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrMessageNotFound
	}
	return copyMessage(stored)
}

func (s *MemoryMessageStore) LatestFrozen(ctx context.Context, processID string) (*api.ProcessMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *api.ProcessMessage
	for _, msg := range s.messages {
		if msg.ProcessID != processID || msg.Status != api.MessageFrozen {
			continue
		}
		if latest == nil || msg.UpdatedAt.After(latest.UpdatedAt) {
			latest = msg
		}
	}
	if latest == nil {
		return nil, ErrMessageNotFound
	}
	return copyMessage(latest)
}

// MemoryLogStore is an in-memory append-only LogStore.
type MemoryLogStore struct {
	mu      sync.RWMutex
	entries []api.ProcessLogEntry
}

// NewMemoryLogStore creates an empty MemoryLogStore.
func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{}
}

var _ LogStore = (*MemoryLogStore)(nil)

func (s *MemoryLogStore) Append(ctx context.Context, entry api.ProcessLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryLogStore) ListByProcess(ctx context.Context, processID string) ([]api.ProcessLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []api.ProcessLogEntry
	for _, e := range s.entries {
		if e.ProcessID == processID {
			result = append(result, e)
		}
	}
	return result, nil
}

// MemoryCorrelationStore is an in-memory CorrelationStore.
type MemoryCorrelationStore struct {
	mu   sync.RWMutex
	rows map[string]correlationRow
}

type correlationRow struct {
	processID string
	callback  api.CallbackInfo
}

// NewMemoryCorrelationStore creates an empty MemoryCorrelationStore.
func NewMemoryCorrelationStore() *MemoryCorrelationStore {
	return &MemoryCorrelationStore{rows: make(map[string]correlationRow)}
}

var _ CorrelationStore = (*MemoryCorrelationStore)(nil)

func (s *MemoryCorrelationStore) Insert(ctx context.Context, externalID string, cb api.CallbackInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.rows[externalID]; dup {
		return ErrDuplicateCorrelation
	}
	s.rows[externalID] = correlationRow{processID: cb.ProcessID, callback: cb}
	return nil
}

func (s *MemoryCorrelationStore) Lookup(ctx context.Context, externalID string) (api.CallbackInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[externalID]
	if !ok {
		return api.CallbackInfo{}, ErrCorrelationNotFound
	}
	return row.callback, nil
}

func (s *MemoryCorrelationStore) DeleteAllForProcess(ctx context.Context, processID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, row := range s.rows {
		if row.processID == processID {
			delete(s.rows, id)
		}
	}
	return nil
}

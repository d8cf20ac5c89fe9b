package storage

import (
	"context"
	"sync"
	"time"

	"github.com/jawaracloud/pileup-bridge/pkg/models"
)

// Memory implements Store in process memory, for development and tests.
// Semantics match the Redis store: arrival order decides positions, the
// system is active until switched off, worked history is capped.
type Memory struct {
	mu            sync.Mutex
	queue         []models.QueueEntry
	status        models.SystemStatus
	current       *models.QSORecord
	frequency     float64
	split         models.SplitState
	worked        []models.WorkedCaller
	maxQueue      int64
	workedHistory int64
}

// NewMemory returns an empty active store. maxQueue <= 0 means unbounded.
func NewMemory(maxQueue, workedHistory int64) *Memory {
	if workedHistory <= 0 {
		workedHistory = 100
	}
	return &Memory{
		status:        models.SystemStatus{Active: true},
		maxQueue:      maxQueue,
		workedHistory: workedHistory,
	}
}

func (s *Memory) Register(ctx context.Context, callsign string) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.status.Active {
		return nil, ErrSystemInactive
	}
	for _, e := range s.queue {
		if e.Callsign == callsign {
			return nil, ErrDuplicateCallsign
		}
	}
	if s.maxQueue > 0 && int64(len(s.queue)) >= s.maxQueue {
		return nil, ErrQueueFull
	}

	entry := models.QueueEntry{
		Callsign:  callsign,
		Timestamp: time.Now().UTC(),
		Position:  len(s.queue) + 1,
	}
	s.queue = append(s.queue, entry)
	return &entry, nil
}

func (s *Memory) QueueList(ctx context.Context) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]models.QueueEntry, len(s.queue))
	for i, e := range s.queue {
		e.Position = i + 1
		entries[i] = e
	}
	return entries, nil
}

func (s *Memory) Remove(ctx context.Context, callsign string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.queue {
		if e.Callsign == callsign {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *Memory) ClearQueue(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.queue))
	s.queue = nil
	return n, nil
}

func (s *Memory) PopNext(ctx context.Context) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil, ErrEmptyQueue
	}
	entry := s.queue[0]
	entry.Position = 1
	s.queue = s.queue[1:]
	return &entry, nil
}

func (s *Memory) SystemStatus(ctx context.Context) (models.SystemStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

func (s *Memory) SetSystemStatus(ctx context.Context, status models.SystemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	return nil
}

func (s *Memory) CurrentQSO(ctx context.Context) (*models.QSORecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, nil
	}
	rec := *s.current
	return &rec, nil
}

func (s *Memory) SetCurrentQSO(ctx context.Context, rec *models.QSORecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec == nil {
		s.current = nil
		return nil
	}
	cp := *rec
	s.current = &cp
	return nil
}

func (s *Memory) CompleteCurrentQSO(ctx context.Context) (*models.QSORecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, ErrNoCurrentQSO
	}
	rec := *s.current
	s.current = nil
	return &rec, nil
}

func (s *Memory) Frequency(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frequency, nil
}

func (s *Memory) SetFrequency(ctx context.Context, mhz float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frequency = mhz
	return nil
}

func (s *Memory) Split(ctx context.Context) (models.SplitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.split, nil
}

func (s *Memory) SetSplit(ctx context.Context, split models.SplitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.split = split
	return nil
}

func (s *Memory) AddWorkedCaller(ctx context.Context, caller models.WorkedCaller) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.worked = append([]models.WorkedCaller{caller}, s.worked...)
	if int64(len(s.worked)) > s.workedHistory {
		s.worked = s.worked[:s.workedHistory]
	}
	return nil
}

func (s *Memory) WorkedCallers(ctx context.Context, limit int64) ([]models.WorkedCaller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > int64(len(s.worked)) {
		limit = int64(len(s.worked))
	}
	callers := make([]models.WorkedCaller, limit)
	copy(callers, s.worked[:limit])
	return callers, nil
}

func (s *Memory) Close() error {
	return nil
}

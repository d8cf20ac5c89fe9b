// Package storage holds the document-store boundary for queue entries, the
// current QSO, system status, frequency, split and worked-caller history.
package storage

import (
	"context"
	"errors"

	"github.com/jawaracloud/pileup-bridge/pkg/models"
)

// Domain errors surfaced to operation handlers.
var (
	ErrDuplicateCallsign = errors.New("callsign already in queue")
	ErrQueueFull         = errors.New("queue is full")
	ErrSystemInactive    = errors.New("system is not accepting registrations")
	ErrNotFound          = errors.New("callsign not in queue")
	ErrEmptyQueue        = errors.New("queue is empty")
	ErrNoCurrentQSO      = errors.New("no QSO in progress")
)

// Store is the external document store consumed by the queue service.
// Positions are always derived from arrival-timestamp ordering at read time.
type Store interface {
	QueueList(ctx context.Context) ([]models.QueueEntry, error)
	Register(ctx context.Context, callsign string) (*models.QueueEntry, error)
	Remove(ctx context.Context, callsign string) error
	ClearQueue(ctx context.Context) (int64, error)
	PopNext(ctx context.Context) (*models.QueueEntry, error)

	SystemStatus(ctx context.Context) (models.SystemStatus, error)
	SetSystemStatus(ctx context.Context, status models.SystemStatus) error

	CurrentQSO(ctx context.Context) (*models.QSORecord, error)
	SetCurrentQSO(ctx context.Context, rec *models.QSORecord) error
	CompleteCurrentQSO(ctx context.Context) (*models.QSORecord, error)

	Frequency(ctx context.Context) (float64, error)
	SetFrequency(ctx context.Context, mhz float64) error
	Split(ctx context.Context) (models.SplitState, error)
	SetSplit(ctx context.Context, split models.SplitState) error

	AddWorkedCaller(ctx context.Context, caller models.WorkedCaller) error
	WorkedCallers(ctx context.Context, limit int64) ([]models.WorkedCaller, error)

	Close() error
}

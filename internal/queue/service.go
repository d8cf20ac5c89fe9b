// Package queue implements the domain operations over the document store.
// Every mutation publishes the matching event so all subscribers converge on
// the same view.
package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jawaracloud/pileup-bridge/internal/adif"
	"github.com/jawaracloud/pileup-bridge/internal/hub"
	"github.com/jawaracloud/pileup-bridge/internal/logbook"
	"github.com/jawaracloud/pileup-bridge/internal/storage"
	"github.com/jawaracloud/pileup-bridge/pkg/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Config holds the queue-token parameters.
type Config struct {
	TokenSecret string
	TokenTTL    time.Duration
}

// Service wires the store, the broadcaster and the optional logbook.
type Service struct {
	store  storage.Store
	hub    *hub.Hub
	book   *logbook.Logbook
	logger *slog.Logger
	secret []byte
	ttl    time.Duration
}

// New builds the service. book may be nil when the logbook is disabled.
func New(store storage.Store, h *hub.Hub, book *logbook.Logbook, cfg Config, logger *slog.Logger) *Service {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		store:  store,
		hub:    h,
		book:   book,
		logger: logger,
		secret: []byte(cfg.TokenSecret),
		ttl:    ttl,
	}
}

// StatusReport is the public snapshot a reconnecting client queries.
type StatusReport struct {
	Status       models.SystemStatus `json:"status"`
	CurrentQSO   *models.QSORecord   `json:"current_qso"`
	FrequencyMHz float64             `json:"frequency_mhz"`
	Split        models.SplitState   `json:"split"`
	QueueLength  int                 `json:"queue_length"`
}

// Register validates and enqueues a callsign, returning the entry and a
// signed queue token for later self-service lookups.
func (s *Service) Register(ctx context.Context, callsign string) (*models.QueueEntry, string, error) {
	cs := adif.Normalize(callsign)
	if err := adif.ValidateRegistration(cs); err != nil {
		return nil, "", err
	}

	entry, err := s.store.Register(ctx, cs)
	if err != nil {
		return nil, "", err
	}

	token, err := s.issueToken(cs, entry.Timestamp)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("caller registered", "callsign", cs, "position", entry.Position)
	s.broadcastQueue(ctx)
	return entry, token, nil
}

// List returns the queue in arrival order with derived positions.
func (s *Service) List(ctx context.Context) ([]models.QueueEntry, error) {
	return s.store.QueueList(ctx)
}

// MyStatus reports the token holder's current position.
func (s *Service) MyStatus(ctx context.Context, token string) (*models.QueueStatus, error) {
	cs, err := s.verifyToken(token)
	if err != nil {
		return nil, err
	}

	entries, err := s.store.QueueList(ctx)
	if err != nil {
		return nil, err
	}

	status := &models.QueueStatus{QueueLength: int64(len(entries))}
	for _, e := range entries {
		if e.Callsign == cs {
			status.InQueue = true
			status.Position = e.Position
			break
		}
	}
	return status, nil
}

// Withdraw removes the token holder from the queue.
func (s *Service) Withdraw(ctx context.Context, token string) error {
	cs, err := s.verifyToken(token)
	if err != nil {
		return err
	}
	if err := s.store.Remove(ctx, cs); err != nil {
		return err
	}
	s.logger.Info("caller withdrew", "callsign", cs)
	s.broadcastQueue(ctx)
	return nil
}

// RemoveCaller drops a callsign from the queue on the admin's behalf.
func (s *Service) RemoveCaller(ctx context.Context, callsign string) error {
	cs := adif.Normalize(callsign)
	if err := s.store.Remove(ctx, cs); err != nil {
		return err
	}
	s.broadcastQueue(ctx)
	return nil
}

// ClearQueue empties the queue and returns how many entries were dropped.
func (s *Service) ClearQueue(ctx context.Context) (int64, error) {
	n, err := s.store.ClearQueue(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("queue cleared", "dropped", n)
	s.broadcastQueue(ctx)
	return n, nil
}

// NextQSO pops the head of the queue and makes it the current QSO.
func (s *Service) NextQSO(ctx context.Context) (*models.QSORecord, error) {
	entry, err := s.store.PopNext(ctx)
	if err != nil {
		return nil, err
	}

	rec := &models.QSORecord{
		Callsign:  entry.Callsign,
		Timestamp: time.Now().UTC(),
		Source:    models.SourceQueue,
	}
	if mhz, err := s.store.Frequency(ctx); err == nil && mhz > 0 {
		rec.FrequencyMHz = &mhz
	}

	if err := s.store.SetCurrentQSO(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("next caller up", "callsign", rec.Callsign)
	s.broadcastQueue(ctx)
	s.hub.Publish(models.EventCurrentQSO, rec)
	return rec, nil
}

// SetCurrentQSO starts a contact outside queue order. The callsign is
// dropped from the queue when it was waiting.
func (s *Service) SetCurrentQSO(ctx context.Context, callsign string) (*models.QSORecord, error) {
	cs := adif.Normalize(callsign)
	if !adif.ValidCallsign(cs) {
		return nil, adif.ErrInvalidCallsign
	}

	rec := &models.QSORecord{
		Callsign:  cs,
		Timestamp: time.Now().UTC(),
		Source:    models.SourceDirect,
	}
	if mhz, err := s.store.Frequency(ctx); err == nil && mhz > 0 {
		rec.FrequencyMHz = &mhz
	}

	if err := s.store.SetCurrentQSO(ctx, rec); err != nil {
		return nil, err
	}

	if err := s.store.Remove(ctx, cs); err == nil {
		s.broadcastQueue(ctx)
	}
	s.hub.Publish(models.EventCurrentQSO, rec)
	return rec, nil
}

// CompleteQSO finishes the current contact: worked history, logbook, and a
// cleared current_qso for every subscriber.
func (s *Service) CompleteQSO(ctx context.Context) (*models.QSORecord, error) {
	rec, err := s.store.CompleteCurrentQSO(ctx)
	if err != nil {
		return nil, err
	}

	worked := models.WorkedCaller{
		Callsign:     rec.Callsign,
		Timestamp:    time.Now().UTC(),
		Mode:         rec.Mode,
		FrequencyMHz: rec.FrequencyMHz,
	}
	if err := s.store.AddWorkedCaller(ctx, worked); err != nil {
		s.logger.Error("worked history update failed", "callsign", rec.Callsign, "error", err)
	}
	s.appendLog(*rec)

	s.logger.Info("qso complete", "callsign", rec.Callsign)
	s.hub.Publish(models.EventCurrentQSO, nil)
	s.hub.PublishAdmin(models.EventWorkedCallersUpdate, worked)
	return rec, nil
}

// Status assembles the public snapshot.
func (s *Service) Status(ctx context.Context) (*StatusReport, error) {
	status, err := s.store.SystemStatus(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.store.CurrentQSO(ctx)
	if err != nil {
		return nil, err
	}
	mhz, err := s.store.Frequency(ctx)
	if err != nil {
		return nil, err
	}
	split, err := s.store.Split(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.QueueList(ctx)
	if err != nil {
		return nil, err
	}

	return &StatusReport{
		Status:       status,
		CurrentQSO:   current,
		FrequencyMHz: mhz,
		Split:        split,
		QueueLength:  len(entries),
	}, nil
}

// SetSystemStatus opens or closes registration.
func (s *Service) SetSystemStatus(ctx context.Context, status models.SystemStatus) error {
	if err := s.store.SetSystemStatus(ctx, status); err != nil {
		return err
	}
	s.logger.Info("system status changed", "active", status.Active)
	s.hub.Publish(models.EventSystemStatus, status)
	return nil
}

// SetFrequency moves the operating frequency.
func (s *Service) SetFrequency(ctx context.Context, mhz float64) error {
	if mhz <= 0 {
		return errors.New("frequency must be positive")
	}
	if err := s.store.SetFrequency(ctx, mhz); err != nil {
		return err
	}
	s.hub.Publish(models.EventFrequencyUpdate, map[string]float64{"frequency_mhz": mhz})
	return nil
}

// SetSplit switches split operation on or off.
func (s *Service) SetSplit(ctx context.Context, split models.SplitState) error {
	if err := s.store.SetSplit(ctx, split); err != nil {
		return err
	}
	s.hub.Publish(models.EventSplitUpdate, split)
	return nil
}

// WorkedCallers returns the recent worked-station history.
func (s *Service) WorkedCallers(ctx context.Context, limit int64) ([]models.WorkedCaller, error) {
	return s.store.WorkedCallers(ctx, limit)
}

// RecentLog returns the newest logbook rows.
func (s *Service) RecentLog(limit int) ([]logbook.Entry, error) {
	if s.book == nil {
		return nil, errors.New("logbook disabled")
	}
	return s.book.Recent(limit)
}

// ExportADIF streams the whole logbook as an ADIF document.
func (s *Service) ExportADIF(w io.Writer) error {
	if s.book == nil {
		return errors.New("logbook disabled")
	}
	return s.book.ExportADIF(w)
}

// LogbookEnabled reports whether a logbook is attached.
func (s *Service) LogbookEnabled() bool { return s.book != nil }

// HandleLoggedQSO is the UDP bridge callback: the logging software confirmed
// a contact. It lands in worked history and the logbook, completes the
// current QSO on a callsign match, and drops the caller from the queue when
// still waiting.
func (s *Service) HandleLoggedQSO(rec models.QSORecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	worked := models.WorkedCaller{
		Callsign:     rec.Callsign,
		Timestamp:    rec.Timestamp,
		Mode:         rec.Mode,
		FrequencyMHz: rec.FrequencyMHz,
	}
	if err := s.store.AddWorkedCaller(ctx, worked); err != nil {
		s.logger.Error("worked history update failed", "callsign", rec.Callsign, "error", err)
	}
	s.appendLog(rec)

	current, err := s.store.CurrentQSO(ctx)
	if err != nil {
		s.logger.Error("current qso read failed", "error", err)
	} else if current != nil && current.Callsign == rec.Callsign {
		if _, err := s.store.CompleteCurrentQSO(ctx); err == nil {
			s.hub.Publish(models.EventCurrentQSO, nil)
		}
	}

	switch err := s.store.Remove(ctx, rec.Callsign); {
	case err == nil:
		s.broadcastQueue(ctx)
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Error("queue remove failed", "callsign", rec.Callsign, "error", err)
	}

	s.hub.PublishAdmin(models.EventWorkedCallersUpdate, worked)
	s.logger.Debug("logged qso handled", "callsign", rec.Callsign, "source", rec.Source)
}

func (s *Service) appendLog(rec models.QSORecord) {
	if s.book == nil {
		return
	}
	if err := s.book.Append(rec); err != nil {
		s.logger.Error("logbook append failed", "callsign", rec.Callsign, "error", err)
	}
}

func (s *Service) broadcastQueue(ctx context.Context) {
	entries, err := s.store.QueueList(ctx)
	if err != nil {
		s.logger.Error("queue snapshot failed", "error", err)
		return
	}
	s.hub.Publish(models.EventQueueUpdate, map[string]interface{}{
		"entries": entries,
		"length":  len(entries),
	})
}

func (s *Service) issueToken(callsign string, ts time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, models.QueueClaims{
		Callsign: callsign,
		IssuedAt: ts.UnixNano(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
		},
	})
	return token.SignedString(s.secret)
}

func (s *Service) verifyToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.QueueClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		if err != nil && errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*models.QueueClaims)
	if !ok || claims.Callsign == "" {
		return "", ErrInvalidToken
	}
	return claims.Callsign, nil
}

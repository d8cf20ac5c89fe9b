package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jawaracloud/pileup-bridge/pkg/models"
)

// Key suffixes under the configured prefix.
const (
	keyQueue     = "queue"
	keyActive    = "active"
	keyStatusMsg = "status_message"
	keyCurrent   = "current_qso"
	keyFrequency = "frequency"
	keySplit     = "split"
	keyWorked    = "worked"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr          string
	Prefix        string
	PoolSize      int
	MaxQueue      int64
	WorkedHistory int64
}

// Redis implements Store on a Redis server. The queue is a sorted set scored
// by arrival UnixNano, so positions fall out of ZRANK at read time.
type Redis struct {
	client        *redis.Client
	prefix        string
	maxQueue      int64
	workedHistory int64
}

// NewRedis connects and verifies the server is reachable.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{
		client:        client,
		prefix:        cfg.Prefix,
		maxQueue:      cfg.MaxQueue,
		workedHistory: cfg.WorkedHistory,
	}, nil
}

func (s *Redis) key(suffix string) string {
	return s.prefix + ":" + suffix
}

// Register atomically checks the active flag, uniqueness and capacity, then
// adds the callsign scored by arrival time. Status codes follow the script:
// -1 duplicate, -2 full, -3 inactive, otherwise the 1-based rank.
func (s *Redis) Register(ctx context.Context, callsign string) (*models.QueueEntry, error) {
	now := time.Now()
	script := `
		local active = redis.call('GET', KEYS[2])
		if active == '0' then return -3 end
		if redis.call('ZSCORE', KEYS[1], ARGV[1]) then return -1 end
		local max = tonumber(ARGV[3])
		if max > 0 and redis.call('ZCARD', KEYS[1]) >= max then return -2 end
		redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
		return redis.call('ZRANK', KEYS[1], ARGV[1]) + 1
	`
	res, err := s.client.Eval(ctx, script,
		[]string{s.key(keyQueue), s.key(keyActive)},
		callsign, now.UnixNano(), s.maxQueue).Int64()
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", callsign, err)
	}

	switch res {
	case -1:
		return nil, ErrDuplicateCallsign
	case -2:
		return nil, ErrQueueFull
	case -3:
		return nil, ErrSystemInactive
	}

	return &models.QueueEntry{
		Callsign:  callsign,
		Timestamp: now.UTC(),
		Position:  int(res),
	}, nil
}

// QueueList returns all entries in arrival order with derived positions.
func (s *Redis) QueueList(ctx context.Context) ([]models.QueueEntry, error) {
	vals, err := s.client.ZRangeWithScores(ctx, s.key(keyQueue), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]models.QueueEntry, 0, len(vals))
	for i, z := range vals {
		callsign, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, models.QueueEntry{
			Callsign:  callsign,
			Timestamp: time.Unix(0, int64(z.Score)).UTC(),
			Position:  i + 1,
		})
	}
	return entries, nil
}

func (s *Redis) Remove(ctx context.Context, callsign string) error {
	n, err := s.client.ZRem(ctx, s.key(keyQueue), callsign).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearQueue removes every entry and returns how many were dropped.
func (s *Redis) ClearQueue(ctx context.Context) (int64, error) {
	script := `
		local n = redis.call('ZCARD', KEYS[1])
		redis.call('DEL', KEYS[1])
		return n
	`
	return s.client.Eval(ctx, script, []string{s.key(keyQueue)}).Int64()
}

// PopNext removes and returns the head of the queue.
func (s *Redis) PopNext(ctx context.Context) (*models.QueueEntry, error) {
	vals, err := s.client.ZPopMin(ctx, s.key(keyQueue), 1).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrEmptyQueue
	}

	callsign, _ := vals[0].Member.(string)
	return &models.QueueEntry{
		Callsign:  callsign,
		Timestamp: time.Unix(0, int64(vals[0].Score)).UTC(),
		Position:  1,
	}, nil
}

// SystemStatus reports the registration gate. A missing flag means active.
func (s *Redis) SystemStatus(ctx context.Context) (models.SystemStatus, error) {
	status := models.SystemStatus{Active: true}

	val, err := s.client.Get(ctx, s.key(keyActive)).Result()
	if err != nil && err != redis.Nil {
		return status, err
	}
	if err == nil {
		status.Active = val != "0"
	}

	msg, err := s.client.Get(ctx, s.key(keyStatusMsg)).Result()
	if err != nil && err != redis.Nil {
		return status, err
	}
	status.Message = msg
	return status, nil
}

func (s *Redis) SetSystemStatus(ctx context.Context, status models.SystemStatus) error {
	flag := "1"
	if !status.Active {
		flag = "0"
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(keyActive), flag, 0)
		p.Set(ctx, s.key(keyStatusMsg), status.Message, 0)
		return nil
	})
	return err
}

func (s *Redis) CurrentQSO(ctx context.Context) (*models.QSORecord, error) {
	data, err := s.client.Get(ctx, s.key(keyCurrent)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec models.QSORecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode current qso: %w", err)
	}
	return &rec, nil
}

func (s *Redis) SetCurrentQSO(ctx context.Context, rec *models.QSORecord) error {
	if rec == nil {
		return s.client.Del(ctx, s.key(keyCurrent)).Err()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(keyCurrent), data, 0).Err()
}

// CompleteCurrentQSO atomically takes and clears the current QSO.
func (s *Redis) CompleteCurrentQSO(ctx context.Context) (*models.QSORecord, error) {
	data, err := s.client.GetDel(ctx, s.key(keyCurrent)).Bytes()
	if err == redis.Nil {
		return nil, ErrNoCurrentQSO
	}
	if err != nil {
		return nil, err
	}

	var rec models.QSORecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode current qso: %w", err)
	}
	return &rec, nil
}

func (s *Redis) Frequency(ctx context.Context) (float64, error) {
	val, err := s.client.Get(ctx, s.key(keyFrequency)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	mhz, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("decode frequency: %w", err)
	}
	return mhz, nil
}

func (s *Redis) SetFrequency(ctx context.Context, mhz float64) error {
	return s.client.Set(ctx, s.key(keyFrequency), strconv.FormatFloat(mhz, 'f', -1, 64), 0).Err()
}

func (s *Redis) Split(ctx context.Context) (models.SplitState, error) {
	var split models.SplitState
	data, err := s.client.Get(ctx, s.key(keySplit)).Bytes()
	if err == redis.Nil {
		return split, nil
	}
	if err != nil {
		return split, err
	}
	if err := json.Unmarshal(data, &split); err != nil {
		return split, fmt.Errorf("decode split: %w", err)
	}
	return split, nil
}

func (s *Redis) SetSplit(ctx context.Context, split models.SplitState) error {
	data, err := json.Marshal(split)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(keySplit), data, 0).Err()
}

// AddWorkedCaller pushes onto the capped recent-history list.
func (s *Redis) AddWorkedCaller(ctx context.Context, caller models.WorkedCaller) error {
	data, err := json.Marshal(caller)
	if err != nil {
		return err
	}
	if err := s.client.LPush(ctx, s.key(keyWorked), data).Err(); err != nil {
		return err
	}
	return s.client.LTrim(ctx, s.key(keyWorked), 0, s.workedHistory-1).Err()
}

func (s *Redis) WorkedCallers(ctx context.Context, limit int64) ([]models.WorkedCaller, error) {
	if limit <= 0 || limit > s.workedHistory {
		limit = s.workedHistory
	}
	vals, err := s.client.LRange(ctx, s.key(keyWorked), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	callers := make([]models.WorkedCaller, 0, len(vals))
	for _, v := range vals {
		var c models.WorkedCaller
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			continue
		}
		callers = append(callers, c)
	}
	return callers, nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}

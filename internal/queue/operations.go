package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jawaracloud/pileup-bridge/internal/dispatch"
	"github.com/jawaracloud/pileup-bridge/internal/hub"
	"github.com/jawaracloud/pileup-bridge/pkg/models"
)

type callsignRequest struct {
	Callsign string `json:"callsign"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type frequencyRequest struct {
	FrequencyMHz float64 `json:"frequency_mhz"`
}

type limitRequest struct {
	Limit int64 `json:"limit"`
}

// MountOperations registers the operation table on the dispatcher. Names
// under "admin." are reachable only after authentication; the dispatcher
// enforces that.
func (s *Service) MountOperations(d *dispatch.Dispatcher) {
	d.Register("system.ping", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		return d.Pong(), nil
	})

	d.Register("public.get_status", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		report, err := s.Status(ctx)
		if err != nil {
			return nil, err
		}
		return report, nil
	})

	d.Register("queue.register", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		var req callsignRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		entry, token, err := s.Register(ctx, req.Callsign)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"entry": entry, "token": token}, nil
	})

	d.Register("queue.list", s.opList)

	d.Register("queue.my_status", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		var req tokenRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		status, err := s.MyStatus(ctx, req.Token)
		if err != nil {
			return nil, err
		}
		return status, nil
	})

	d.Register("queue.withdraw", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		var req tokenRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		if err := s.Withdraw(ctx, req.Token); err != nil {
			return nil, err
		}
		return map[string]bool{"removed": true}, nil
	})

	d.Register("admin.get_queue", s.opList)

	d.Register("admin.next_qso", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		rec, err := s.NextQSO(ctx)
		if err != nil {
			return nil, err
		}
		return rec, nil
	})

	d.Register("admin.set_current_qso", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		var req callsignRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		rec, err := s.SetCurrentQSO(ctx, req.Callsign)
		if err != nil {
			return nil, err
		}
		return rec, nil
	})

	d.Register("admin.complete_qso", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		rec, err := s.CompleteQSO(ctx)
		if err != nil {
			return nil, err
		}
		return rec, nil
	})

	d.Register("admin.remove_caller", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		var req callsignRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		if err := s.RemoveCaller(ctx, req.Callsign); err != nil {
			return nil, err
		}
		return map[string]bool{"removed": true}, nil
	})

	d.Register("admin.clear_queue", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		n, err := s.ClearQueue(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"cleared": n}, nil
	})

	d.Register("admin.set_system_status", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		var status models.SystemStatus
		if err := decode(data, &status); err != nil {
			return nil, err
		}
		if err := s.SetSystemStatus(ctx, status); err != nil {
			return nil, err
		}
		return status, nil
	})

	d.Register("admin.set_frequency", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		var req frequencyRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		if err := s.SetFrequency(ctx, req.FrequencyMHz); err != nil {
			return nil, err
		}
		return map[string]float64{"frequency_mhz": req.FrequencyMHz}, nil
	})

	d.Register("admin.set_split", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		var split models.SplitState
		if err := decode(data, &split); err != nil {
			return nil, err
		}
		if err := s.SetSplit(ctx, split); err != nil {
			return nil, err
		}
		return split, nil
	})

	d.Register("admin.get_worked_callers", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		var req limitRequest
		if len(data) > 0 {
			if err := decode(data, &req); err != nil {
				return nil, err
			}
		}
		callers, err := s.WorkedCallers(ctx, req.Limit)
		if err != nil {
			return nil, err
		}
		return callers, nil
	})

	d.Register("admin.get_log", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		var req limitRequest
		if len(data) > 0 {
			if err := decode(data, &req); err != nil {
				return nil, err
			}
		}
		entries, err := s.RecentLog(int(req.Limit))
		if err != nil {
			return nil, err
		}
		return entries, nil
	})
}

func (s *Service) opList(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"entries": entries, "length": len(entries)}, nil
}

func decode(data json.RawMessage, dst interface{}) error {
	if len(data) == 0 {
		return errors.New("missing request data")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("malformed request data: %v", err)
	}
	return nil
}

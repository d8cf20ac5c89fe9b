// Package bridge listens for UDP datagrams from logging programs and turns
// them into QSO records. Datagrams arrive in whatever format the logger
// emits: length-prefixed ADIF over a binary envelope, bare ADIF, or free
// text. Anything without a callsign is counted and dropped.
package bridge

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/jawaracloud/pileup-bridge/internal/adif"
	"github.com/jawaracloud/pileup-bridge/internal/metrics"
	"github.com/jawaracloud/pileup-bridge/pkg/models"
)

// Handler consumes each QSO record decoded from the wire. Called from worker
// goroutines; implementations must be safe for concurrent use.
type Handler func(models.QSORecord)

// Config controls the UDP listener.
type Config struct {
	BindAddress string
	Port        int
	BufferSize  int
	Workers     int
	QueueSize   int
}

type packet struct {
	data []byte
	addr *net.UDPAddr
}

// Receiver is the UDP ingest loop plus its decode workers.
type Receiver struct {
	cfg     Config
	logger  *slog.Logger
	handler Handler

	mu      sync.Mutex
	started bool
	conn    *net.UDPConn
	done    chan struct{}

	packetChan chan packet
	recvWG     sync.WaitGroup
	workerWG   sync.WaitGroup

	received atomic.Uint64
	parsed   atomic.Uint64
	misses   atomic.Uint64
	dropped  atomic.Uint64
}

// Stats is a point-in-time snapshot of receiver counters.
type Stats struct {
	PacketsReceived uint64 `json:"packets_received"`
	PacketsParsed   uint64 `json:"packets_parsed"`
	ParseMisses     uint64 `json:"parse_misses"`
	PacketsDropped  uint64 `json:"packets_dropped"`
	QueueSize       int    `json:"queue_size"`
	QueueCapacity   int    `json:"queue_capacity"`
}

// New builds a receiver. Start must be called before any datagrams flow.
func New(cfg Config, handler Handler, logger *slog.Logger) *Receiver {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 2048
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	return &Receiver{
		cfg:     cfg,
		logger:  logger,
		handler: handler,
	}
}

// Start binds the UDP socket and launches the receive loop and workers.
// Calling Start on a running receiver is a no-op.
func (r *Receiver) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", r.cfg.BindAddress, r.cfg.Port))
	if err != nil {
		return fmt.Errorf("resolve udp address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	r.conn = conn
	r.done = make(chan struct{})
	r.packetChan = make(chan packet, r.cfg.QueueSize)

	if err := conn.SetReadBuffer(r.cfg.BufferSize); err != nil {
		r.logger.Warn("failed to set UDP read buffer size",
			slog.Int("buffer_size", r.cfg.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	for i := 0; i < r.cfg.Workers; i++ {
		r.workerWG.Add(1)
		go r.worker(i)
	}
	r.recvWG.Add(1)
	go r.receiveLoop()

	r.logger.Info("UDP receiver started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("workers", r.cfg.Workers),
	)

	r.started = true
	return nil
}

// Stop closes the socket, drains the workers, and logs final counters.
// Safe to call more than once.
func (r *Receiver) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	conn := r.conn
	r.mu.Unlock()

	close(r.done)
	if err := conn.Close(); err != nil {
		r.logger.Warn("error closing UDP connection", slog.String("error", err.Error()))
	}

	// The receive loop is the only sender on packetChan, so it must be gone
	// before the channel closes.
	r.recvWG.Wait()
	close(r.packetChan)
	r.workerWG.Wait()

	r.logger.Info("UDP receiver stopped",
		slog.Uint64("packets_received", r.received.Load()),
		slog.Uint64("packets_parsed", r.parsed.Load()),
		slog.Uint64("parse_misses", r.misses.Load()),
		slog.Uint64("packets_dropped", r.dropped.Load()),
	)
}

// Addr reports the bound address, or nil before Start. Useful when the
// configured port is 0.
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Stats snapshots the receiver counters.
func (r *Receiver) Stats() Stats {
	r.mu.Lock()
	ch := r.packetChan
	r.mu.Unlock()

	return Stats{
		PacketsReceived: r.received.Load(),
		PacketsParsed:   r.parsed.Load(),
		ParseMisses:     r.misses.Load(),
		PacketsDropped:  r.dropped.Load(),
		QueueSize:       len(ch),
		QueueCapacity:   cap(ch),
	}
}

func (r *Receiver) receiveLoop() {
	defer r.recvWG.Done()

	buf := make([]byte, r.cfg.BufferSize)
	for {
		select {
		case <-r.done:
			return
		default:
		}

		// Short deadline so shutdown is noticed without a poke packet.
		if err := r.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			select {
			case <-r.done:
				return
			default:
			}
			r.logger.Error("failed to set read deadline, stopping receive loop",
				slog.String("error", err.Error()))
			return
		}

		n, remoteAddr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-r.done:
				return
			default:
			}
			r.logger.Error("UDP receive failed, stopping receive loop",
				slog.String("error", err.Error()))
			return
		}

		r.received.Inc()
		metrics.PacketsReceived.Inc()

		// The read buffer is reused, so hand workers a copy.
		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case r.packetChan <- packet{data: data, addr: remoteAddr}:
		default:
			r.dropped.Inc()
			metrics.PacketsDropped.Inc()
			r.logger.Warn("packet queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

func (r *Receiver) worker(id int) {
	defer r.workerWG.Done()
	for p := range r.packetChan {
		r.handlePacket(p, id)
	}
}

func (r *Receiver) handlePacket(p packet, workerID int) {
	rec := adif.Parse(p.data)
	if rec == nil {
		r.misses.Inc()
		metrics.ParseMisses.Inc()
		r.logger.Debug("no callsign in datagram",
			slog.String("remote_addr", p.addr.String()),
			slog.Int("packet_size", len(p.data)),
			slog.Int("worker_id", workerID),
		)
		return
	}

	r.parsed.Inc()
	metrics.PacketsParsed.Inc()
	r.logger.Info("logged QSO received",
		slog.String("callsign", rec.Callsign),
		slog.String("source", rec.Source),
		slog.String("remote_addr", p.addr.String()),
		slog.Int("worker_id", workerID),
	)

	r.handler(*rec)
}

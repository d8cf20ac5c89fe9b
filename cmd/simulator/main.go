// Package main implements a traffic generator for the pileup bridge: it
// plays the role of logging software, firing UDP datagrams in the formats
// seen on a real station network plus a share of garbage.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jawaracloud/pileup-bridge/internal/adif"
)

// Config holds generator configuration.
type Config struct {
	TargetAddr string
	Rate       time.Duration
}

// Stats holds generator statistics.
type Stats struct {
	TotalSent    int64
	EnvelopeSent int64
	ADIFSent     int64
	PlainSent    int64
	GarbageSent  int64
}

var (
	prefixes = []string{"W1", "K2", "N3", "EI6", "G4", "DL1", "JA1", "VK3", "PY2", "OH2"}
	suffixes = []string{"ABC", "XYZ", "JGB", "KT", "QRP", "DX", "MM", "AA", "ZZT", "RF"}
	modes    = []string{"FT8", "FT4", "SSB", "CW"}
	freqs    = []float64{14.074, 7.074, 21.074, 14.200, 7.030, 28.074}
)

func main() {
	config := Config{
		TargetAddr: getEnv("TARGET_ADDR", "127.0.0.1:2237"),
		Rate:       getEnvDuration("SEND_RATE", 500*time.Millisecond),
	}

	conn, err := net.Dial("udp", config.TargetAddr)
	if err != nil {
		log.Fatalf("Failed to dial %s: %v", config.TargetAddr, err)
	}
	defer conn.Close()

	stats := &Stats{}
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("\nStopping generator...")
		cancel()
	}()

	log.Printf("Sending to %s every %s", config.TargetAddr, config.Rate)

	// Print stats periodically
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				printStats(stats)
			}
		}
	}()

	ticker := time.NewTicker(config.Rate)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			payload := nextPayload(stats)
			if _, err := conn.Write(payload); err != nil {
				log.Printf("Send failed: %v", err)
				continue
			}
			atomic.AddInt64(&stats.TotalSent, 1)
		}
	}

	log.Println("\n=== Final Statistics ===")
	printStats(stats)
}

// nextPayload picks a datagram kind with roughly the mix a busy station
// produces: mostly ADIF (half of it wrapped in the binary envelope), some
// free-text spots, and a little noise.
func nextPayload(stats *Stats) []byte {
	call := randomCallsign()
	switch n := rand.Intn(10); {
	case n < 4:
		atomic.AddInt64(&stats.EnvelopeSent, 1)
		buf := adif.AppendEnvelope(nil, 2, 12)
		return append(buf, buildADIF(call)...)
	case n < 7:
		atomic.AddInt64(&stats.ADIFSent, 1)
		return buildADIF(call)
	case n < 9:
		atomic.AddInt64(&stats.PlainSent, 1)
		return []byte(fmt.Sprintf("QSO logged with %s 59 TU", call))
	default:
		atomic.AddInt64(&stats.GarbageSent, 1)
		garbage := make([]byte, 16+rand.Intn(64))
		for i := range garbage {
			garbage[i] = byte(rand.Intn(256))
		}
		return garbage
	}
}

func buildADIF(call string) []byte {
	mode := modes[rand.Intn(len(modes))]
	freq := freqs[rand.Intn(len(freqs))]
	now := time.Now().UTC()

	record := fmt.Sprintf("<call:%d>%s <qso_date:8>%s <time_on:6>%s <freq:%d>%.3f <mode:%d>%s <eor>",
		len(call), call,
		now.Format("20060102"), now.Format("150405"),
		len(fmt.Sprintf("%.3f", freq)), freq,
		len(mode), mode)
	return []byte(record)
}

func randomCallsign() string {
	return prefixes[rand.Intn(len(prefixes))] + suffixes[rand.Intn(len(suffixes))]
}

func printStats(stats *Stats) {
	total := atomic.LoadInt64(&stats.TotalSent)
	envelope := atomic.LoadInt64(&stats.EnvelopeSent)
	adifSent := atomic.LoadInt64(&stats.ADIFSent)
	plain := atomic.LoadInt64(&stats.PlainSent)
	garbage := atomic.LoadInt64(&stats.GarbageSent)

	log.Printf("Sent: %d | Envelope: %d | ADIF: %d | Plain: %d | Garbage: %d",
		total, envelope, adifSent, plain, garbage)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

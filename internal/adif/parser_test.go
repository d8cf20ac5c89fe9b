package adif

import (
	"testing"

	"github.com/jawaracloud/pileup-bridge/pkg/models"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantCall   string
		wantMode   string
		wantFreq   float64
		hasFreq    bool
		wantSource string
	}{
		{
			name:       "adif block with date and mode",
			data:       []byte("<call:5>W1ABC <qso_date:8>20250711 <time_on:6>154500 <mode:3>SSB <eor>"),
			wantCall:   "W1ABC",
			wantMode:   "SSB",
			wantSource: models.SourceADIF,
		},
		{
			name:       "adif block behind wsjtx envelope",
			data:       append(AppendEnvelope(nil, 2, 12), []byte("<call:5>W1ABC <qso_date:8>20250711 <time_on:6>154500 <mode:3>SSB <eor>")...),
			wantCall:   "W1ABC",
			wantMode:   "SSB",
			wantSource: models.SourceADIF,
		},
		{
			name:       "bare callsign",
			data:       []byte("EI6JGB"),
			wantCall:   "EI6JGB",
			wantSource: models.SourcePlainText,
		},
		{
			name: "blacklisted token",
			data: []byte("TEST"),
		},
		{
			name: "no digit bearing token",
			data: []byte("HELLO WORLD"),
		},
		{
			name: "empty datagram",
			data: nil,
		},
		{
			name:       "frequency and mode extracted",
			data:       []byte("<call:5>K1ABC <freq:9>14.074000 <mode:3>FT8 <eor>"),
			wantCall:   "K1ABC",
			wantMode:   "FT8",
			wantFreq:   14.074,
			hasFreq:    true,
			wantSource: models.SourceADIF,
		},
		{
			name:       "non numeric frequency dropped",
			data:       []byte("<call:5>K1ABC <freq:4>high <eor>"),
			wantCall:   "K1ABC",
			wantSource: models.SourceADIF,
		},
		{
			name:       "oversized length prefix falls back to plain scan",
			data:       []byte("<call:99>W1ABC"),
			wantCall:   "W1ABC",
			wantSource: models.SourcePlainText,
		},
		{
			name:       "lowercase tags and value",
			data:       []byte("<CALL:5>ei6jg"),
			wantCall:   "EI6JG",
			wantSource: models.SourceADIF,
		},
		{
			name: "envelope with unusable payload",
			data: append(AppendEnvelope(nil, 2, 1), 0x00, 0x01, 0x02, 0x03),
		},
		{
			name: "truncated envelope",
			data: AppendEnvelope(nil, 2, 12)[:8],
		},
		{
			name:       "blacklisted candidate skipped for the next token",
			data:       []byte("FST4W OH2XYZ"),
			wantCall:   "OH2XYZ",
			wantSource: models.SourcePlainText,
		},
		{
			name:       "eight bit junk before a record",
			data:       append([]byte{0xff, 0x20}, []byte("<call:5>DL1RF <eor>")...),
			wantCall:   "DL1RF",
			wantSource: models.SourceADIF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Parse(tt.data)
			if tt.wantCall == "" {
				if rec != nil {
					t.Fatalf("Parse() = %+v, want no match", rec)
				}
				return
			}
			if rec == nil {
				t.Fatal("Parse() = no match, want record")
			}
			if rec.Callsign != tt.wantCall {
				t.Errorf("callsign = %q, want %q", rec.Callsign, tt.wantCall)
			}
			if rec.Mode != tt.wantMode {
				t.Errorf("mode = %q, want %q", rec.Mode, tt.wantMode)
			}
			if rec.Source != tt.wantSource {
				t.Errorf("source = %q, want %q", rec.Source, tt.wantSource)
			}
			if tt.hasFreq {
				if rec.FrequencyMHz == nil {
					t.Fatal("frequency missing")
				}
				if *rec.FrequencyMHz != tt.wantFreq {
					t.Errorf("frequency = %v, want %v", *rec.FrequencyMHz, tt.wantFreq)
				}
			} else if rec.FrequencyMHz != nil {
				t.Errorf("frequency = %v, want none", *rec.FrequencyMHz)
			}
			if rec.Timestamp.IsZero() {
				t.Error("timestamp not set")
			}
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		wantOK bool
	}{
		{
			name:   "valid envelope",
			data:   AppendEnvelope(nil, 2, 12),
			wantOK: true,
		},
		{
			name: "short datagram",
			data: []byte{0xad, 0xbc},
		},
		{
			name: "wrong magic",
			data: []byte{0xde, 0xad, 0xbe, 0xef, 0, 0, 0, 2, 0, 0, 0, 12},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, ok := DecodeEnvelope(tt.data)
			if ok != tt.wantOK {
				t.Fatalf("DecodeEnvelope() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if env.Magic != Magic {
				t.Errorf("magic = %#x, want %#x", env.Magic, uint32(Magic))
			}
			if env.Schema != 2 || env.PacketType != 12 {
				t.Errorf("schema/type = %d/%d, want 2/12", env.Schema, env.PacketType)
			}
		})
	}
}

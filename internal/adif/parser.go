// Package adif decodes UDP datagrams from amateur-radio logging software
// into normalized QSO records. Three formats are tried in order: the WSJT-X
// binary envelope, ADIF tag/value text, and a plain-text callsign scan.
// A miss is a normal outcome, not an error.
package adif

import (
	"encoding/binary"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jawaracloud/pileup-bridge/pkg/models"
)

const (
	// Magic opens every WSJT-X binary datagram.
	Magic = 0xadbccbda
	// EnvelopeLen is the fixed header length: magic, schema, packet type.
	EnvelopeLen = 12
)

var (
	callTagRe = regexp.MustCompile(`(?i)<call:(\d+)>`)
	freqTagRe = regexp.MustCompile(`(?i)<freq:(\d+)>`)
	modeTagRe = regexp.MustCompile(`(?i)<mode:(\d+)>`)

	// plainCallRe matches the loose callsign shape: short alphanumeric
	// prefix, at least one digit, letters to the end of the token.
	plainCallRe = regexp.MustCompile(`\b[A-Z0-9]{1,3}[0-9][A-Z]+\b`)
)

// Envelope is the fixed WSJT-X datagram header.
type Envelope struct {
	Magic      uint32
	Schema     uint32
	PacketType uint32
}

// DecodeEnvelope reads the 12-byte WSJT-X header. The second return is
// false when the datagram is too short or the magic number does not match.
func DecodeEnvelope(data []byte) (Envelope, bool) {
	if len(data) < EnvelopeLen {
		return Envelope{}, false
	}
	env := Envelope{
		Magic:      binary.BigEndian.Uint32(data[0:4]),
		Schema:     binary.BigEndian.Uint32(data[4:8]),
		PacketType: binary.BigEndian.Uint32(data[8:12]),
	}
	return env, env.Magic == Magic
}

// AppendEnvelope appends a WSJT-X header to buf.
func AppendEnvelope(buf []byte, schema, packetType uint32) []byte {
	buf = binary.BigEndian.AppendUint32(buf, Magic)
	buf = binary.BigEndian.AppendUint32(buf, schema)
	buf = binary.BigEndian.AppendUint32(buf, packetType)
	return buf
}

// Parse decodes one datagram into a QSO record, or nil when nothing usable
// is found. It never panics on malformed input and has no side effects
// beyond reading the clock for the record timestamp.
func Parse(data []byte) *models.QSORecord {
	if len(data) == 0 {
		return nil
	}
	payload := data
	if _, ok := DecodeEnvelope(data); ok {
		payload = data[EnvelopeLen:]
	}
	if rec := parseText(string(payload)); rec != nil {
		return rec
	}
	// Some loggers still emit 8-bit encodings. Retry as Latin-1 only when
	// the UTF-8 reading produced nothing.
	if !utf8.Valid(payload) {
		return parseText(latin1(payload))
	}
	return nil
}

func parseText(text string) *models.QSORecord {
	if rec := parseADIF(text); rec != nil {
		return rec
	}
	return parsePlainText(text)
}

// parseADIF extracts a QSO from <call:N>VALUE style tags. Frequency and
// mode are opportunistic: a malformed length prefix or a non-numeric value
// drops the field, never the record.
func parseADIF(text string) *models.QSORecord {
	call := Normalize(tagValue(text, callTagRe))
	if call == "" || !ValidCallsign(call) {
		return nil
	}
	rec := &models.QSORecord{
		Callsign:  call,
		Timestamp: time.Now().UTC(),
		Source:    models.SourceADIF,
	}
	if v := strings.TrimSpace(tagValue(text, freqTagRe)); v != "" {
		if mhz, err := strconv.ParseFloat(v, 64); err == nil {
			rec.FrequencyMHz = &mhz
		}
	}
	if v := strings.TrimSpace(tagValue(text, modeTagRe)); v != "" {
		rec.Mode = strings.ToUpper(v)
	}
	return rec
}

// parsePlainText returns the first token shaped like a callsign that passes
// validation.
func parsePlainText(text string) *models.QSORecord {
	for _, cand := range plainCallRe.FindAllString(strings.ToUpper(text), -1) {
		if ValidCallsign(cand) {
			return &models.QSORecord{
				Callsign:  cand,
				Timestamp: time.Now().UTC(),
				Source:    models.SourcePlainText,
			}
		}
	}
	return nil
}

// tagValue extracts the value following a <name:len> tag. re must capture
// the decimal length. Returns "" when the tag is absent or the length prefix
// does not fit the remaining text.
func tagValue(text string, re *regexp.Regexp) string {
	loc := re.FindStringSubmatchIndex(text)
	if loc == nil {
		return ""
	}
	n, err := strconv.Atoi(text[loc[2]:loc[3]])
	if err != nil || n < 0 {
		return ""
	}
	rest := text[loc[1]:]
	if len(rest) < n {
		return ""
	}
	return rest[:n]
}

// latin1 maps each byte to the same code point.
func latin1(data []byte) string {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

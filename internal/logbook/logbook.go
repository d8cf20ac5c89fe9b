// Package logbook persists worked QSOs in a local SQLite file and renders
// them back out as ADIF.
package logbook

import (
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jawaracloud/pileup-bridge/pkg/models"
)

// Timestamps are stored as UnixNano integers so ordering and scanning stay
// driver-independent.
const schema = `
CREATE TABLE IF NOT EXISTS qsos (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	callsign TEXT NOT NULL,
	worked_at INTEGER NOT NULL,
	frequency_mhz REAL,
	mode TEXT,
	source TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_qsos_worked_at ON qsos(worked_at);
`

// Logbook is the append-only QSO archive.
type Logbook struct {
	db *sql.DB
}

// Open creates or opens the logbook database at path.
func Open(path string) (*Logbook, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open logbook: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("logbook schema: %w", err)
	}
	return &Logbook{db: db}, nil
}

// Append records one QSO.
func (l *Logbook) Append(rec models.QSORecord) error {
	var freq interface{}
	if rec.FrequencyMHz != nil {
		freq = *rec.FrequencyMHz
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := l.db.Exec(
		`INSERT INTO qsos (callsign, worked_at, frequency_mhz, mode, source) VALUES (?, ?, ?, ?, ?)`,
		rec.Callsign, ts.UTC().UnixNano(), freq, rec.Mode, rec.Source,
	)
	return err
}

// Entry is one stored logbook row.
type Entry struct {
	ID           int64     `json:"id"`
	Callsign     string    `json:"callsign"`
	WorkedAt     time.Time `json:"worked_at"`
	FrequencyMHz *float64  `json:"frequency_mhz,omitempty"`
	Mode         string    `json:"mode,omitempty"`
	Source       string    `json:"source"`
}

// Recent returns the newest entries first.
func (l *Logbook) Recent(limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.Query(
		`SELECT id, callsign, worked_at, frequency_mhz, mode, source FROM qsos ORDER BY id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			ns   int64
			freq sql.NullFloat64
			mode sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Callsign, &ns, &freq, &mode, &e.Source); err != nil {
			return nil, err
		}
		e.WorkedAt = time.Unix(0, ns).UTC()
		if freq.Valid {
			f := freq.Float64
			e.FrequencyMHz = &f
		}
		e.Mode = mode.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ExportADIF writes the whole log as an ADIF document, oldest first.
func (l *Logbook) ExportADIF(w io.Writer) error {
	rows, err := l.db.Query(`SELECT callsign, worked_at, frequency_mhz, mode FROM qsos ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	if _, err := fmt.Fprint(w, "pileup-bridge log export\n<adif_ver:5>3.1.4 <programid:13>pileup-bridge <eoh>\n"); err != nil {
		return err
	}

	for rows.Next() {
		var (
			callsign string
			ns       int64
			freq     sql.NullFloat64
			mode     sql.NullString
		)
		if err := rows.Scan(&callsign, &ns, &freq, &mode); err != nil {
			return err
		}
		t := time.Unix(0, ns).UTC()

		writeField(w, "call", callsign)
		writeField(w, "qso_date", t.Format("20060102"))
		writeField(w, "time_on", t.Format("150405"))
		if freq.Valid {
			writeField(w, "freq", strconv.FormatFloat(freq.Float64, 'f', 6, 64))
		}
		writeField(w, "mode", mode.String)
		if _, err := fmt.Fprint(w, "<eor>\n"); err != nil {
			return err
		}
	}
	return rows.Err()
}

func writeField(w io.Writer, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "<%s:%d>%s ", name, len(value), value)
}

func (l *Logbook) Close() error {
	return l.db.Close()
}

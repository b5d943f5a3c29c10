// Package eventlog records notable simulation events (bankruptcies,
// restorations, run milestones) in <dir>/logs/events.csv. Every row
// carries the id of the run that wrote it, so one output directory can
// hold the history of successive runs.
package eventlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Event kinds written by the runner.
const (
	EventBankruptcy  = "bankruptcy"
	EventRestored    = "restored"
	EventDeactivated = "deactivated"
	EventPeriod      = "period_completed"
	EventRunStarted  = "run_started"
	EventRunFinished = "run_finished"
)

// Entry is one row in the event log.
type Entry struct {
	Timestamp time.Time // simulated date of the period
	RunID     string
	Period    int
	Agent     string
	Event     string
	Details   string
}

// Header is the CSV header for events.csv.
var Header = []string{"timestamp", "run_id", "period", "agent", "event", "details"}

const (
	colTimestamp = iota
	colRunID
	colPeriod
	colAgent
	colEvent
	colDetails
	numFields
)

// Path returns the event log file under dir.
func Path(dir string) string {
	return filepath.Join(dir, "logs", "events.csv")
}

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.Format(time.RFC3339)
	row[colRunID] = e.RunID
	row[colPeriod] = strconv.Itoa(e.Period)
	row[colAgent] = e.Agent
	row[colEvent] = e.Event
	row[colDetails] = e.Details
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}
	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}
	period, err := strconv.Atoi(record[colPeriod])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing period %q: %w", record[colPeriod], err)
	}
	return Entry{
		Timestamp: ts,
		RunID:     record[colRunID],
		Period:    period,
		Agent:     record[colAgent],
		Event:     record[colEvent],
		Details:   record[colDetails],
	}, nil
}

// Writer appends the events of one run.
type Writer struct {
	path  string
	runID string
}

// NewWriter returns a Writer for the log under dir. Entries it appends
// are stamped with runID.
func NewWriter(dir, runID string) *Writer {
	return &Writer{path: Path(dir), runID: runID}
}

// Append writes entries, creating the file and header if needed.
func (w *Writer) Append(entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	_, statErr := os.Stat(w.path)

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if errors.Is(statErr, fs.ErrNotExist) {
		if err := cw.Write(Header); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for _, e := range entries {
		e.RunID = w.runID
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing %s event: %w", e.Event, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read returns all entries under dir, oldest first, or nil if there is
// no log yet.
func Read(dir string) ([]Entry, error) {
	f, err := os.Open(Path(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()
	return decode(f)
}

func decode(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	var entries []Entry
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading event log: %w", err)
		}
		if line == 1 {
			continue
		}
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
}

// Query selects entries. Zero fields match anything.
type Query struct {
	RunID  string
	Agent  string
	Event  string
	Period int
}

// Match reports whether e satisfies every set field of q.
func (q Query) Match(e Entry) bool {
	return (q.RunID == "" || q.RunID == e.RunID) &&
		(q.Agent == "" || q.Agent == e.Agent) &&
		(q.Event == "" || q.Event == e.Event) &&
		(q.Period == 0 || q.Period == e.Period)
}

// Select returns the entries matching q, in log order.
func Select(entries []Entry, q Query) []Entry {
	var out []Entry
	for _, e := range entries {
		if q.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// LastRun returns the id of the most recently started run in entries.
func LastRun(entries []Entry) string {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Event == EventRunStarted {
			return entries[i].RunID
		}
	}
	return ""
}

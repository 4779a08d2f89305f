// Package audit records the ordered, append-only trail of actions taken during a run.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Phase is the pipeline stage that produced a record
type Phase string

const (
	PhaseRun       Phase = "run"
	PhaseAssess    Phase = "assess"
	PhaseRewrite   Phase = "rewrite"
	PhaseAggregate Phase = "aggregate"
)

// Action is what happened
type Action string

const (
	ActionRunStarted       Action = "run_started"
	ActionWarning          Action = "warning"
	ActionBatchCall        Action = "batch_call"
	ActionBatchSkipped     Action = "batch_skipped"
	ActionCacheHit         Action = "cache_hit"
	ActionAssessed         Action = "assessed"
	ActionAssessmentFailed Action = "assessment_failed"
	ActionPassed           Action = "passed"
	ActionFlagged          Action = "flagged"
	ActionRewritten        Action = "rewritten"
	ActionRewriteFailed    Action = "rewrite_failed"
	ActionFinalized        Action = "finalized"
	ActionRunCancelled     Action = "run_cancelled"
	ActionRunFinished      Action = "run_finished"
)

// Record is one audit entry. Records are immutable once appended.
type Record struct {
	Seq       int       `json:"seq"`
	Time      time.Time `json:"time"`
	RunID     string    `json:"run_id"`
	Phase     Phase     `json:"phase"`
	Action    Action    `json:"action"`
	Batch     *int      `json:"batch,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	ItemID    string    `json:"item_id,omitempty"`
	Items     []string  `json:"items,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	LatencyMS int64     `json:"latency_ms,omitempty"`
	Raw       string    `json:"raw_response,omitempty"`
	Parsed    any       `json:"parsed,omitempty"`
}

// BatchIndex returns a pointer for Record.Batch
func BatchIndex(i int) *int {
	return &i
}

// Log is an append-only list of records for one run
type Log struct {
	runID   string
	now     func() time.Time
	mu      sync.Mutex
	records []Record
}

// NewLog creates an empty log for runID
func NewLog(runID string) *Log {
	return &Log{runID: runID, now: time.Now}
}

// SetClock replaces the time source
func (l *Log) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// RunID returns the run the log belongs to
func (l *Log) RunID() string {
	return l.runID
}

// Append stamps r with the next sequence number, the run ID and the current
// time (unless already set) and appends it
func (l *Log) Append(r Record) Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	r.Seq = len(l.records) + 1
	r.RunID = l.runID
	if r.Time.IsZero() {
		r.Time = l.now().UTC()
	}
	l.records = append(l.records, r)
	return r
}

// Records returns a copy of every record in append order
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Filter returns the records with the given action
func (l *Log) Filter(action Action) []Record {
	var out []Record
	for _, r := range l.Records() {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

// ForItem returns the records that concern itemID, including batch records listing it
func (l *Log) ForItem(itemID string) []Record {
	var out []Record
	for _, r := range l.Records() {
		if r.ItemID == itemID {
			out = append(out, r)
			continue
		}
		for _, id := range r.Items {
			if id == itemID {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// WriteJSONL writes one JSON object per line in append order
func (l *Log) WriteJSONL(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range l.Records() {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode audit record %d: %w", r.Seq, err)
		}
	}
	return nil
}

// ReadJSONL decodes records written by WriteJSONL
func ReadJSONL(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	var records []Record
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode audit record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

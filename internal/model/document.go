package model

import (
	"encoding/json"
	"time"
)

// ScriptDocument is the input script. Only the rebuttal sections are
// interpreted; every other field is carried through to the verified document.
type ScriptDocument struct {
	Rebuttals []ScriptRebuttal `json:"rebuttals" validate:"required,min=1,dive"`

	Extra map[string]json.RawMessage `json:"-"`
}

// ScriptRebuttal is one rebuttal section of the input script
type ScriptRebuttal struct {
	ID      string `json:"id" validate:"required"`
	Text    string `json:"text" validate:"required"`
	Speaker string `json:"speaker"`
	Context string `json:"context"`

	Extra map[string]json.RawMessage `json:"-"`
}

// VerifiedDocument is the terminal artifact of a run
type VerifiedDocument struct {
	Rebuttals    []VerifiedRebuttal `json:"rebuttals" validate:"required,min=1,dive"`
	Verification RunSummary         `json:"verification"`

	Extra map[string]json.RawMessage `json:"-"`
}

// VerifiedRebuttal is a rebuttal section annotated with its verification result.
// Text holds the improved text when the item was rewritten.
type VerifiedRebuttal struct {
	ID           string           `json:"id" validate:"required"`
	Text         string           `json:"text" validate:"required"`
	Speaker      string           `json:"speaker"`
	Context      string           `json:"context"`
	Verification ItemVerification `json:"verification"`

	Extra map[string]json.RawMessage `json:"-"`
}

// ItemVerification carries the score, decision and rewrite metadata of one item
type ItemVerification struct {
	State       ItemState         `json:"state" validate:"required"`
	Score       *AssessmentScore  `json:"score,omitempty"`
	Decision    *RewriteDecision  `json:"decision,omitempty"`
	Improvement *ImprovedRebuttal `json:"improvement,omitempty"`
	Failure     string            `json:"failure,omitempty"`
}

// RunSummary is the document-level verification block
type RunSummary struct {
	RunID            string     `json:"run_id" validate:"required"`
	VerifiedAt       time.Time  `json:"verified_at"`
	Total            int        `json:"total"`
	Passed           int        `json:"passed"`
	Rewritten        int        `json:"rewritten"`
	RewriteFailed    int        `json:"rewrite_failed"`
	AssessmentFailed int        `json:"assessment_failed"`
	Thresholds       Thresholds `json:"thresholds"`
	Warnings         []string   `json:"warnings,omitempty"`
}

// Items extracts the rebuttal items of a script in document order
func (d *ScriptDocument) Items() []RebuttalItem {
	items := make([]RebuttalItem, len(d.Rebuttals))
	for i, r := range d.Rebuttals {
		items[i] = RebuttalItem{
			ID:      r.ID,
			Text:    r.Text,
			Speaker: r.Speaker,
			Context: r.Context,
			Index:   i,
		}
	}
	return items
}

var (
	scriptKeys   = []string{"rebuttals", "verification"}
	rebuttalKeys = []string{"id", "text", "speaker", "context", "verification"}
)

// UnmarshalJSON decodes the known fields and keeps the rest in Extra
func (d *ScriptDocument) UnmarshalJSON(data []byte) error {
	type plain ScriptDocument
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, scriptKeys)
	if err != nil {
		return err
	}
	*d = ScriptDocument(p)
	d.Extra = extra
	return nil
}

// MarshalJSON encodes the known fields merged with Extra
func (d ScriptDocument) MarshalJSON() ([]byte, error) {
	type plain ScriptDocument
	return mergeExtra(plain(d), d.Extra)
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra
func (r *ScriptRebuttal) UnmarshalJSON(data []byte) error {
	type plain ScriptRebuttal
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, rebuttalKeys)
	if err != nil {
		return err
	}
	*r = ScriptRebuttal(p)
	r.Extra = extra
	return nil
}

// MarshalJSON encodes the known fields merged with Extra
func (r ScriptRebuttal) MarshalJSON() ([]byte, error) {
	type plain ScriptRebuttal
	return mergeExtra(plain(r), r.Extra)
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra
func (d *VerifiedDocument) UnmarshalJSON(data []byte) error {
	type plain VerifiedDocument
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, scriptKeys)
	if err != nil {
		return err
	}
	*d = VerifiedDocument(p)
	d.Extra = extra
	return nil
}

// MarshalJSON encodes the known fields merged with Extra
func (d VerifiedDocument) MarshalJSON() ([]byte, error) {
	type plain VerifiedDocument
	return mergeExtra(plain(d), d.Extra)
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra
func (r *VerifiedRebuttal) UnmarshalJSON(data []byte) error {
	type plain VerifiedRebuttal
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, rebuttalKeys)
	if err != nil {
		return err
	}
	*r = VerifiedRebuttal(p)
	r.Extra = extra
	return nil
}

// MarshalJSON encodes the known fields merged with Extra
func (r VerifiedRebuttal) MarshalJSON() ([]byte, error) {
	type plain VerifiedRebuttal
	return mergeExtra(plain(r), r.Extra)
}

// splitExtra returns every top-level field of data not listed in known
func splitExtra(data []byte, known []string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(fields, k)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// mergeExtra encodes v and adds extra fields that do not collide with v's own
func mergeExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return data, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, exists := fields[k]; !exists {
			fields[k] = raw
		}
	}
	return json.Marshal(fields)
}

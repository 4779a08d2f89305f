package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ppiankov/rebutqc/internal/model"
)

// Kind selects which document schema applies
type Kind string

const (
	KindInput    Kind = "input"
	KindVerified Kind = "verified"
)

// FieldError names one missing or malformed field
type FieldError struct {
	Field   string
	Message string
}

// ValidationError reports every schema violation found in a document
type ValidationError struct {
	Kind   Kind
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return fmt.Sprintf("%s document failed schema validation: %s", e.Kind, strings.Join(parts, "; "))
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validator checks input scripts and verified documents
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a schema validator
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := jsonName(f.Tag.Get("json")); name != "" {
			return name
		}
		if name := jsonName(f.Tag.Get("yaml")); name != "" {
			return name
		}
		return f.Name
	})
	return &Validator{validate: v}
}

// Validate checks doc against the schema of the given kind. The check is all
// or nothing: any violation rejects the whole document.
func (v *Validator) Validate(doc any, kind Kind) error {
	verr := &ValidationError{Kind: kind}

	switch kind {
	case KindInput:
		d, ok := doc.(*model.ScriptDocument)
		if !ok || d == nil {
			verr.add("document", "expected script document, got %T", doc)
			return verr
		}
		v.structErrors(d, verr)
		checkUniqueIDs(scriptIDs(d), verr)
	case KindVerified:
		d, ok := doc.(*model.VerifiedDocument)
		if !ok || d == nil {
			verr.add("document", "expected verified document, got %T", doc)
			return verr
		}
		v.structErrors(d, verr)
		checkUniqueIDs(verifiedIDs(d), verr)
		checkVerified(d, verr)
	default:
		verr.add("kind", "unknown schema kind %q", kind)
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// DecodeScript parses and validates an input script
func (v *Validator) DecodeScript(data []byte) (*model.ScriptDocument, error) {
	var doc model.ScriptDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Kind: KindInput, Fields: []FieldError{{Field: "document", Message: err.Error()}}}
	}
	if err := v.Validate(&doc, KindInput); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DecodeVerified parses and validates a verified document
func (v *Validator) DecodeVerified(data []byte) (*model.VerifiedDocument, error) {
	var doc model.VerifiedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Kind: KindVerified, Fields: []FieldError{{Field: "document", Message: err.Error()}}}
	}
	if err := v.Validate(&doc, KindVerified); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ValidateConfig applies the struct rules declared on the configuration
func (v *Validator) ValidateConfig(cfg *model.Config) error {
	err := v.validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		msgs := make([]string, len(fieldErrs))
		for i, fe := range fieldErrs {
			msgs[i] = fmt.Sprintf("%s (%s=%s, got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}
	return fmt.Errorf("invalid configuration: %w", err)
}

func (v *Validator) structErrors(doc any, verr *ValidationError) {
	err := v.validate.Struct(doc)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.add("document", "%v", err)
		return
	}
	for _, fe := range fieldErrs {
		field := trimRoot(fe.Namespace())
		switch fe.Tag() {
		case "required":
			verr.add(field, "required field missing or empty")
		case "min":
			verr.add(field, "must contain at least %s element(s)", fe.Param())
		default:
			verr.add(field, "failed %s check", fe.Tag())
		}
	}
}

func checkVerified(d *model.VerifiedDocument, verr *ValidationError) {
	counts := map[model.ItemState]int{}

	for i, r := range d.Rebuttals {
		prefix := fmt.Sprintf("rebuttals[%d].verification", i)
		ver := r.Verification
		counts[ver.State]++

		if !model.IsTerminal(ver.State) {
			verr.add(prefix+".state", "must be one of %v, got %q", model.TerminalStates(), ver.State)
			continue
		}

		if ver.Score != nil && !ver.Score.Valid() {
			verr.add(prefix+".score", "scores must be between %d and %d, got %s", model.MinScore, model.MaxScore, ver.Score)
		}

		switch ver.State {
		case model.StateAssessmentFailed:
			if ver.Score != nil {
				verr.add(prefix+".score", "must be absent when assessment failed")
			}
			if ver.Failure == "" {
				verr.add(prefix+".failure", "failure reason required for %s", ver.State)
			}
		case model.StatePassed:
			if ver.Score == nil || ver.Decision == nil {
				verr.add(prefix, "passed items require score and decision")
			} else if ver.Decision.NeedsRewrite {
				verr.add(prefix+".decision", "passed item cannot need a rewrite")
			}
		case model.StateRewritten:
			if ver.Score == nil || ver.Decision == nil || !ver.Decision.NeedsRewrite {
				verr.add(prefix, "rewritten items require a score and a rewrite decision")
			}
			if ver.Improvement == nil || ver.Improvement.ImprovedText == "" {
				verr.add(prefix+".improvement", "rewritten items require improved text")
			} else if r.Text != ver.Improvement.ImprovedText {
				verr.add(fmt.Sprintf("rebuttals[%d].text", i), "must equal the improved text")
			}
		case model.StateRewriteFailed:
			if ver.Score == nil || ver.Decision == nil || !ver.Decision.NeedsRewrite {
				verr.add(prefix, "rewrite_failed items require a score and a rewrite decision")
			}
			if ver.Improvement != nil {
				verr.add(prefix+".improvement", "must be absent when rewrite failed")
			}
			if ver.Failure == "" {
				verr.add(prefix+".failure", "failure reason required for %s", ver.State)
			}
		}
	}

	s := d.Verification
	if s.Total != len(d.Rebuttals) {
		verr.add("verification.total", "expected %d, got %d", len(d.Rebuttals), s.Total)
	}
	checkCount(verr, "verification.passed", s.Passed, counts[model.StatePassed])
	checkCount(verr, "verification.rewritten", s.Rewritten, counts[model.StateRewritten])
	checkCount(verr, "verification.rewrite_failed", s.RewriteFailed, counts[model.StateRewriteFailed])
	checkCount(verr, "verification.assessment_failed", s.AssessmentFailed, counts[model.StateAssessmentFailed])
}

func checkCount(verr *ValidationError, field string, got, want int) {
	if got != want {
		verr.add(field, "expected %d, got %d", want, got)
	}
}

func checkUniqueIDs(ids []string, verr *ValidationError) {
	seen := make(map[string]int, len(ids))
	for i, id := range ids {
		if id == "" {
			continue
		}
		if first, dup := seen[id]; dup {
			verr.add(fmt.Sprintf("rebuttals[%d].id", i), "duplicate id %q (first at rebuttals[%d])", id, first)
			continue
		}
		seen[id] = i
	}
}

func scriptIDs(d *model.ScriptDocument) []string {
	ids := make([]string, len(d.Rebuttals))
	for i, r := range d.Rebuttals {
		ids[i] = r.ID
	}
	return ids
}

func verifiedIDs(d *model.VerifiedDocument) []string {
	ids := make([]string, len(d.Rebuttals))
	for i, r := range d.Rebuttals {
		ids[i] = r.ID
	}
	return ids
}

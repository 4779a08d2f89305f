package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/rebutqc/internal/audit"
	"github.com/ppiankov/rebutqc/internal/model"
)

// Renderer writes the artifacts of a run
type Renderer struct {
	indent bool
}

// NewRenderer creates a renderer; indent pretty-prints the verified document
func NewRenderer(indent bool) *Renderer {
	return &Renderer{indent: indent}
}

// RenderJSON writes the verified document to path
func (r *Renderer) RenderJSON(doc *model.VerifiedDocument, path string) error {
	var (
		data []byte
		err  error
	)
	if r.indent {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("encode verified document: %w", err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// RenderAudit writes the audit log to path as JSON lines
func (r *Renderer) RenderAudit(log *audit.Log, path string) error {
	var buf bytes.Buffer
	if err := log.WriteJSONL(&buf); err != nil {
		return err
	}
	return writeFileAtomic(path, buf.Bytes())
}

// RenderMarkdown writes a human-readable run report to path
func (r *Renderer) RenderMarkdown(doc *model.VerifiedDocument, path string) error {
	return writeFileAtomic(path, []byte(Markdown(doc)))
}

// Markdown renders the run report: counts per state, before and after text
// of rewritten items, and the reason of every failure
func Markdown(doc *model.VerifiedDocument) string {
	var b strings.Builder
	s := doc.Verification

	b.WriteString("# Rebuttal Verification Report\n\n")
	fmt.Fprintf(&b, "- Run: `%s`\n", s.RunID)
	fmt.Fprintf(&b, "- Verified at: %s\n", s.VerifiedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Thresholds: %s\n\n", s.Thresholds)

	b.WriteString("## Summary\n\n")
	b.WriteString("| State | Items |\n|---|---|\n")
	fmt.Fprintf(&b, "| passed | %d |\n", s.Passed)
	fmt.Fprintf(&b, "| rewritten | %d |\n", s.Rewritten)
	fmt.Fprintf(&b, "| rewrite_failed | %d |\n", s.RewriteFailed)
	fmt.Fprintf(&b, "| assessment_failed | %d |\n", s.AssessmentFailed)
	fmt.Fprintf(&b, "| **total** | **%d** |\n\n", s.Total)

	if len(s.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range s.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}

	var rewritten, failed []model.VerifiedRebuttal
	for _, r := range doc.Rebuttals {
		switch r.Verification.State {
		case model.StateRewritten:
			rewritten = append(rewritten, r)
		case model.StateRewriteFailed, model.StateAssessmentFailed:
			failed = append(failed, r)
		}
	}

	if len(rewritten) > 0 {
		b.WriteString("## Rewritten\n\n")
		for _, r := range rewritten {
			v := r.Verification
			fmt.Fprintf(&b, "### %s\n\n", r.ID)
			if v.Score != nil {
				fmt.Fprintf(&b, "Score: %s", v.Score)
				if v.Decision != nil {
					fmt.Fprintf(&b, " (failing: %s)", dimensionList(v.Decision.Failing))
				}
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "**Before**\n\n%s\n\n", quote(v.Improvement.OriginalText))
			fmt.Fprintf(&b, "**After**\n\n%s\n\n", quote(v.Improvement.ImprovedText))
			if v.Improvement.Reasoning != "" {
				fmt.Fprintf(&b, "_%s_\n\n", oneLine(v.Improvement.Reasoning))
			}
		}
	}

	if len(failed) > 0 {
		b.WriteString("## Failures\n\n")
		b.WriteString("| Item | State | Reason |\n|---|---|---|\n")
		for _, r := range failed {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", r.ID, r.Verification.State, cell(r.Verification.Failure))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// RenderSummary prints a short run summary
func (r *Renderer) RenderSummary(w io.Writer, res *Result) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "  Verification %s\n", res.RunID)
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	if res.Document != nil {
		s := res.Document.Verification
		fmt.Fprintf(w, "  Total:              %d\n", s.Total)
		fmt.Fprintf(w, "  Passed:             %d\n", s.Passed)
		fmt.Fprintf(w, "  Rewritten:          %d\n", s.Rewritten)
		fmt.Fprintf(w, "  Rewrite failed:     %d\n", s.RewriteFailed)
		fmt.Fprintf(w, "  Assessment failed:  %d\n", s.AssessmentFailed)
	}
	if res.Assess != nil {
		fmt.Fprintf(w, "  Scoring calls:      %d (%d cached)\n", res.Assess.Calls, res.Assess.CacheHits)
	}
	if res.Rewrite != nil {
		fmt.Fprintf(w, "  Rewrite calls:      %d\n", res.Rewrite.Calls)
	}
	fmt.Fprintf(w, "  Duration:           %v\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "\n")
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func dimensionList(dims []model.Dimension) string {
	names := make([]string, len(dims))
	for i, d := range dims {
		names[i] = string(d)
	}
	return strings.Join(names, ", ")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func quote(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

func cell(s string) string {
	return strings.ReplaceAll(oneLine(s), "|", "\\|")
}

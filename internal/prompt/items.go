package prompt

import (
	"fmt"
	"strings"

	"github.com/ppiankov/rebutqc/internal/model"
)

// RebuttalBlock formats one item for the {{REBUTTALS}} placeholder. Extra
// lines are appended after the rebuttal text.
func RebuttalBlock(n int, item model.RebuttalItem, extra ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] id: %s\n", n, item.ID)
	if item.Speaker != "" {
		fmt.Fprintf(&b, "speaker: %s\n", item.Speaker)
	}
	if item.Context != "" {
		fmt.Fprintf(&b, "context: %s\n", oneLine(item.Context))
	}
	fmt.Fprintf(&b, "text: %s\n", oneLine(item.Text))
	for _, line := range extra {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// oneLine collapses internal newlines so each field stays on its own line
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

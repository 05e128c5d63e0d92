// Package usagelog appends a human-readable record of every billed exchange
// to a flat file. It is an operator convenience next to the token_usage
// table, not a source of truth; write failures are reported but never fail
// the exchange that triggered them.
package usagelog

import (
	"fmt"
	"os"
	"sync"
)

type Writer struct {
	mu   sync.Mutex
	path string
}

func New(path string) *Writer {
	return &Writer{path: path}
}

type Entry struct {
	Model        string
	Prompt       string
	CostUSD      *float64
	CostRub      *float64
	CostRubFinal *float64
	Rate         float64
}

// Append writes one record. Costs print as "?" when unknown so a missing
// usage frame is visible in the log instead of reading as zero.
func (w *Writer) Append(entry Entry) error {
	if w == nil || w.path == "" {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open usage log: %w", err)
	}
	defer file.Close()

	record := fmt.Sprintf(
		"Use %s to generate response: %s\nCost: $%s → %s₽ → %s₽ (rate: %v)\n---\n",
		entry.Model,
		entry.Prompt,
		formatCost(entry.CostUSD),
		formatCost(entry.CostRub),
		formatCost(entry.CostRubFinal),
		entry.Rate,
	)
	if _, err := file.WriteString(record); err != nil {
		return fmt.Errorf("append usage log: %w", err)
	}
	return nil
}

func formatCost(v *float64) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf("%v", *v)
}

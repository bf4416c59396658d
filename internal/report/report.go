// Package report emits the flat text listing of matched items.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucashm/pncp-harvester/internal/domain"
)

// Write renders one block per matched item and returns the report path. The
// filename carries the generation timestamp so successive runs never clobber
// each other.
func Write(dir string, runID string, generatedAt time.Time, items []domain.Item) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir %s: %w", dir, err)
	}

	var out strings.Builder
	fmt.Fprintf(&out, "===== ITENS ENCONTRADOS =====\n")
	fmt.Fprintf(&out, "run: %s\ngerado em: %s\n\n", runID, generatedAt.Format(time.RFC3339))
	for _, item := range items {
		fmt.Fprintf(&out, "[%s] Item %d: %s\n", item.Record, item.Number, item.Description)
		fmt.Fprintf(&out, "  Quantidade: %s\n", formatNumber(item.Quantity))
		fmt.Fprintf(&out, "  VU estimado: %s\n", formatNumber(item.UnitValue))
		fmt.Fprintf(&out, "  VT estimado: %s\n", formatNumber(item.TotalValue))
		fmt.Fprintf(&out, "  Detalhar: %s\n", item.DetailURL)
		fmt.Fprintf(&out, "  Edital: %s\n\n", item.NoticeURL)
	}
	fmt.Fprintf(&out, "Total de itens encontrados: %d\n", len(items))

	path := filepath.Join(dir, fmt.Sprintf("relatorio_pncp_%s.txt", generatedAt.Format("20060102-150405")))
	if err := os.WriteFile(path, []byte(out.String()), 0o644); err != nil {
		return "", fmt.Errorf("write report %s: %w", path, err)
	}
	return path, nil
}

func formatNumber(value *float64) string {
	if value == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *value)
}

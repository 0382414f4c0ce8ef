package malha

import (
	"fmt"

	"github.com/nexconsult/malha-fiscal/internal/models"
)

// Report is the running text ledger of a job, one line per cell
type Report struct {
	lines []string
}

// Lines returns a copy of the report lines
func (r *Report) Lines() []string {
	return append([]string(nil), r.lines...)
}

// Processed records a cell whose table was read
func (r *Report) Processed(cell models.Cell, records, documents, failures int) {
	line := fmt.Sprintf("%s - %s: %s", cell.Year, cell.MeshLabel(), pluralize(records, "registro", "registros"))
	if documents > 0 {
		line += ", " + pluralize(documents, "documento baixado", "documentos baixados")
	}
	if failures > 0 {
		line += ", " + pluralize(failures, "falha de download", "falhas de download")
	}
	r.lines = append(r.lines, line)
}

// Unavailable records a cell marked as done whose table was not recorded
func (r *Report) Unavailable(cell models.Cell) {
	r.lines = append(r.lines, fmt.Sprintf("%s - %s: processado anteriormente, tabela indisponível", cell.Year, cell.MeshLabel()))
}

// Failed records a cell that exhausted its attempts
func (r *Report) Failed(cell models.Cell, attempts int, err error) {
	r.lines = append(r.lines, fmt.Sprintf("%s - %s: falha após %s (%v)", cell.Year, cell.MeshLabel(), pluralize(attempts, "tentativa", "tentativas"), err))
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}

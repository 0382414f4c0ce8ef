package malha

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/nexconsult/malha-fiscal/internal/models"
)

// ErrColumnMismatch is returned when a body row does not have one cell per header
var ErrColumnMismatch = errors.New("row cells do not match table headers")

// ExtractTable reads the table rendered under scope and zips every body row
// with the headers of the table's second header row
func ExtractTable(ctx context.Context, page Page, scope string) ([]models.TableRow, error) {
	html, err := page.OuterHTML(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to read table %q: %w", scope, err)
	}
	return ExtractTableHTML(html)
}

// ExtractTableHTML parses the markup of a results table
func ExtractTableHTML(html string) ([]models.TableRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse table: %w", err)
	}

	headerRow := doc.Find("thead tr:nth-child(2)").First()
	if headerRow.Length() == 0 {
		headerRow = doc.Find("thead tr").Last()
	}
	headers := cellTexts(headerRow)

	rows := []models.TableRow{}
	var rowErr error
	doc.Find("tbody tr").EachWithBreak(func(i int, tr *goquery.Selection) bool {
		cells := tr.Children().Filter("th, td")
		if isPlaceholderRow(cells, len(headers)) {
			return true
		}
		row, err := models.NewTableRow(headers, cellTexts(tr))
		if err != nil {
			rowErr = fmt.Errorf("%w: row %d: %v", ErrColumnMismatch, i+1, err)
			return false
		}
		rows = append(rows, row)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}

	return rows, nil
}

func cellTexts(tr *goquery.Selection) []string {
	cells := tr.Children().Filter("th, td")
	texts := make([]string, 0, cells.Length())
	cells.Each(func(_ int, cell *goquery.Selection) {
		texts = append(texts, normalizeText(cell.Text()))
	})
	return texts
}

// isPlaceholderRow detects the single spanning cell the portal renders in
// place of rows ("Nenhum registro encontrado")
func isPlaceholderRow(cells *goquery.Selection, columns int) bool {
	if cells.Length() != 1 || columns < 2 {
		return false
	}
	span, err := strconv.Atoi(cells.AttrOr("colspan", "1"))
	return err == nil && span >= columns
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeCompetence turns a competence period into a filesystem key
func NormalizeCompetence(value string) string {
	return strings.ReplaceAll(strings.TrimSpace(value), "/", "-")
}

// DocumentKey names the document of a missing-invoice row after its
// competence period, falling back to the row position
func DocumentKey(row models.TableRow, header string, index int) string {
	if value, ok := row.Get(header); ok {
		if key := NormalizeCompetence(value); key != "" {
			return key
		}
	}
	return fmt.Sprintf("documento-%d", index+1)
}

// DocumentKeys names the documents of every row of a missing-invoice table.
// Rows sharing a competence period get a numeric suffix in row order, so
// each row keeps its own file.
func DocumentKeys(rows []models.TableRow, header string) []string {
	keys := make([]string, len(rows))
	used := make(map[string]bool, len(rows))
	for i, row := range rows {
		base := DocumentKey(row, header, i)
		key := base
		for n := 2; used[key]; n++ {
			key = fmt.Sprintf("%s-%d", base, n)
		}
		used[key] = true
		keys[i] = key
	}
	return keys
}

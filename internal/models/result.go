package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CompanyResult accumulates the data extracted for one account across all cells
type CompanyResult struct {
	Name string     `json:"name"`
	Data []MeshData `json:"data"`
}

// NewCompanyResult creates an empty result for an account
func NewCompanyResult(name string) *CompanyResult {
	return &CompanyResult{Name: name, Data: []MeshData{}}
}

// Append adds the table read for a cell
func (r *CompanyResult) Append(cell Cell, table []TableRow) {
	if table == nil {
		table = []TableRow{}
	}
	r.Data = append(r.Data, MeshData{
		Year:          cell.Year,
		MeshTypeLabel: cell.MeshLabel(),
		Table:         table,
	})
}

// MeshData is the table found for one (year, mesh type) cell
type MeshData struct {
	Year          string     `json:"Ano"`
	MeshTypeLabel string     `json:"Tipo de malha"`
	Table         []TableRow `json:"Tabela"`
}

// TableRow maps column headers to cell texts, keeping the header order
// of the rendered table.
type TableRow struct {
	keys   []string
	values map[string]string
}

// NewTableRow zips headers and cells by position
func NewTableRow(headers, cells []string) (TableRow, error) {
	if len(headers) != len(cells) {
		return TableRow{}, fmt.Errorf("row has %d cells for %d headers", len(cells), len(headers))
	}
	row := TableRow{values: make(map[string]string, len(headers))}
	for i, header := range headers {
		row.Set(header, cells[i])
	}
	return row, nil
}

// Set assigns a value, appending the key if it is new
func (r *TableRow) Set(key, value string) {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value stored under key
func (r TableRow) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the headers in table order
func (r TableRow) Keys() []string {
	return append([]string(nil), r.keys...)
}

// MarshalJSON encodes the row as an object with keys in table order
func (r TableRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping the key order found in the input
func (r *TableRow) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("table row must be a JSON object")
	}
	*r = TableRow{values: make(map[string]string)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key token %v", tok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decoding column %q: %w", key, err)
		}
		r.Set(key, value)
	}
	_, err = dec.Token()
	return err
}

// Package storage owns the on-disk artifact tree produced by an extraction run.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nexconsult/malha-fiscal/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultRoot is the artifact root used when none is configured
	DefaultRoot = "storage/downloads"

	MarkerFile   = "captura.png"
	TableFile    = "tabela.json"
	ReportFile   = "Relatório.txt"
	SummaryPDF   = "relatorio"
	lockFile     = ".lock"
	pdfExtension = ".pdf"
)

// ArtifactStore maps cells to paths under a root directory and writes the
// artifacts of a run. It answers questions about the tree but never decides
// whether work should be skipped.
type ArtifactStore struct {
	root   string
	mirror Mirror
	logger *logrus.Logger
}

// NewArtifactStore creates a store rooted at root. mirror may be nil.
func NewArtifactStore(root string, mirror Mirror, logger *logrus.Logger) *ArtifactStore {
	if root == "" {
		root = DefaultRoot
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ArtifactStore{
		root:   filepath.Clean(root),
		mirror: mirror,
		logger: logger,
	}
}

// Root returns the artifact root directory
func (s *ArtifactStore) Root() string {
	return s.root
}

// AccountDir returns the directory holding everything produced for an account
func (s *ArtifactStore) AccountDir(account string) string {
	return filepath.Join(s.root, SanitizeName(account))
}

// CellDir returns <root>/<account>/MFIC<mesh>/<year>
func (s *ArtifactStore) CellDir(cell models.Cell) string {
	return filepath.Join(s.AccountDir(cell.Account), SanitizeName(cell.MeshLabel()), SanitizeName(cell.Year))
}

// MarkerPath returns the screenshot whose presence marks the cell as done
func (s *ArtifactStore) MarkerPath(cell models.Cell) string {
	return filepath.Join(s.CellDir(cell), MarkerFile)
}

// TablePath returns where the cell's extracted table is recorded
func (s *ArtifactStore) TablePath(cell models.Cell) string {
	return filepath.Join(s.CellDir(cell), TableFile)
}

// DocumentPath returns the path of a PDF named name inside the cell directory
func (s *ArtifactStore) DocumentPath(cell models.Cell, name string) string {
	return filepath.Join(s.CellDir(cell), SanitizeName(name)+pdfExtension)
}

// ReportPath returns the account's text report
func (s *ArtifactStore) ReportPath(account string) string {
	return filepath.Join(s.AccountDir(account), ReportFile)
}

// Exists reports whether path exists
func (s *ArtifactStore) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsComplete reports whether the cell's completion marker is on disk
func (s *ArtifactStore) IsComplete(cell models.Cell) bool {
	return s.Exists(s.MarkerPath(cell))
}

// WriteFile writes data to path, creating parent directories. The content is
// written to a temporary sibling first and renamed into place so a crash
// never leaves a truncated marker behind.
func (s *ArtifactStore) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}

	s.mirrorFile(ctx, path, data)
	return nil
}

// SaveTable records the rows read for a cell
func (s *ArtifactStore) SaveTable(ctx context.Context, cell models.Cell, rows []models.TableRow) error {
	if rows == nil {
		rows = []models.TableRow{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode table for %s: %w", cell, err)
	}
	return s.WriteFile(ctx, s.TablePath(cell), data)
}

// LoadTable reads back the rows recorded for a cell. It returns an error
// wrapping os.ErrNotExist when the cell has no recorded table.
func (s *ArtifactStore) LoadTable(cell models.Cell) ([]models.TableRow, error) {
	data, err := os.ReadFile(s.TablePath(cell))
	if err != nil {
		return nil, fmt.Errorf("failed to read table for %s: %w", cell, err)
	}
	var rows []models.TableRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode table for %s: %w", cell, err)
	}
	if rows == nil {
		rows = []models.TableRow{}
	}
	return rows, nil
}

// SaveScreenshot writes the completion marker of a cell
func (s *ArtifactStore) SaveScreenshot(ctx context.Context, cell models.Cell, png []byte) error {
	return s.WriteFile(ctx, s.MarkerPath(cell), png)
}

// SaveDocument writes a downloaded PDF into the cell directory
func (s *ArtifactStore) SaveDocument(ctx context.Context, cell models.Cell, name string, data []byte) error {
	return s.WriteFile(ctx, s.DocumentPath(cell, name), data)
}

// WriteReport replaces the account report with lines
func (s *ArtifactStore) WriteReport(ctx context.Context, account string, lines []string) error {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return s.WriteFile(ctx, s.ReportPath(account), []byte(b.String()))
}

// Documents lists the PDFs present in a cell directory
func (s *ArtifactStore) Documents(cell models.Cell) ([]string, error) {
	entries, err := os.ReadDir(s.CellDir(cell))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var docs []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), pdfExtension) {
			docs = append(docs, entry.Name())
		}
	}
	return docs, nil
}

func (s *ArtifactStore) mirrorFile(ctx context.Context, path string, data []byte) {
	if s.mirror == nil {
		return
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	object := filepath.ToSlash(rel)
	if err := s.mirror.Put(ctx, object, data, contentType(path)); err != nil {
		s.logger.WithError(err).WithField("object", object).Warn("Failed to mirror artifact")
	}
}

// SanitizeName makes a single path segment safe for the filesystem
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}

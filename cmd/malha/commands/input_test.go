package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nexconsult/malha-fiscal/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBatch_JSON(t *testing.T) {
	input, err := DecodeBatch(strings.NewReader(`{
		"companies": [{"name": "ACME", "login": "111", "password": "a"}],
		"meshTypes": ["02", "05"],
		"years": ["2022", "2023"]
	}`))
	require.NoError(t, err)

	require.Len(t, input.Companies, 1)
	assert.Equal(t, "ACME", input.Companies[0].Name)
	assert.Equal(t, []string{"02", "05"}, input.MeshTypes)
	assert.Equal(t, []string{"2022", "2023"}, input.Years)
}

func TestDecodeBatch_YAML(t *testing.T) {
	input, err := DecodeBatch(strings.NewReader(`
companies:
  - name: ACME
    login: "111"
    password: a
  - name: BETA
    login: "222"
    password: b
years: ["2023"]
`))
	require.NoError(t, err)

	require.Len(t, input.Companies, 2)
	assert.Equal(t, "222", input.Companies[1].Login)
	assert.Equal(t, []string{"2023"}, input.Years)
	assert.Empty(t, input.MeshTypes)
}

func TestDecodeBatch_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no companies", `{"years": ["2023"]}`},
		{"malformed", `{"companies": [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBatch(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestLoadBatch_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"companies":[{"name":"ACME","login":"1","password":"p"}]}`), 0o644))

	input, err := LoadBatch(path)
	require.NoError(t, err)
	assert.Len(t, input.Companies, 1)

	_, err = LoadBatch(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestResolveJobs(t *testing.T) {
	cfg := config.MalhaConfig{
		BaseURL:   "https://portal.test/malhafiscal",
		Years:     []string{"2023"},
		MeshTypes: []string{"02"},
	}

	input, err := DecodeBatch(strings.NewReader(`{"companies":[{"name":"ACME","login":"1","password":"p"}]}`))
	require.NoError(t, err)

	jobs, err := resolveJobs(input, cfg)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, []string{"2023"}, jobs[0].Years)
	assert.Equal(t, []string{"02"}, jobs[0].MeshTypes)

	cfg.Years = nil
	_, err = resolveJobs(input, cfg)
	assert.ErrorContains(t, err, "at least one year")
}

func TestOverridesApply(t *testing.T) {
	cfg := &config.Config{}
	o := overrides{storage: "/data", baseURL: "https://portal.test", years: []string{"2021"}}
	o.apply(cfg)

	assert.Equal(t, "/data", cfg.Storage.Root)
	assert.Equal(t, "https://portal.test", cfg.Malha.BaseURL)
	assert.Equal(t, []string{"2021"}, cfg.Malha.Years)
	assert.Nil(t, cfg.Malha.MeshTypes)
}

package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nexconsult/malha-fiscal/internal/config"
	"github.com/nexconsult/malha-fiscal/internal/models"
	"gopkg.in/yaml.v3"
)

// LoadBatch reads a batch file, or stdin for "-". JSON input is accepted
// since it is valid YAML.
func LoadBatch(path string) (models.BatchInput, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return models.BatchInput{}, fmt.Errorf("failed to open batch file: %w", err)
		}
		defer f.Close()
		r = f
	}
	return DecodeBatch(r)
}

// DecodeBatch parses a batch document
func DecodeBatch(r io.Reader) (models.BatchInput, error) {
	var input models.BatchInput
	if err := yaml.NewDecoder(r).Decode(&input); err != nil {
		if err == io.EOF {
			return input, fmt.Errorf("batch file is empty")
		}
		return input, fmt.Errorf("failed to parse batch file: %w", err)
	}
	if len(input.Companies) == 0 {
		return input, fmt.Errorf("batch file lists no companies")
	}
	return input, nil
}

// resolveJobs turns the batch into validated jobs
func resolveJobs(input models.BatchInput, cfg config.MalhaConfig) ([]models.Job, error) {
	jobs := input.Jobs(cfg.BaseURL, cfg.Years, cfg.MeshTypes)

	var problems []string
	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid batch: %s", strings.Join(problems, "; "))
	}
	return jobs, nil
}

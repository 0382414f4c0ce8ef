package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MeshTypePrefix is prepended to a mesh-type code to build its label (02 -> MFIC02)
const MeshTypePrefix = "MFIC"

// Company represents one taxpayer account as received from the job intake
type Company struct {
	Name     string `json:"name" yaml:"name" binding:"required" example:"ACME LTDA"`
	Login    string `json:"login" yaml:"login" binding:"required" example:"240000000"`
	Password string `json:"password" yaml:"password" binding:"required" example:"secret"`
}

// BatchInput mirrors the actor input: a list of companies sharing years and mesh types
type BatchInput struct {
	Companies []Company `json:"companies" yaml:"companies" binding:"required,min=1,dive"`
	MeshTypes []string  `json:"meshTypes" yaml:"meshTypes"`
	Years     []string  `json:"years" yaml:"years"`
}

// Jobs resolves the batch into one job per company. Years and mesh types
// fall back to the given defaults when the batch does not carry them.
func (b BatchInput) Jobs(baseURL string, defaultYears, defaultMeshTypes []string) []Job {
	years := b.Years
	if len(years) == 0 {
		years = defaultYears
	}
	meshTypes := b.MeshTypes
	if len(meshTypes) == 0 {
		meshTypes = defaultMeshTypes
	}

	jobs := make([]Job, 0, len(b.Companies))
	for _, company := range b.Companies {
		jobs = append(jobs, Job{
			ID:          uuid.New().String(),
			AccountName: strings.TrimSpace(company.Name),
			Login:       company.Login,
			Password:    company.Password,
			StartURL:    strings.TrimSuffix(baseURL, "/") + "/" + company.Login,
			Years:       append([]string(nil), years...),
			MeshTypes:   append([]string(nil), meshTypes...),
		})
	}
	return jobs
}

// Job is the fully resolved unit of work handed to the extraction core.
// It is immutable once dispatched.
type Job struct {
	ID          string   `json:"id"`
	AccountName string   `json:"account_name"`
	Login       string   `json:"login"`
	Password    string   `json:"-"`
	StartURL    string   `json:"start_url,omitempty"`
	Years       []string `json:"years"`
	MeshTypes   []string `json:"mesh_types"`
}

// Cells expands the job into its extraction cells, years outer and mesh types inner
func (j Job) Cells() []Cell {
	cells := make([]Cell, 0, len(j.Years)*len(j.MeshTypes))
	for _, year := range j.Years {
		for _, meshType := range j.MeshTypes {
			cells = append(cells, Cell{
				Account:  j.AccountName,
				Year:     year,
				MeshType: meshType,
			})
		}
	}
	return cells
}

// Validate checks that the job carries everything the core needs
func (j Job) Validate() error {
	switch {
	case strings.TrimSpace(j.AccountName) == "":
		return fmt.Errorf("account name is required")
	case j.Login == "":
		return fmt.Errorf("login is required for %s", j.AccountName)
	case j.Password == "":
		return fmt.Errorf("password is required for %s", j.AccountName)
	case len(j.Years) == 0:
		return fmt.Errorf("at least one year is required for %s", j.AccountName)
	case len(j.MeshTypes) == 0:
		return fmt.Errorf("at least one mesh type is required for %s", j.AccountName)
	}
	return nil
}

// Cell is one (year, mesh type) unit of extraction work for an account
type Cell struct {
	Account  string `json:"account"`
	Year     string `json:"year"`
	MeshType string `json:"mesh_type"`
}

// MeshLabel returns the portal label for the cell's mesh type
func (c Cell) MeshLabel() string {
	return MeshLabel(c.MeshType)
}

// String returns the cell key used in logs and as the on-disk key
func (c Cell) String() string {
	return c.Account + "/" + c.MeshLabel() + "/" + c.Year
}

// MeshLabel builds the label of a mesh-type code
func MeshLabel(meshType string) string {
	return MeshTypePrefix + meshType
}

// JobStatus represents the lifecycle state of a job in the intake queue
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusRejected  JobStatus = "rejected"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no more work will happen for the job
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusRejected || s == JobStatusFailed
}

// JobStats summarizes what happened to the cells of a job
type JobStats struct {
	CellsTotal       int `json:"cells_total"`
	CellsProcessed   int `json:"cells_processed"`
	CellsResumed     int `json:"cells_resumed"`
	CellsFailed      int `json:"cells_failed"`
	Documents        int `json:"documents"`
	DocumentFailures int `json:"document_failures"`
}

// JobRecord is the persisted view of a job, as exposed by the API
type JobRecord struct {
	ID          string         `json:"id" example:"6f1c7c1e-5b7e-4d4a-9a57-0d0f0c0b1a2b"`
	AccountName string         `json:"account_name" example:"ACME LTDA"`
	Status      JobStatus      `json:"status" example:"completed"`
	Attempts    int            `json:"attempts" example:"1"`
	Error       string         `json:"error,omitempty"`
	Stats       JobStats       `json:"stats"`
	Result      *CompanyResult `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

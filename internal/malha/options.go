package malha

import (
	"strings"
	"time"
)

// DefaultBaseURL is the portal root
const DefaultBaseURL = "https://contribuinte.sefaz.al.gov.br/malhafiscal/"

// Selectors holds the portal DOM contract
type Selectors struct {
	SignInLink  string
	Username    string
	Password    string
	LoginButton string
	LoginError  string
	LoggedUser  string

	Overlay  string
	MeshType string
	Year     string
	Submit   string

	Table           string
	MissingInvoices string
	RowDownload     string
	ReportDownload  string
}

// DefaultSelectors returns the selectors of the current portal layout
func DefaultSelectors() Selectors {
	return Selectors{
		SignInLink:  `a[jhitranslate="global.messages.info.authenticated.link"]`,
		Username:    "#username",
		Password:    "#password",
		LoginButton: "#button-entrar",
		LoginError:  `div[jhitranslate="login.messages.error.authentication"]`,
		LoggedUser:  "#span-usuario-logado",

		Overlay:  ".black-overlay",
		MeshType: "#tipo",
		Year:     "#ano",
		Submit:   `form button[type="submit"]`,

		// The result grid is the only table with a header section; layout
		// tables elsewhere on the page have none.
		Table:           "table:has(> thead)",
		MissingInvoices: "jhi-notas-omissas",
		RowDownload:     "td:last-child button",
		ReportDownload:  `button[title="Relatório"]`,
	}
}

// ReadinessOptions bounds the busy overlay waits
type ReadinessOptions struct {
	Overlay          string
	AppearTimeout    time.Duration
	DisappearTimeout time.Duration
	PollInterval     time.Duration
}

// DownloadOptions bounds the blob capture
type DownloadOptions struct {
	TargetTimeout   time.Duration
	ResponseTimeout time.Duration
}

// Options configures a run against the portal
type Options struct {
	BaseURL   string
	Selectors Selectors
	Readiness ReadinessOptions
	Download  DownloadOptions

	// Timeouts for single element waits
	SignInTimeout    time.Duration
	ElementTimeout   time.Duration
	AuthTimeout      time.Duration
	AuthPollInterval time.Duration

	MaxCellAttempts     int
	MaxDocumentAttempts int
	RetryDelay          time.Duration

	// CompetenceHeader names the column used to key missing-invoice documents
	CompetenceHeader string
}

// DefaultOptions returns the default portal options
func DefaultOptions() Options {
	selectors := DefaultSelectors()
	return Options{
		BaseURL:   DefaultBaseURL,
		Selectors: selectors,
		Readiness: ReadinessOptions{
			Overlay:          selectors.Overlay,
			AppearTimeout:    3 * time.Second,
			DisappearTimeout: 60 * time.Second,
			PollInterval:     250 * time.Millisecond,
		},
		Download: DownloadOptions{
			TargetTimeout:   30 * time.Second,
			ResponseTimeout: 30 * time.Second,
		},

		SignInTimeout:    30 * time.Second,
		ElementTimeout:   30 * time.Second,
		AuthTimeout:      10 * time.Second,
		AuthPollInterval: 100 * time.Millisecond,

		MaxCellAttempts:     3,
		MaxDocumentAttempts: 2,
		RetryDelay:          time.Second,

		CompetenceHeader: "Competência",
	}
}

// RootURL returns the portal landing page
func (o Options) RootURL() string {
	return strings.TrimSuffix(o.BaseURL, "/") + "/#"
}

// ListingURL returns the pending items listing holding the query form
func (o Options) ListingURL() string {
	return o.RootURL() + "/pendencias"
}

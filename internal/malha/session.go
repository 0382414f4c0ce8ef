package malha

// AuthState is the authentication state of a session
type AuthState int

const (
	Unauthenticated AuthState = iota
	Authenticated
	Rejected
	AuthFailure
)

func (s AuthState) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Rejected:
		return "rejected"
	case AuthFailure:
		return "failure"
	}
	return "unauthenticated"
}

// State is the position of a job in the extraction state machine
type State string

const (
	StateInit           State = "init"
	StateAuthenticating State = "authenticating"
	StateRejected       State = "rejected"
	StateAuthFailure    State = "auth_failure"
	StateAuthenticated  State = "authenticated"
	StatePendingCells   State = "pending_cells"
	StatePreparing      State = "preparing"
	StateFormSubmitted  State = "form_submitted"
	StateNoFormNeeded   State = "no_form_needed"
	StateTableRead      State = "table_read"
	StateDownloading    State = "downloading"
	StatePersisted      State = "persisted"
	StateDone           State = "done"
)

// Session pairs the page owned by a job with its authentication state.
// It is not safe for concurrent use.
type Session struct {
	Page  Page
	State AuthState
	opts  Options
}

// NewSession creates an unauthenticated session on page
func NewSession(page Page, opts Options) *Session {
	return &Session{
		Page:  page,
		State: Unauthenticated,
		opts:  opts,
	}
}

package session

// State is the authentication state of a Service.
type State int

const (
	Anonymous State = iota
	PendingSecondFactor
	Authenticated
)

func (s State) String() string {
	switch s {
	case PendingSecondFactor:
		return "pending_second_factor"
	case Authenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// Status is a point-in-time view of the session.
type Status struct {
	State    State  `json:"-"`
	Username string `json:"username,omitempty"`
}

// LoggedIn reports whether reads requiring a session are possible.
func (s Status) LoggedIn() bool {
	return s.State == Authenticated
}

// authState is never mutated after it is published.
type authState struct {
	state    State
	username string
	// loader is the authenticated loader in Authenticated, or the
	// half-logged-in loader awaiting a code in PendingSecondFactor.
	loader Loader
}

var anonymous = &authState{state: Anonymous}

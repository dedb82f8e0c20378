package session

// StateKind tags the coordinator's view of who is signed in.
type StateKind string

const (
	StateUnknown       StateKind = "unknown"
	StateAuthenticated StateKind = "authenticated"
	StateAnonymous     StateKind = "anonymous"
)

// State is the tagged session variant. Identity is set only when Kind is
// StateAuthenticated.
type State struct {
	Kind     StateKind `json:"kind"`
	Identity *Identity `json:"identity,omitempty"`
}

func (s State) IsAuthenticated() bool { return s.Kind == StateAuthenticated }
func (s State) IsAnonymous() bool     { return s.Kind == StateAnonymous }
func (s State) IsUnknown() bool       { return s.Kind == StateUnknown || s.Kind == "" }

// UserID returns the signed in identity id, or "".
func (s State) UserID() string {
	if s.Kind != StateAuthenticated || s.Identity == nil {
		return ""
	}
	return s.Identity.ID
}

func (s State) Equal(o State) bool {
	return s.Kind == o.Kind && s.Identity.Equal(o.Identity)
}

func (s State) clone() State {
	return State{Kind: s.Kind, Identity: s.Identity.Clone()}
}

// Authenticated builds an authenticated state for id.
func Authenticated(id *Identity) State {
	return State{Kind: StateAuthenticated, Identity: id.Clone()}
}

// Anonymous builds the signed out state.
func Anonymous() State {
	return State{Kind: StateAnonymous}
}

// Unknown is a construction only state, nothing transitions into it.
var stateTransitions = map[StateKind]map[StateKind]struct{}{
	StateUnknown: {
		StateAnonymous:     {},
		StateAuthenticated: {},
	},
	StateAnonymous: {
		StateAnonymous:     {},
		StateAuthenticated: {},
	},
	StateAuthenticated: {
		StateAnonymous:     {},
		StateAuthenticated: {},
	},
}

// CanTransition reports whether the coordinator may move from one state kind
// to another.
func CanTransition(from, to StateKind) bool {
	if allowed, ok := stateTransitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// OperationKind names a mutating coordinator call.
type OperationKind string

const (
	OpRegister             OperationKind = "register"
	OpSignIn               OperationKind = "sign_in"
	OpSignOut              OperationKind = "sign_out"
	OpRequestPasswordReset OperationKind = "request_password_reset"
	OpResetPassword        OperationKind = "reset_password"
	OpChangePassword       OperationKind = "change_password"
	OpUpdateProfile        OperationKind = "update_profile"
	OpExchangeCode         OperationKind = "exchange_code"
	OpVerifyEmail          OperationKind = "verify_email"
)

// Snapshot is the observable value of a coordinator. Two snapshots with the
// same Version are identical.
type Snapshot struct {
	State      State           `json:"state"`
	Loading    bool            `json:"loading"`
	Pending    []OperationKind `json:"pending,omitempty"`
	Recovering bool            `json:"recovering"`
	Version    uint64          `json:"version"`
}

// IsPending reports whether an operation of kind is in flight.
func (s Snapshot) IsPending(kind OperationKind) bool {
	for _, k := range s.Pending {
		if k == kind {
			return true
		}
	}
	return false
}

// Observer receives snapshots in version order.
type Observer func(Snapshot)

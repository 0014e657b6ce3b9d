package accounts

import (
	"errors"
	"time"
)

// Role tags an account. Call-taker specific fields are only reachable after
// narrowing with Account.CallTaker.
type Role string

const (
	RoleCaller    Role = "USER"
	RoleCallTaker Role = "TELECALLER"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
)

type Approval string

const (
	ApprovalPending  Approval = "PENDING"
	ApprovalApproved Approval = "APPROVED"
	ApprovalRejected Approval = "REJECTED"
)

// Presence is the durable reachability flag of a call-taker, the mirror of
// the live presence registry used by listings outside this service.
type Presence string

const (
	PresenceOnline  Presence = "ONLINE"
	PresenceOffline Presence = "OFFLINE"
	PresenceOnCall  Presence = "ON_CALL"
)

func (p Presence) Valid() bool {
	switch p {
	case PresenceOnline, PresenceOffline, PresenceOnCall:
		return true
	default:
		return false
	}
}

var (
	ErrNotFound        = errors.New("accounts: not found")
	ErrNotCallTaker    = errors.New("accounts: not a call-taker")
	ErrInvalidPresence = errors.New("accounts: invalid presence")
)

// CallTakerProfile holds the fields that only exist for call-takers.
type CallTakerProfile struct {
	About    string   `json:"about,omitempty"`
	Approval Approval `json:"approvalStatus"`
	Presence Presence `json:"presence"`
}

// Account is a participant account owned by the account service.
type Account struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Profile string `json:"profile,omitempty"`
	Role    Role   `json:"role"`
	Status  Status `json:"accountStatus"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	callTaker *CallTakerProfile
}

// NewCaller builds a caller account.
func NewCaller(id, name string, status Status) Account {
	return Account{ID: id, Name: name, Role: RoleCaller, Status: status}
}

// NewCallTaker builds a call-taker account with its profile attached.
func NewCallTaker(id, name string, status Status, p CallTakerProfile) Account {
	return Account{ID: id, Name: name, Role: RoleCallTaker, Status: status, callTaker: &p}
}

// CallTaker narrows the account to its call-taker profile.
func (a Account) CallTaker() (CallTakerProfile, bool) {
	if a.Role != RoleCallTaker || a.callTaker == nil {
		return CallTakerProfile{}, false
	}
	return *a.callTaker, true
}

func (a Account) IsActive() bool { return a.Status == StatusActive }

// IsApprovedCallTaker is false for callers and for call-takers pending review.
func (a Account) IsApprovedCallTaker() bool {
	p, ok := a.CallTaker()
	return ok && p.Approval == ApprovalApproved
}

// DisplayName falls back to "Unknown" for accounts that never set a name.
func (a Account) DisplayName() string {
	if a.Name == "" {
		return "Unknown"
	}
	return a.Name
}

// Summary is the participant shape embedded in call events.
type Summary struct {
	ID      string  `json:"_id"`
	Name    string  `json:"name"`
	Profile *string `json:"profile"`
}

func (a Account) Summary() Summary {
	s := Summary{ID: a.ID, Name: a.DisplayName()}
	if a.Profile != "" {
		p := a.Profile
		s.Profile = &p
	}
	return s
}

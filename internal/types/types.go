package types

import (
	"time"
)

// Participant is one connected client in a collaboration room. A user with
// multiple tabs open holds multiple participants, one per connection.
type Participant struct {
	ConnectionId string    `json:"connection_id"`
	UserId       int       `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
}

// LockInfo is the wire snapshot of one unit lock.
type LockInfo struct {
	UnitId     string      `json:"unit_id"`
	Holder     Participant `json:"holder"`
	AcquiredAt time.Time   `json:"acquired_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

type PermissionRole string

const (
	RoleOwner  PermissionRole = "owner"
	RoleEditor PermissionRole = "editor"
	RoleViewer PermissionRole = "viewer"
)

// Level returns the role's position in the owner > editor > viewer
// hierarchy, or -1 for an unknown role.
func (r PermissionRole) Level() int {
	switch r {
	case RoleViewer:
		return 0
	case RoleEditor:
		return 1
	case RoleOwner:
		return 2
	default:
		return -1
	}
}

func (r PermissionRole) Valid() bool {
	return r.Level() >= 0
}

type StoryPermission struct {
	StoryId   int            `json:"story_id"`
	UserId    int            `json:"user_id"`
	Role      PermissionRole `json:"role"`
	InvitedBy int            `json:"invited_by"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

package connect

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConnectionStatus is the lifecycle status of a connection request
type ConnectionStatus string

const (
	// ConnectionPending is the initial status
	ConnectionPending ConnectionStatus = "pending"
	// ConnectionAccepted the receiver accepted the request
	ConnectionAccepted ConnectionStatus = "accepted"
	// ConnectionRejected the receiver declined the request
	ConnectionRejected ConnectionStatus = "rejected"
)

// Valid reports whether s is a known status
func (s ConnectionStatus) Valid() bool {
	switch s {
	case ConnectionPending, ConnectionAccepted, ConnectionRejected:
		return true
	}
	return false
}

// Terminal reports whether no further status change is allowed
func (s ConnectionStatus) Terminal() bool {
	return s == ConnectionAccepted || s == ConnectionRejected
}

// Relation names accepted by populate arguments.
const (
	RelConnectionsSent     = "ConnectionsSent"
	RelConnectionsReceived = "ConnectionsReceived"
	RelRequester           = "Requester"
	RelReceiver            = "Receiver"
)

// User is the user model
type User struct {
	bun.BaseModel       `bun:"table:users,alias:usr"`
	ID                  uuid.UUID            `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username            string               `bun:"username,notnull,unique" json:"username,omitempty"`
	Email               string               `bun:"email,notnull,unique" json:"email,omitempty"`
	FullName            string               `bun:"full_name" json:"full_name,omitempty"`
	Phone               string               `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash        string               `bun:"password_hash" json:"-"`
	Confirmed           bool                 `bun:"confirmed,notnull" json:"confirmed"`
	Approved            bool                 `bun:"approved,notnull" json:"approved"`
	Blocked             bool                 `bun:"blocked,notnull" json:"blocked"`
	ConfirmationToken   string               `bun:"confirmation_token,nullzero" json:"-"`
	ResetPasswordToken  string               `bun:"reset_password_token,nullzero" json:"-"`
	ResetPasswordSentAt *time.Time           `bun:"reset_password_sent_at,nullzero" json:"-"`
	ConnectionsSent     []*ConnectionRequest `bun:"rel:has-many,join:id=requester_id" json:"connections_sent"`
	ConnectionsReceived []*ConnectionRequest `bun:"rel:has-many,join:id=receiver_id" json:"connections_received"`
	CreatedAt           *time.Time           `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt           *time.Time           `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// DisplayName is the name used in notifications, falling back to the email.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.FullName); name != "" {
		return name
	}
	return u.Email
}

// ConnectionRequest is a directed request from requester to receiver
type ConnectionRequest struct {
	bun.BaseModel `bun:"table:connection_requests,alias:cr"`
	ID            uuid.UUID        `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	RequesterID   uuid.UUID        `bun:"requester_id,notnull,type:uuid" json:"requester_id"`
	Requester     *User            `bun:"rel:belongs-to,join:requester_id=id" json:"requester,omitempty"`
	ReceiverID    uuid.UUID        `bun:"receiver_id,notnull,type:uuid" json:"receiver_id"`
	Receiver      *User            `bun:"rel:belongs-to,join:receiver_id=id" json:"receiver,omitempty"`
	Status        ConnectionStatus `bun:"status,notnull" json:"status"`
	Message       string           `bun:"message" json:"message,omitempty"`
	CreatedAt     *time.Time       `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time       `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// IsParticipant reports whether userID is the requester or the receiver
func (c *ConnectionRequest) IsParticipant(userID uuid.UUID) bool {
	if c == nil {
		return false
	}
	return c.RequesterID == userID || c.ReceiverID == userID
}

package models

import (
	"time"
)

// Actor is an authenticated participant. It is resolved once per request and
// passed explicitly into every conversation operation.
type Actor struct {
	ID             string     `json:"id"`
	DisplayName    string     `json:"display_name"`
	Role           SenderType `json:"role"`
	PresenceOnline bool       `json:"presence_online"`
	CreatedAt      time.Time  `json:"created_at,omitempty"`
}

func (a *Actor) IsDoctor() bool {
	return a != nil && a.Role == SenderDoctor
}

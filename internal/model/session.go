package model

import "time"

// Session links a user to one live connection. It lives only in the registry.
type Session struct {
	UserID      string    `json:"userId"`
	ConnID      string    `json:"connId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

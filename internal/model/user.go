// Package model defines the data structures used throughout the application.
package model

import "time"

// User is one entry of the credential store, keyed by Username.
//
// WHY BOTH Username AND ID?
// Username is what people type and what the per-user directory is named
// after. ID is an xid minted at registration; it is what the project
// endpoints use as user_id, so a project row never embeds a login name.
//
// Records written by older versions of the service may carry a sha256 hex
// digest in PasswordHash and no ID. The auth service upgrades both on the
// next successful login.
type User struct {
	Username     string    `json:"username"`
	ID           string    `json:"id,omitempty"`
	PasswordHash string    `json:"password_hash"`
	Directory    string    `json:"directory"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
}

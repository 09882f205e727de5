// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxDisplayNameLen = 36

	// AnonymousName is the display name before authentication.
	AnonymousName = "AnonymousUser"
)

var (
	ErrNameEmpty   = errors.New("display name empty")
	ErrNameTooLong = errors.New("display name too long")
)

type (
	// UserID is the externally visible participant identity, stable across
	// reconnects. It is not the connection identifier.
	UserID string

	RoomID   string
	TenantID string
)

// TokenClaims is the decoded payload of a media access token.
type TokenClaims struct {
	ServiceID          string   `json:"service_id"`
	RoomID             RoomID   `json:"room_id"`
	ServerID           TenantID `json:"server_id"`
	DisplayName        string   `json:"display_name"`
	MaxIncomingBitrate int      `json:"max_incoming_bitrate"`
	Nonce              string   `json:"nonce"`
}

func NewUserID() UserID { return UserID(uuid.NewString()) }

// CheckDisplayName enforces the name bounds shared by token claims and
// rename requests.
func CheckDisplayName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrNameTooLong
	}
	return nil
}

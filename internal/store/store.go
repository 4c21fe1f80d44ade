// Package store persists printer identities across a fast local cache, a
// durable local database and an optional per-user remote table.
package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("printer not found")

// PrinterIdentity is a printer the user has connected to before
type PrinterIdentity struct {
	DeviceID           string    `json:"device_id"`
	DisplayName        string    `json:"display_name"`
	LastConnected      time.Time `json:"last_connected"`
	IsDefault          bool      `json:"is_default"`
	ServiceUUID        string    `json:"service_uuid,omitempty"`
	CharacteristicUUID string    `json:"characteristic_uuid,omitempty"`
}

func (p PrinterIdentity) IsZero() bool {
	return p.DeviceID == ""
}

// Name returns the display name, falling back to the device id
func (p PrinterIdentity) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.DeviceID
}

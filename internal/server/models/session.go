package models

import "time"

// Session is one issued access-token/device pairing. A structurally valid
// access token whose session row has been deleted must fail verification,
// which is what makes logout and eviction effective before the JWT expires.
type Session struct {
	ID         string
	UserID     string
	Token      string
	DeviceInfo string
	LastActive time.Time
	CreatedAt  time.Time
}

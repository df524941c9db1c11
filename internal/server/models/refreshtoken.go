package models

import "time"

type RefreshToken struct {
	ID         string
	UserID     string
	Token      string
	DeviceInfo string
	IPAddress  string
	Revoked    bool
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

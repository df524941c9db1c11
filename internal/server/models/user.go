// Package models defines the persisted server-side entities.
package models

import "time"

type User struct {
	ID           string
	Phone        string
	Name         string
	PasswordHash []byte
	CreatedAt    time.Time
}

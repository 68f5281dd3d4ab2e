package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Receipt is the ledger record of one completed upload
type Receipt struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"not null"`
	Path        string    `json:"path" gorm:"not null;index"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	Chunked     bool      `json:"chunked"`
	CompletedAt time.Time `json:"completed_at" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`
}

// BeforeCreate generates a UUID for the receipt ID
func (r *Receipt) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Principal is an authenticated caller
type Principal struct {
	Username string `json:"username"`
	Method   string `json:"method"` // basic, bearer, anonymous
}

// AuthToken represents an issued bearer token
type AuthToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}

package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Setting is a key/value store entry managed from the back-office.
type Setting struct {
	bun.BaseModel `bun:"table:settings"`

	Key       string    `bun:"key,pk"`
	Value     string    `bun:"value"`
	UpdatedAt time.Time `bun:"updated_at,nullzero"`
}

package domain

import "time"

// IdempotencyRecord caches a prior response body for a client-supplied
// registration Idempotency-Key, per the design note that the source's
// idempotency handling was incomplete and must persist with a TTL.
type IdempotencyRecord struct {
	Key            string `gorm:"primaryKey"`
	ResponseStatus int    `gorm:"not null"`
	ResponseBody   []byte `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;index"`
	ExpiresAt      time.Time `gorm:"not null;index"`
}

func (IdempotencyRecord) TableName() string { return "idempotency_keys" }

// DefaultIdempotencyTTL bounds how long a registration replay stays cached.
const DefaultIdempotencyTTL = 24 * time.Hour

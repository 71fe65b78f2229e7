package domain

import "time"

// Session is the auth artifact minted by C2 on a successful credential
// exchange. It is never persisted: the signed token is self-describing and
// verification is stateless (§3 "Session... C5 holds only ephemeral local
// copies").
type Session struct {
	SessionID string
	BotKey    string
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ExpiresInSeconds returns the remaining lifetime as an integer second
// count, the unit the registration response envelope uses.
func (s Session) ExpiresInSeconds() int {
	d := time.Until(s.ExpiresAt)
	if d < 0 {
		return 0
	}
	return int(d.Seconds())
}

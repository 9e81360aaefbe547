package model

import "time"

// Credential is a bearer token for the provider API.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the credential is unusable at now, treating the
// final margin before ExpiresAt as already expired.
func (c Credential) Expired(now time.Time, margin time.Duration) bool {
	if c.Token == "" {
		return true
	}
	return !now.Before(c.ExpiresAt.Add(-margin))
}

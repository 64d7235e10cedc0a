package domain

import "time"

// Account represents a registered credential pair. It is never mutated after creation.
type Account struct {
	ID         int64
	Identifier string
	SecretHash string
	CreatedAt  time.Time
}

// Identity is the account summary carried by a session and returned to clients.
type Identity struct {
	AccountID  int64
	Identifier string
}

// Identity returns the public summary of the account.
func (a Account) Identity() Identity {
	return Identity{AccountID: a.ID, Identifier: a.Identifier}
}

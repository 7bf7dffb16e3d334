package app

import "github.com/google/uuid"

// newSessionID names one transfer session (one connection) in logs.
func newSessionID() string {
	return uuid.NewString()
}

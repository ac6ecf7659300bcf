// Package model defines the records the service persists.
package model

import "time"

// Snippet is a saved pairing: a vanilla implementation (CodeA) and a library
// implementation (CodeB) of the same pattern, kept so it can be re-run.
//
// PatternID is set when the pairing started from a catalog pattern and is
// empty for hand-written pairs. Fingerprint is a hash of both code strings;
// two snippets with the same fingerprint run identical code.
type Snippet struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PatternID   string    `json:"patternId,omitempty"`
	CodeA       string    `json:"codeA"`
	CodeB       string    `json:"codeB"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

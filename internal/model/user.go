package model

import "time"

// User is an account created on first GitHub login.
//
// GitHubID is the stable external identity (GitHub's numeric user id, UNIQUE
// in the users table). ID is our own xid so snippet ownership does not depend
// on GitHub's numbering. Email may be empty when the user hides it.
type User struct {
	ID        string    `json:"id"`
	GitHubID  int64     `json:"githubId"`
	Login     string    `json:"login"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatarUrl"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

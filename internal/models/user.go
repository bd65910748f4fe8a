package models

import "github.com/uptrace/bun"

// User mirrors the identity supplied by the auth collaborator. Rows are
// upserted from request claims so review listings and draw audits can carry
// name and phone without calling back into the auth service.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID    string `bun:"id,pk" json:"id"`
	Name  string `bun:"name,nullzero" json:"name"`
	Email string `bun:"email,nullzero" json:"email"`
	Phone string `bun:"phone,nullzero" json:"phone"`
}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Role  string `json:"role"`
}

func (i Identity) IsAdmin() bool { return i.Role == "admin" }

func (i Identity) User() User {
	return User{ID: i.ID, Name: i.Name, Email: i.Email, Phone: i.Phone}
}

// M2MTokenResponse is the token endpoint response for client-credential
// calls to sibling services.
type M2MTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

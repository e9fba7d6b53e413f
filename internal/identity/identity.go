// Package identity holds the server-asserted user profile. The gateway never
// fabricates one: a User only ever originates from an identity-confirmation
// request or from a successful login, registration, or session-exchange
// response.
package identity

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Picture      string `json:"picture,omitempty"`
	Role         string `json:"role,omitempty"`
	Specialty    string `json:"specialty,omitempty"`
	Organization string `json:"organization,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

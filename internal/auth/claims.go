package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service. The
// admin API is operated by a small set of named operators; there is no
// per-customer login, phones authenticate by number on the signaling socket.
type Claims struct {
	jwt.RegisteredClaims

	Operator  string    `json:"operator"`
	TokenType TokenType `json:"token_type"`
}

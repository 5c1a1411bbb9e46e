package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for operator tokens.
// Campaigns, when non-empty, scopes the operator to those campaign ids.
type Claims struct {
	jwt.RegisteredClaims

	OperatorID string   `json:"operator_id"`
	Role       string   `json:"role"`
	Campaigns  []string `json:"campaigns,omitempty"`
}

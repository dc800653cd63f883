package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Capability answers whether an account may perform admin operations.
type Capability interface {
	IsAdmin(accountID string) bool
	// Admins lists every admin account, used to route approval requests.
	Admins() []string
}

// StaticAdmins is a Capability backed by a fixed list of account ids.
type StaticAdmins struct {
	ids []string
	set map[string]struct{}
}

// NewStaticAdmins builds a capability from a list of account ids.
func NewStaticAdmins(ids ...string) *StaticAdmins {
	s := &StaticAdmins{set: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if _, dup := s.set[id]; dup || id == "" {
			continue
		}
		s.set[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	return s
}

func (s *StaticAdmins) IsAdmin(accountID string) bool {
	_, ok := s.set[accountID]
	return ok
}

func (s *StaticAdmins) Admins() []string {
	return append([]string(nil), s.ids...)
}

// ErrInvalidToken is returned for tokens that fail signature, expiry or
// claim checks.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims identify the calling account. The subject is the account id.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 bearer tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer returns an Issuer for the given shared secret.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for accountID valid from now for the issuer's ttl.
func (i *Issuer) Issue(accountID, username string, now time.Time) (string, error) {
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its claims.
func (i *Issuer) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

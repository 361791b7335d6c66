package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"slateboard/internal/core/ports"
	"slateboard/pkg/utils"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims is the payload of locally minted identity tokens.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// LocalProvider backs identity with HS256 tokens minted by this server.
// Tokens that do not parse as JWTs are treated as anonymous: their
// identity is the token string itself and they can prove no email.
type LocalProvider struct {
	secret   []byte
	tokenTTL time.Duration
}

func NewLocalProvider(secret string, tokenTTL time.Duration) *LocalProvider {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &LocalProvider{secret: []byte(secret), tokenTTL: tokenTTL}
}

// MintToken issues a signed token binding the given email.
func (p *LocalProvider) MintToken(email string) (string, error) {
	claims := &Claims{
		Email: utils.NormalizeEmail(email),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(p.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

func (p *LocalProvider) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return p.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// ResolveIdentity maps a signed token to its email. Unsigned tokens
// resolve to themselves, expired or tampered ones to "".
func (p *LocalProvider) ResolveIdentity(ctx context.Context, token string) (string, error) {
	claims, err := p.parse(token)
	if err != nil {
		if looksSigned(token) {
			return "", nil
		}
		return token, nil
	}
	return claims.Email, nil
}

// VerifyEmail checks that the token proves ownership of the email.
func (p *LocalProvider) VerifyEmail(ctx context.Context, token, email string) (bool, error) {
	claims, err := p.parse(token)
	if err != nil {
		return false, nil
	}
	return claims.Email == utils.NormalizeEmail(email), nil
}

// looksSigned distinguishes JWT-shaped tokens from plain anonymous ones.
func looksSigned(token string) bool {
	dots := 0
	for _, r := range token {
		if r == '.' {
			dots++
		}
	}
	return dots == 2
}

var _ ports.IdentityProvider = (*LocalProvider)(nil)

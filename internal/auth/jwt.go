package auth

import (
	"errors"
	"fmt"
	"time"

	"doodles/config"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const leeway = 30 * time.Second

// Claims are the access token fields we rely on. The user id is the subject.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() string { return c.Subject }

var ErrInvalidToken = errors.New("invalid token")

// Verifier validates access tokens issued by the auth provider, either against
// its JWKS endpoint or with a shared HS256 secret.
type Verifier struct {
	parser  *jwt.Parser
	keyfunc jwt.Keyfunc
}

func NewVerifier(cfg *config.JWTConfig) (*Verifier, error) {
	opts := []jwt.ParserOption{jwt.WithLeeway(leeway), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	if cfg.JWKSURL != "" {
		kf, err := keyfunc.NewDefault([]string{cfg.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("failed to init JWKS keyfunc: %w", err)
		}
		opts = append(opts, jwt.WithValidMethods([]string{
			jwt.SigningMethodRS256.Name,
			jwt.SigningMethodES256.Name,
		}))
		return &Verifier{parser: jwt.NewParser(opts...), keyfunc: kf.Keyfunc}, nil
	}

	if cfg.Secret == "" {
		return nil, errors.New("either JWT_JWKS_URL or JWT_SECRET must be set")
	}
	secret := []byte(cfg.Secret)
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	return &Verifier{
		parser:  jwt.NewParser(opts...),
		keyfunc: func(*jwt.Token) (interface{}, error) { return secret, nil },
	}, nil
}

func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := v.parser.ParseWithClaims(tokenString, &Claims{}, v.keyfunc)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateAccessToken signs an HS256 token for userID. Used by local tooling
// and tests when tokens are verified with a shared secret.
func GenerateAccessToken(cfg *config.JWTConfig, userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    cfg.Issuer,
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

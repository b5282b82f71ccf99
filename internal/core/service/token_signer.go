package service

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nicedentist/auth-service/internal/core/domain"
)

const (
	DefaultTokenIssuer = "NiceDentist"
	DefaultTokenTTL    = time.Hour
)

// AccessClaims is the payload of every token minted by JWTSigner.
type AccessClaims struct {
	Username string `json:"unique_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTSigner mints HS256 tokens.
type JWTSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTSigner(secret, issuer string, ttl time.Duration) *JWTSigner {
	if issuer == "" {
		issuer = DefaultTokenIssuer
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTSigner{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

func (s *JWTSigner) Sign(user *domain.User) (string, error) {
	if user == nil {
		return "", errors.New("sign token: nil user")
	}

	now := s.now().UTC()
	claims := AccessClaims{
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

// Parse validates an HS256 token issued by this signer and returns its claims.
func (s *JWTSigner) Parse(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

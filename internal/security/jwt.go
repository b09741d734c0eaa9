// Package security issues and verifies admin tokens.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "quotaledger"

// Token errors.
var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrExpiredToken    = errors.New("token has expired")
	ErrMissingSecret   = errors.New("jwt secret is not configured")
	ErrBadCredentials  = errors.New("invalid username or password")
	ErrAdminNotEnabled = errors.New("admin login is not configured")
)

// AdminClaims are carried by admin tokens.
type AdminClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// TokenService signs and validates HS256 admin tokens.
type TokenService struct {
	secret []byte
	expiry time.Duration
	nowFn  func() time.Time
}

// NewTokenService constructs a TokenService. nowFn defaults to time.Now.
func NewTokenService(secret string, expiry time.Duration, nowFn func() time.Time) *TokenService {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &TokenService{secret: []byte(strings.TrimSpace(secret)), expiry: expiry, nowFn: nowFn}
}

// Issue signs a token for username.
func (s *TokenService) Issue(username string) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, ErrMissingSecret
	}
	now := s.nowFn()
	expiresAt := now.Add(s.expiry)
	claims := &AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Username: username,
	}
	signed, errSign := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if errSign != nil {
		return "", time.Time{}, errSign
	}
	return signed, expiresAt, nil
}

// Parse validates tokenString and returns its claims.
func (s *TokenService) Parse(tokenString string) (*AdminClaims, error) {
	if len(s.secret) == 0 {
		return nil, ErrMissingSecret
	}
	token, errParse := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.nowFn))
	if errParse != nil {
		if errors.Is(errParse, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid || claims.Username == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Login checks username and password against the configured admin and issues a token.
func (s *TokenService) Login(username, password, wantUsername, passwordHash string) (string, time.Time, error) {
	wantUsername = strings.TrimSpace(wantUsername)
	passwordHash = strings.TrimSpace(passwordHash)
	if wantUsername == "" || passwordHash == "" {
		return "", time.Time{}, ErrAdminNotEnabled
	}
	if strings.TrimSpace(username) != wantUsername {
		return "", time.Time{}, ErrBadCredentials
	}
	if errCompare := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); errCompare != nil {
		return "", time.Time{}, ErrBadCredentials
	}
	return s.Issue(wantUsername)
}

// HashPassword returns the bcrypt hash stored in the admin config.
func HashPassword(password string) (string, error) {
	hashed, errHash := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errHash != nil {
		return "", errHash
	}
	return string(hashed), nil
}

// GenerateRandomString returns a hex string built from n random bytes.
func GenerateRandomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", errRead
	}
	return hex.EncodeToString(buf), nil
}

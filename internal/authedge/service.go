// Package authedge is an optional edge-authentication layer: it issues JWTs carrying an
// opaque userId, for deployments that want callers authenticated before they reach the
// core. The core itself (RoomService, JobService, CollaborationService) never imports
// this package and never persists anything beyond the opaque userId string it is
// handed — authentication of that string is entirely this package's concern, kept at
// the edge per spec.md's Non-goal against persisting arbitrary user identity.
package authedge

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"collabrun/internal/service"
)

// Credential is one registered edge-auth principal; UserID is the opaque string handed
// to the core on every subsequent request.
type Credential struct {
	UserID       string `gorm:"primaryKey;size:36"`
	Username     string `gorm:"uniqueIndex;size:191;not null"`
	PasswordHash string `gorm:"not null"`
}

func (Credential) TableName() string { return "edge_credentials" }

// CredentialRepository stores edge-auth principals, independent of the core's
// repositories.
type CredentialRepository interface {
	FindByUsername(ctx context.Context, username string) (*Credential, error)
	Create(ctx context.Context, cred *Credential) error
}

const tokenTTL = 24 * time.Hour

type Service struct {
	credentials CredentialRepository
	jwtSecret   []byte
}

func NewService(credentials CredentialRepository, jwtSecret string) *Service {
	if credentials == nil {
		panic("CredentialRepository must be non-nil for authedge.Service")
	}
	if jwtSecret == "" {
		panic("JWT secret must be non-empty for authedge.Service")
	}
	return &Service{credentials: credentials, jwtSecret: []byte(jwtSecret)}
}

// Register hashes password and creates a new principal, returning its opaque userId.
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	if username == "" || len(password) < 6 {
		return "", service.ValidationError("username required, password must be at least 6 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", service.InternalError("hash password", err)
	}
	cred := &Credential{
		UserID:       uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.credentials.Create(ctx, cred); err != nil {
		return "", service.ConflictError("username already registered")
	}
	return cred.UserID, nil
}

// Authenticate verifies username/password and issues a JWT carrying the opaque userId.
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, error) {
	cred, err := s.credentials.FindByUsername(ctx, username)
	if err != nil {
		return "", service.ValidationError("invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return "", service.ValidationError("invalid username or password")
	}
	claims := jwt.MapClaims{
		"sub": cred.UserID,
		"exp": time.Now().Add(tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", service.InternalError("sign token", err)
	}
	return signed, nil
}

var errInvalidToken = errors.New("authedge: invalid or expired token")

// VerifyToken returns the opaque userId carried by a valid bearer token.
func (s *Service) VerifyToken(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidToken
	}
	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return "", errInvalidToken
	}
	return userID, nil
}

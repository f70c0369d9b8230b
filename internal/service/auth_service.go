package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-assess/internal/config"
)

// Common auth errors.
var (
	ErrNoActiveLogin    = errors.New("no active login")
	ErrLoginInvalidated = errors.New("login invalidated")
)

// TokenType distinguishes student vs admin tokens.
type TokenType string

const (
	TokenTypeStudent TokenType = "student"
	TokenTypeAdmin   TokenType = "admin"
)

// Claims extends JWT standard claims with app-specific fields. The JWT ID
// of a student token is the interaction identity of every assessment
// opened under that login.
type Claims struct {
	jwt.RegisteredClaims
	TokenType   TokenType `json:"token_type"`
	UserID      string    `json:"user_id"`
	Permissions []string  `json:"permissions,omitempty"` // Admin only
}

// InteractionID returns the interaction identity carried by the token.
func (c *Claims) InteractionID() string { return c.ID }

// HasPermission reports whether an admin token carries code.
func (c *Claims) HasPermission(code string) bool {
	for _, p := range c.Permissions {
		if p == code {
			return true
		}
	}
	return false
}

// AuthService validates tokens and tracks the single active login per student.
type AuthService struct {
	cfg *config.Config
	rdb *redis.Client
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, rdb *redis.Client) *AuthService {
	return &AuthService{cfg: cfg, rdb: rdb}
}

// IssueStudentToken creates a JWT for a student and registers it as the
// active login, replacing any earlier one.
func (s *AuthService) IssueStudentToken(ctx context.Context, studentID string) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   studentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: TokenTypeStudent,
		UserID:    studentID,
	}

	signed, err := s.sign(claims)
	if err != nil {
		return "", nil, err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.StudentLoginKey(studentID), claims.ID, s.cfg.JWTExpiry)
	pipe.Set(ctx, config.CacheKey.LoginInteractionKey(claims.ID), studentID, s.cfg.JWTExpiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", nil, fmt.Errorf("store login: %w", err)
	}
	return signed, claims, nil
}

// IssueAdminToken creates a JWT for an admin with permissions embedded.
func (s *AuthService) IssueAdminToken(adminID string, permissions []string) (string, error) {
	now := time.Now()
	return s.sign(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType:   TokenTypeAdmin,
		UserID:      adminID,
		Permissions: permissions,
	})
}

func (s *AuthService) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.UserID == "" || claims.ID == "" {
		return nil, errors.New("token missing subject or id")
	}

	return claims, nil
}

// ValidateStudentSession checks that the token's JTI matches the active login in Redis.
func (s *AuthService) ValidateStudentSession(ctx context.Context, studentID, jti string) error {
	stored, err := s.rdb.Get(ctx, config.CacheKey.StudentLoginKey(studentID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNoActiveLogin
		}
		return fmt.Errorf("check login: %w", err)
	}
	if stored != jti {
		return ErrLoginInvalidated
	}
	return nil
}

// InteractionLive reports whether the login behind an interaction is still
// the student's active one. Redis failures count as live.
func (s *AuthService) InteractionLive(ctx context.Context, interactionID string) bool {
	studentID, err := s.rdb.Get(ctx, config.CacheKey.LoginInteractionKey(interactionID)).Result()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		return true
	}
	err = s.ValidateStudentSession(ctx, studentID, interactionID)
	return !errors.Is(err, ErrNoActiveLogin) && !errors.Is(err, ErrLoginInvalidated)
}

// ResetStudentSession removes a student's login from Redis.
func (s *AuthService) ResetStudentSession(ctx context.Context, studentID string) error {
	key := config.CacheKey.StudentLoginKey(studentID)
	jti, err := s.rdb.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read login: %w", err)
	}
	keys := []string{key}
	if jti != "" {
		keys = append(keys, config.CacheKey.LoginInteractionKey(jti))
	}
	return s.rdb.Del(ctx, keys...).Err()
}

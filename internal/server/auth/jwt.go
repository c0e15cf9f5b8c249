// Package auth issues and verifies signed, time-bound bearer credentials and
// hashes account passwords.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/clusterapi/internal/common"
	"github.com/dmitrijs2005/clusterapi/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims: the registered ones plus email and role.
// The subject id travels in the standard "sub" claim.
type Claims struct {
	jwt.RegisteredClaims
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
}

// TokenService signs HS256 tokens with one process-wide secret.
type TokenService struct {
	secretKey        []byte
	validityDuration time.Duration
	now              func() time.Time
}

func NewTokenService(secretKey string, validityDuration time.Duration) *TokenService {
	return &TokenService{
		secretKey:        []byte(secretKey),
		validityDuration: validityDuration,
		now:              time.Now,
	}
}

// Issue mints a token for the given identity valid for the configured window.
func (s *TokenService) Issue(subjectID, email string, role models.Role) (string, error) {
	if subjectID == "" {
		return "", errors.New("empty subject id")
	}
	if !role.Valid() {
		return "", fmt.Errorf("invalid role %q", role)
	}

	issuedAt := s.now().Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.validityDuration)),
		},
		Email: email,
		Role:  role,
	})

	return token.SignedString(s.secretKey)
}

// Verify checks the signature and expiry of tokenString and returns the
// credential it carries. Errors are common.ErrTokenMissing for an empty
// string, common.ErrTokenExpired once expires_at has passed and
// common.ErrInvalidToken for everything else.
func (s *TokenService) Verify(tokenString string) (*models.Credential, error) {
	if tokenString == "" {
		return nil, common.ErrTokenMissing
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" || !claims.Role.Valid() || claims.IssuedAt == nil {
		return nil, common.ErrInvalidToken
	}
	if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return nil, common.ErrInvalidToken
	}

	return &models.Credential{
		SubjectID: claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Refresh re-issues a still-valid token with the same claims and a renewed
// expiry. The password is not checked again.
func (s *TokenService) Refresh(tokenString string) (string, error) {
	cred, err := s.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return s.Issue(cred.SubjectID, cred.Email, cred.Role)
}

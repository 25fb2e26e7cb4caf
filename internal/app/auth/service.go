package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("forbidden")
)

// Identity is what a verified session token says about the caller.
type Identity struct {
	PlayerID  string `json:"player_id"`
	FirstName string `json:"first_name"`
}

// Service is the perimeter: player tokens are HS256 JWTs signed with the shared secret by the
// front end; internal calls between room actors carry a separate secret header.
type Service struct {
	secret         []byte
	internalSecret []byte
	ttl            time.Duration
}

func NewService(sharedSecret, internalSecret string, ttl time.Duration) *Service {
	return &Service{secret: []byte(sharedSecret), internalSecret: []byte(internalSecret), ttl: ttl}
}

// IssueToken signs a session token. The game client never calls this directly; the front end and
// tooling do.
func (s *Service) IssueToken(playerID, firstName string) (string, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return "", fmt.Errorf("player id required")
	}
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":        playerID,
		"first_name": firstName,
		"iat":        now.Unix(),
		"exp":        now.Add(s.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) ParseToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || strings.TrimSpace(sub) == "" {
		return Identity{}, ErrInvalidToken
	}
	first, _ := claims["first_name"].(string)
	return Identity{PlayerID: sub, FirstName: first}, nil
}

// CheckInternal verifies the secret presented on /internal routes.
func (s *Service) CheckInternal(presented string) error {
	if len(s.internalSecret) == 0 || subtle.ConstantTimeCompare([]byte(presented), s.internalSecret) != 1 {
		return ErrForbidden
	}
	return nil
}

func (s *Service) InternalSecret() string {
	return string(s.internalSecret)
}

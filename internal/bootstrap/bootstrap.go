// Package bootstrap mints the room credential a client needs to join a
// voice session and registers the session with the backend.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxarena/callctl/domain/entities"
	"github.com/voxarena/callctl/domain/repositories"
)

// TokenTTL bounds how long a minted room credential stays usable
const TokenTTL = 10 * time.Minute

// VideoGrant is the room permission block embedded in the token
type VideoGrant struct {
	Room         string `json:"room"`
	RoomJoin     bool   `json:"roomJoin"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

type roomClaims struct {
	Video VideoGrant `json:"video"`
	jwt.RegisteredClaims
}

// Credential is everything a client needs to join its session
type Credential struct {
	ServerURL string            `json:"server_url"`
	Token     string            `json:"token"`
	RoomName  string            `json:"room_name"`
	Session   *entities.Session `json:"session,omitempty"`
}

// Bootstrapper mints room credentials and registers sessions
type Bootstrapper struct {
	serverURL string
	apiKey    string
	apiSecret string
	sessions  repositories.SessionService
	logger    *zap.Logger
}

// New creates a bootstrapper. The session service may be nil when no
// backend registration is wanted.
func New(serverURL, apiKey, apiSecret string, sessions repositories.SessionService, logger *zap.Logger) *Bootstrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bootstrapper{
		serverURL: serverURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		sessions:  sessions,
		logger:    logger,
	}
}

// Start mints a credential for the identity and registers the session
// with the backend. Registration is best-effort: a backend failure is
// logged and the credential is still returned, so the call can proceed
// without a session record.
func (b *Bootstrapper) Start(ctx context.Context, identity string) (*Credential, error) {
	if identity == "" {
		identity = "user_" + uuid.New().String()[:8]
	}
	roomName := "room_" + uuid.New().String()[:8]

	token, err := b.mintToken(identity, roomName)
	if err != nil {
		return nil, fmt.Errorf("failed to mint room token: %w", err)
	}

	credential := &Credential{
		ServerURL: b.serverURL,
		Token:     token,
		RoomName:  roomName,
	}

	if b.sessions != nil {
		session, err := b.sessions.CreateSession(ctx, roomName, identity)
		if err != nil {
			b.logger.Warn("Session registration failed, continuing without a record",
				zap.String("roomName", roomName),
				zap.Error(err))
		} else {
			credential.Session = session
		}
	}

	b.logger.Info("Session bootstrapped",
		zap.String("roomName", roomName),
		zap.String("identity", identity))
	return credential, nil
}

// mintToken signs an HS256 room token in the shape the media server
// expects: api key as issuer, identity as subject, room join grants.
func (b *Bootstrapper) mintToken(identity, roomName string) (string, error) {
	now := time.Now()
	claims := &roomClaims{
		Video: VideoGrant{
			Room:         roomName,
			RoomJoin:     true,
			CanPublish:   true,
			CanSubscribe: true,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.apiKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(b.apiSecret))
}

// ParseToken validates a minted token and returns its claims. Used by
// tests and by anything that needs to inspect a credential.
func ParseToken(tokenString, apiSecret string) (identity, roomName string, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &roomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(apiSecret), nil
	})
	if err != nil {
		return "", "", err
	}

	claims, ok := token.Claims.(*roomClaims)
	if !ok || !token.Valid {
		return "", "", jwt.ErrTokenInvalidClaims
	}
	return claims.Subject, claims.Video.Room, nil
}

// Package identity resolves who the local user is and what peers are
// called. The local identity comes out of the access token; peer names
// come from the directory with a small in-process cache in front.
package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcore/pkg/errors"
	"callcore/pkg/jwt"
)

// Profile is the presentable identity of one user
type Profile struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
}

// Directory looks up peer profiles
type Directory interface {
	Profile(ctx context.Context, userID uuid.UUID) (Profile, bool, error)
}

// Provider is the agent-wide identity source
type Provider struct {
	self      Profile
	directory Directory
	log       *zap.Logger

	mu    sync.Mutex
	cache map[uuid.UUID]cachedProfile
	ttl   time.Duration
}

type cachedProfile struct {
	profile Profile
	expires time.Time
}

// NewProvider validates the access token and builds an identity provider.
// directory may be nil; peer names then fall back to short IDs.
func NewProvider(manager *jwt.Manager, token string, directory Directory, log *zap.Logger) (*Provider, error) {
	claims, err := manager.Validate(token)
	if err != nil {
		return nil, errors.InvalidTokenError(err.Error())
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Provider{
		self: Profile{
			UserID:      claims.UserID,
			DisplayName: claims.DisplayName,
			AvatarURL:   claims.AvatarURL,
		},
		directory: directory,
		log:       log,
		cache:     make(map[uuid.UUID]cachedProfile),
		ttl:       5 * time.Minute,
	}, nil
}

// Self returns the local user's profile
func (p *Provider) Self() Profile {
	return p.self
}

// SelfID returns the local user ID
func (p *Provider) SelfID() uuid.UUID {
	return p.self.UserID
}

// DisplayName resolves a peer's name, falling back to a short ID when the
// directory has no entry or is unreachable. Signaling never blocks on it.
func (p *Provider) DisplayName(ctx context.Context, peerID uuid.UUID) string {
	if peerID == p.self.UserID {
		return p.self.DisplayName
	}

	p.mu.Lock()
	if cached, ok := p.cache[peerID]; ok && time.Now().Before(cached.expires) {
		p.mu.Unlock()
		return cached.profile.DisplayName
	}
	p.mu.Unlock()

	fallback := shortID(peerID)
	if p.directory == nil {
		return fallback
	}

	profile, found, err := p.directory.Profile(ctx, peerID)
	if err != nil {
		p.log.Debug("directory lookup failed", zap.Error(err))
		return fallback
	}
	if !found {
		return fallback
	}

	p.mu.Lock()
	p.cache[peerID] = cachedProfile{profile: profile, expires: time.Now().Add(p.ttl)}
	p.mu.Unlock()
	return profile.DisplayName
}

func shortID(id uuid.UUID) string {
	s := id.String()
	return s[:8]
}

// Package redis holds the peer directory: the fast lookup layer mapping
// user IDs to display profiles for incoming calls and presence rows.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"callcore/internal/identity"
	"callcore/pkg/errors"
)

// DirectoryRepository stores peer profiles in Redis hashes
type DirectoryRepository struct {
	client *redis.Client
}

// NewDirectoryRepository creates a directory over the given client
func NewDirectoryRepository(client *redis.Client) *DirectoryRepository {
	return &DirectoryRepository{client: client}
}

func profileKey(userID uuid.UUID) string {
	return fmt.Sprintf("directory:profile:%s", userID)
}

// SetProfile stores a peer profile
func (r *DirectoryRepository) SetProfile(ctx context.Context, profile identity.Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "encode profile", err)
	}
	if err := r.client.Set(ctx, profileKey(profile.UserID), data, 0).Err(); err != nil {
		return errors.DatabaseError(err)
	}
	return nil
}

// Profile implements identity.Directory
func (r *DirectoryRepository) Profile(ctx context.Context, userID uuid.UUID) (identity.Profile, bool, error) {
	data, err := r.client.Get(ctx, profileKey(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return identity.Profile{}, false, nil
		}
		return identity.Profile{}, false, errors.DatabaseError(err)
	}

	var profile identity.Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return identity.Profile{}, false, errors.Wrap(errors.ErrCodeInternal, "decode profile", err)
	}
	return profile, true, nil
}

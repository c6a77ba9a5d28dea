package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestGenerateAndValidate(t *testing.T) {
	manager := NewManager("test-secret", 15*time.Minute)
	userID := uuid.New()

	token, err := manager.Generate(userID, "Alice", "https://cdn.example/a.png")
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := manager.Validate(token)
	assert.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "Alice", claims.DisplayName)
	assert.Equal(t, "https://cdn.example/a.png", claims.AvatarURL)
	assert.Equal(t, "callcore-agent", claims.Issuer)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.True(t, claims.ExpiresAt.After(claims.IssuedAt.Time))
}

func TestValidateExpiredToken(t *testing.T) {
	manager := NewManager("test-secret", 1*time.Nanosecond)

	token, err := manager.Generate(uuid.New(), "Alice", "")
	assert.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	claims, err := manager.Validate(token)
	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateInvalidToken(t *testing.T) {
	manager := NewManager("test-secret", 15*time.Minute)

	claims, err := manager.Validate("invalid.token.here")
	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateWrongSecret(t *testing.T) {
	manager1 := NewManager("secret-1", 15*time.Minute)
	token, err := manager1.Generate(uuid.New(), "Alice", "")
	assert.NoError(t, err)

	manager2 := NewManager("secret-2", 15*time.Minute)
	claims, err := manager2.Validate(token)
	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestExtractUserID(t *testing.T) {
	manager := NewManager("test-secret", 15*time.Minute)
	userID := uuid.New()

	token, err := manager.Generate(userID, "Alice", "")
	assert.NoError(t, err)

	extractedID, err := manager.ExtractUserID(token)
	assert.NoError(t, err)
	assert.Equal(t, userID, extractedID)
}

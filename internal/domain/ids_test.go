package domain_test

import (
	"testing"

	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserID(t *testing.T) {
	t.Run("valid numeric string", func(t *testing.T) {
		id, err := domain.NewUserID("123456")
		require.NoError(t, err)
		assert.Equal(t, "123456", id.String())
		assert.Equal(t, uint64(123456), id.Uint64())
		assert.False(t, id.IsZero())
	})

	t.Run("empty string returns error", func(t *testing.T) {
		_, err := domain.NewUserID("")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrEmptyID)
	})

	t.Run("non-numeric returns error", func(t *testing.T) {
		_, err := domain.NewUserID("not-a-number")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidID)
	})

	t.Run("negative returns error", func(t *testing.T) {
		_, err := domain.NewUserID("-5")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidID)
	})

	t.Run("zero value is zero", func(t *testing.T) {
		var id domain.UserID
		assert.True(t, id.IsZero())
	})

	t.Run("MustUserID panics on invalid", func(t *testing.T) {
		assert.Panics(t, func() {
			domain.MustUserID("nope")
		})
	})
}

func TestMarkingSessionID(t *testing.T) {
	validUUID := "550e8400-e29b-41d4-a716-446655440000"

	t.Run("valid UUID", func(t *testing.T) {
		id, err := domain.NewMarkingSessionID(validUUID)
		require.NoError(t, err)
		assert.Equal(t, validUUID, id.String())
		assert.False(t, id.IsZero())
	})

	t.Run("empty string returns error", func(t *testing.T) {
		_, err := domain.NewMarkingSessionID("")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrEmptyID)
	})

	t.Run("invalid format returns error", func(t *testing.T) {
		_, err := domain.NewMarkingSessionID("not-a-uuid")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidID)
	})

	t.Run("zero value is zero", func(t *testing.T) {
		var id domain.MarkingSessionID
		assert.True(t, id.IsZero())
	})

	t.Run("generate creates valid ID", func(t *testing.T) {
		id := domain.GenerateMarkingSessionID()
		assert.False(t, id.IsZero())
		_, err := domain.NewMarkingSessionID(id.String())
		require.NoError(t, err)
	})

	t.Run("MustMarkingSessionID panics on invalid", func(t *testing.T) {
		assert.Panics(t, func() {
			domain.MustMarkingSessionID("invalid")
		})
	})
}

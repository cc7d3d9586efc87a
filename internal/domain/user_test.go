package domain_test

import (
	"testing"

	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestUserHasCredentials(t *testing.T) {
	tests := []struct {
		name string
		user domain.User
		want bool
	}{
		{"both present", domain.User{Login: "ivan", Password: domain.SecretString("pw")}, true},
		{"neither present", domain.User{}, false},
		{"login only", domain.User{Login: "ivan"}, false},
		{"password only", domain.User{Password: domain.SecretString("pw")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.user.HasCredentials())
		})
	}
}

func TestUserHasTOTPSeed(t *testing.T) {
	assert.False(t, domain.User{}.HasTOTPSeed())
	assert.True(t, domain.User{TOTPSeed: domain.SecretBytes("seed")}.HasTOTPSeed())
}

func TestIsValidAdminLevel(t *testing.T) {
	assert.True(t, domain.IsValidAdminLevel(0))
	assert.True(t, domain.IsValidAdminLevel(domain.AdminLevelMax))
	assert.False(t, domain.IsValidAdminLevel(-1))
	assert.False(t, domain.IsValidAdminLevel(domain.AdminLevelMax+1))
}

func TestCookieJarIsEmpty(t *testing.T) {
	assert.True(t, domain.CookieJar{}.IsEmpty())
	assert.False(t, domain.CookieJar{Cookies: []domain.Cookie{{Name: "sid", Value: "x"}}}.IsEmpty())
}

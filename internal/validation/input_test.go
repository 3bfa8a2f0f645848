package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdempotencyKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"empty is allowed", "", false},
		{"uuid", "3f1c2a9e-5b7d-4e1a-9c3b-2d8f6a7e1b40", false},
		{"prefixed", "order:client.42_retry-1", false},
		{"too long", strings.Repeat("a", MaxIdempotencyKeyLength+1), true},
		{"spaces", "order 1", true},
		{"cyrillic", "заказ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdempotencyKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, ValidateAmount("цена", 1))
	assert.NoError(t, ValidateAmount("цена", MaxAmount))
	assert.Error(t, ValidateAmount("цена", 0))
	assert.Error(t, ValidateAmount("цена", -5))
	assert.Error(t, ValidateAmount("цена", MaxAmount+1))
}

func TestValidateLength(t *testing.T) {
	assert.NoError(t, ValidateLength("поле", "абв", 3, 3), "length counts runes, not bytes")
	assert.Error(t, ValidateLength("поле", "аб", 3, 0))
	assert.Error(t, ValidateLength("поле", "абвг", 0, 3))
}

func TestClampPage(t *testing.T) {
	limit, offset := ClampPage(0, -1, 20)
	assert.Equal(t, 20, limit)
	assert.Equal(t, 0, offset)

	limit, offset = ClampPage(MaxPageLimit+1, 5, 50)
	assert.Equal(t, 50, limit)
	assert.Equal(t, 5, offset)

	limit, _ = ClampPage(10, 0, 50)
	assert.Equal(t, 10, limit)
}

func TestValidateUserIDAndNonEmpty(t *testing.T) {
	assert.NoError(t, ValidateUserID("provider_id", 7))
	assert.Error(t, ValidateUserID("provider_id", 0))
	assert.Error(t, ValidateNonEmpty("пароль", "   "))
}

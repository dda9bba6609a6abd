package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Normalize(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"mobile without country code", "11999999999", "5511999999999"},
		{"landline without country code", "1133334444", "551133334444"},
		{"already international", "5511999999999", "5511999999999"},
		{"formatted", "+55 (11) 99999-9999", "5511999999999"},
		{"jid suffix", "11999999999@s.whatsapp.net", "5511999999999"},
		{"short passthrough", "12345", "12345"},
		{"foreign passthrough", "447911123456", "447911123456"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Normalize(tt.in))
		})
	}
}

func TestPolicy_NormalizeCustom(t *testing.T) {
	p := Policy{CountryCode: "1", LocalLengths: []int{10}}
	assert.Equal(t, "12125550100", p.Normalize("212-555-0100"))
	assert.Equal(t, "12125550100", p.Normalize("12125550100"))

	none := Policy{}
	assert.Equal(t, "2125550100", none.Normalize("212-555-0100"))
}

func TestVariants(t *testing.T) {
	assert.Equal(t, []string{"551199999999", "5511999999999"}, Variants("551199999999"))
	assert.Equal(t, []string{"5511999999999", "551199999999"}, Variants("5511999999999@s.whatsapp.net"))
	assert.Equal(t, []string{"447911123456"}, Variants("447911123456"))
	assert.Equal(t, []string{"5511"}, Variants("5511"))
	assert.Nil(t, Variants(""))
}

func TestIsNumericName(t *testing.T) {
	assert.True(t, IsNumericName("5511999999999"))
	assert.True(t, IsNumericName("+55 11 99999-9999"))
	assert.False(t, IsNumericName("Maria"))
	assert.False(t, IsNumericName("Maria 2"))
	assert.False(t, IsNumericName(""))
	assert.False(t, IsNumericName("---"))
}

func TestIsPlausibleName(t *testing.T) {
	assert.True(t, IsPlausibleName("João Silva"))
	assert.False(t, IsPlausibleName("  "))
	assert.False(t, IsPlausibleName("551199999999"))
}

func TestJIDUser(t *testing.T) {
	assert.Equal(t, "5511", JIDUser("5511@s.whatsapp.net"))
	assert.Equal(t, "5511", JIDUser("5511"))
}

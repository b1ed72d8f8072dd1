package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMake(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"API_KEY", "api_key"},
		{"Database URL", "database-url"},
		{"  stripe  secret key ", "stripe-secret-key"},
		{"Café Crème", "cafe-creme"},
		{"a__b", "a_b"},
		{"a-_b", "a-b"},
		{"prod", "prod"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Make(tc.in), "Make(%q)", tc.in)
	}
}

func TestMakeProducesValidSlugs(t *testing.T) {
	for _, in := range []string{"API_KEY", "Database URL", "Café Crème", "x1 y2_z3"} {
		assert.True(t, Valid(Make(in)), "Make(%q)=%q should be valid", in, Make(in))
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("dev"))
	assert.True(t, Valid("api_key"))
	assert.True(t, Valid("us-east-1"))
	assert.False(t, Valid(""))
	assert.False(t, Valid("Dev"))
	assert.False(t, Valid("-dev"))
	assert.False(t, Valid("dev env"))
}

package entry

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw       string
		wantEnv   string
		wantValue string
		wantBad   bool
	}{
		{raw: "dev=value1", wantEnv: "dev", wantValue: "value1"},
		{raw: "prod=postgres://u:p@h/db?sslmode=require", wantEnv: "prod", wantValue: "postgres://u:p@h/db?sslmode=require"},
		{raw: "staging==", wantEnv: "staging", wantValue: "="},
		{raw: "malformed-entry", wantBad: true},
		{raw: "=value", wantBad: true},
		{raw: "dev=", wantBad: true},
		{raw: "Dev Env=x", wantBad: true},
		{raw: "", wantBad: true},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			res := Parse(tc.raw)
			if tc.wantBad {
				require.Nil(t, res.OK)
				require.NotNil(t, res.Bad)
				assert.Equal(t, tc.raw, res.Bad.Raw)
				assert.NotEmpty(t, res.Bad.Reason)
				return
			}
			require.Nil(t, res.Bad)
			require.NotNil(t, res.OK)
			assert.Equal(t, tc.wantEnv, res.OK.EnvironmentSlug)
			assert.Equal(t, tc.wantValue, res.OK.Value)
		})
	}
}

func TestParseAllPartialSuccess(t *testing.T) {
	ok, bad := ParseAll([]string{"dev=value1", "malformed-entry", "prod=value2"})

	require.Len(t, ok, 2)
	assert.Equal(t, Entry{EnvironmentSlug: "dev", Value: "value1"}, ok[0])
	assert.Equal(t, Entry{EnvironmentSlug: "prod", Value: "value2"}, ok[1])

	require.Len(t, bad, 1)
	assert.Equal(t, 1, bad[0].Index)
	assert.Equal(t, "malformed-entry", bad[0].Raw)
}

func TestPropertySplitsOnFirstEquals(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	genEnv := gen.RegexMatch("[a-z][a-z0-9]{0,8}")
	genValue := gen.AnyString().SuchThat(func(s string) bool { return s != "" })

	properties.Property("env=value round-trips and value keeps every '='", prop.ForAll(
		func(env, value string) bool {
			res := Parse(env + "=" + value)
			if res.OK == nil {
				return false
			}
			return res.OK.EnvironmentSlug == env && res.OK.Value == value &&
				res.OK.String() == env+"="+value
		},
		genEnv, genValue,
	))

	properties.Property("strings without '=' are always malformed", prop.ForAll(
		func(raw string) bool {
			res := Parse(raw)
			return res.OK == nil && res.Bad != nil
		},
		gen.AnyString().SuchThat(func(s string) bool { return !strings.Contains(s, "=") }),
	))

	properties.TestingRun(t)
}

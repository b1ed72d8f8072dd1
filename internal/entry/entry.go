// Package entry parses "<environmentSlug>=<value>" strings, the boundary format shared by
// the CLI and the API for writing values into environments.
package entry

import (
	"fmt"
	"strings"

	"github.com/org/envvault/internal/slug"
)

// Entry is a well-formed environment/value pair.
type Entry struct {
	EnvironmentSlug string `json:"environment"`
	Value           string `json:"value"`
}

// String renders the entry back into its wire form.
func (e Entry) String() string {
	return e.EnvironmentSlug + "=" + e.Value
}

// Malformed describes an entry string that was rejected.
type Malformed struct {
	Index  int    `json:"index"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

func (m Malformed) String() string {
	return fmt.Sprintf("entry %d (%q): %s", m.Index, m.Raw, m.Reason)
}

// Result is either an Entry or a Malformed description; exactly one of OK and Bad is set.
type Result struct {
	OK  *Entry
	Bad *Malformed
}

// Parse splits raw on its first '='. The environment part must be a slug and the value non-empty.
func Parse(raw string) Result {
	return parseAt(0, raw)
}

func parseAt(i int, raw string) Result {
	bad := func(reason string) Result {
		return Result{Bad: &Malformed{Index: i, Raw: raw, Reason: reason}}
	}
	env, value, found := strings.Cut(raw, "=")
	if !found {
		return bad("expected <environment>=<value>")
	}
	env = strings.TrimSpace(env)
	if env == "" {
		return bad("empty environment slug")
	}
	if !slug.Valid(env) {
		return bad(fmt.Sprintf("invalid environment slug %q", env))
	}
	if value == "" {
		return bad("empty value")
	}
	return Result{OK: &Entry{EnvironmentSlug: env, Value: value}}
}

// ParseAll parses every raw string, keeping input order in both outputs.
func ParseAll(raw []string) ([]Entry, []Malformed) {
	var (
		ok  []Entry
		bad []Malformed
	)
	for i, r := range raw {
		res := parseAt(i, r)
		if res.Bad != nil {
			bad = append(bad, *res.Bad)
			continue
		}
		ok = append(ok, *res.OK)
	}
	return ok, bad
}

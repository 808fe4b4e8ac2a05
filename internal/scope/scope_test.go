package scope

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huntplane/huntplane/internal/core"
)

func TestIsInScope_DomainMatching(t *testing.T) {
	v := NewValidator(&Rules{AllowSubdomains: true})

	tests := []struct {
		name    string
		url     string
		domain  string
		inScope bool
	}{
		{"exact domain", "https://acme.example/api", "acme.example", true},
		{"subdomain", "https://api.acme.example/users", "acme.example", true},
		{"deep subdomain", "https://a.b.acme.example/", "acme.example", true},
		{"unrelated host", "https://evil.com/", "acme.example", false},
		{"suffix trick", "https://notacme.example.attacker.com/", "acme.example", false},
		{"embedded domain", "https://acme.example.attacker.com/", "acme.example", false},
		{"ip target exact", "http://127.0.0.1:8080/api", "127.0.0.1", true},
		{"ip target mismatch", "http://127.0.0.2/", "127.0.0.1", false},
		{"bare public suffix", "https://foo.co.uk/", "co.uk", false},
		{"invalid url", "://bad", "acme.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.IsInScope(tt.url, tt.domain)
			if tt.inScope {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				var oos *core.OutOfScopeError
				assert.ErrorAs(t, err, &oos)
			}
		})
	}
}

func TestIsInScope_Exclusions(t *testing.T) {
	v := NewValidator(&Rules{
		AllowSubdomains: true,
		OutOfScope:      []string{"internal.acme.example", "staging.acme.example"},
	})

	assert.NoError(t, v.IsInScope("https://api.acme.example/", "acme.example"))
	assert.Error(t, v.IsInScope("https://internal.acme.example/admin", "acme.example"))
	assert.Error(t, v.IsInScope("https://db.internal.acme.example/", "acme.example"),
		"children of excluded hosts are excluded too")
	assert.Error(t, v.IsInScope("https://staging.acme.example/", "acme.example"))
}

func TestIsInScope_SubdomainsDisabled(t *testing.T) {
	v := NewValidator(&Rules{AllowSubdomains: false})

	assert.NoError(t, v.IsInScope("https://acme.example/", "acme.example"))
	assert.Error(t, v.IsInScope("https://api.acme.example/", "acme.example"))
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scope.yaml")
	content := `
out_of_scope:
  - internal.acme.example
allow_subdomains: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.True(t, rules.AllowSubdomains)
	assert.Equal(t, []string{"internal.acme.example"}, rules.OutOfScope)
}

func TestLoadRules_MissingPathDefaults(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.True(t, rules.AllowSubdomains)
	assert.Empty(t, rules.OutOfScope)
}

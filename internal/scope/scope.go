// Package scope decides whether a URL may receive test traffic.
package scope

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"golang.org/x/net/publicsuffix"
	"gopkg.in/yaml.v3"

	"github.com/huntplane/huntplane/internal/core"
)

// Rules is the operator-maintained scope policy. Exclusions win over
// the target domain match.
type Rules struct {
	// OutOfScope lists hosts that must never be touched, matched
	// exactly or as a parent domain.
	OutOfScope []string `yaml:"out_of_scope"`

	// AllowSubdomains extends the target domain match to subdomains.
	AllowSubdomains bool `yaml:"allow_subdomains"`
}

// LoadRules reads a YAML scope policy. A missing path yields the
// permissive default (subdomains allowed, no exclusions).
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return &Rules{AllowSubdomains: true}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scope file: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse scope file: %w", err)
	}
	return &rules, nil
}

// Validator checks request URLs against a target domain and the
// operator scope policy.
type Validator struct {
	rules *Rules
}

func NewValidator(rules *Rules) *Validator {
	if rules == nil {
		rules = &Rules{AllowSubdomains: true}
	}
	return &Validator{rules: rules}
}

// IsInScope returns nil when the URL's host belongs to the target
// domain and is not excluded. Any other outcome is an OutOfScopeError;
// callers must not send traffic after one.
func (v *Validator) IsInScope(rawURL string, targetDomain string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return &core.OutOfScopeError{URL: rawURL, Domain: targetDomain}
	}

	host := strings.ToLower(u.Hostname())
	domain := strings.ToLower(targetDomain)

	if !v.matchesDomain(host, domain) {
		return &core.OutOfScopeError{URL: rawURL, Domain: targetDomain}
	}

	for _, excluded := range v.rules.OutOfScope {
		excluded = strings.ToLower(excluded)
		if host == excluded || strings.HasSuffix(host, "."+excluded) {
			return &core.OutOfScopeError{URL: rawURL, Domain: targetDomain}
		}
	}

	return nil
}

func (v *Validator) matchesDomain(host, domain string) bool {
	if host == domain {
		return true
	}
	if !v.rules.AllowSubdomains {
		return false
	}
	if !strings.HasSuffix(host, "."+domain) {
		return false
	}

	// A target domain that is itself a bare public suffix would match
	// unrelated registrants; refuse subdomain matching there. IP
	// literals never reach publicsuffix.
	if net.ParseIP(domain) != nil {
		return false
	}
	if suffix, _ := publicsuffix.PublicSuffix(domain); suffix == domain {
		return false
	}

	return true
}

package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"

	"auctoritas.org/internal/audit"
)

// HostFilter admits requests by client IP. Rules come in three shapes:
// exact address ("10.1.2.3"), wildcard pattern ("192.168.1.*") and CIDR
// range ("10.0.0.0/8"). An empty rule set admits everyone.
type HostFilter struct {
	exact    map[string]struct{}
	patterns []*regexp.Regexp
	networks []*net.IPNet
	recorder interface {
		Record(ctx context.Context, e audit.Event)
	}
}

// NewHostFilter parses a comma-separated rule list.
func NewHostFilter(rules string, recorder interface {
	Record(ctx context.Context, e audit.Event)
}) (*HostFilter, error) {
	f := &HostFilter{exact: make(map[string]struct{}), recorder: recorder}
	for _, rule := range strings.Split(rules, ",") {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		switch {
		case strings.Contains(rule, "/"):
			_, network, err := net.ParseCIDR(rule)
			if err != nil {
				return nil, fmt.Errorf("allowlist rule %q: %w", rule, err)
			}
			f.networks = append(f.networks, network)
		case strings.Contains(rule, "*"):
			pattern, err := wildcardPattern(rule)
			if err != nil {
				return nil, fmt.Errorf("allowlist rule %q: %w", rule, err)
			}
			f.patterns = append(f.patterns, pattern)
		default:
			if net.ParseIP(rule) == nil {
				return nil, fmt.Errorf("allowlist rule %q: not an IP address", rule)
			}
			f.exact[rule] = struct{}{}
		}
	}
	return f, nil
}

func wildcardPattern(rule string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(rule)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^.]+`)
	return regexp.Compile("^" + escaped + "$")
}

func (f *HostFilter) empty() bool {
	return len(f.exact) == 0 && len(f.patterns) == 0 && len(f.networks) == 0
}

// Allowed reports whether ip matches any rule.
func (f *HostFilter) Allowed(ip string) bool {
	if f.empty() {
		return true
	}
	if _, ok := f.exact[ip]; ok {
		return true
	}
	for _, pattern := range f.patterns {
		if pattern.MatchString(ip) {
			return true
		}
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range f.networks {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

// Middleware rejects and audits requests from addresses outside the rules.
func (f *HostFilter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !f.Allowed(ip) {
			if f.recorder != nil {
				f.recorder.Record(r.Context(), audit.Event{
					Type:        audit.EventHostRejected,
					Description: "Request rejected by host filter.",
					Metadata:    map[string]any{"path": r.URL.Path},
				})
			}
			writeError(w, r, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

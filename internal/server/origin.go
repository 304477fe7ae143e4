package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// OriginPolicy decides which browser origins may open the real-time channel
// or call the upload endpoints cross-site. The page's own host is always
// allowed; configured entries (or "*") extend that.
type OriginPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
	log      *logrus.Entry
}

// NewOriginPolicy normalizes the configured origins. Invalid entries are
// logged and skipped.
func NewOriginPolicy(origins []string, log *logrus.Entry) *OriginPolicy {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &OriginPolicy{
		allowed: make(map[string]struct{}, len(origins)),
		log:     log.WithField("component", "origin"),
	}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			p.log.WithField("origin", origin).Warn("Ignoring invalid origin in configuration")
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// Allowed reports whether origin may talk to the server handling r.
func (p *OriginPolicy) Allowed(r *http.Request, origin string) bool {
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	if u, err := url.Parse(normalized); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	_, exists := p.allowed[normalized]
	return exists
}

// CheckOrigin is the websocket.Upgrader hook. Requests without an Origin
// header come from non-browser clients and are accepted.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if p.Allowed(r, origin) {
		return true
	}
	p.log.WithFields(logrus.Fields{
		"origin":      origin,
		"remote_addr": r.RemoteAddr,
	}).Warn("Blocked WebSocket connection from disallowed origin")
	return false
}

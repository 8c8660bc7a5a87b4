package tenant

import (
	"net/url"
	"strings"

	"github.com/sdko-org/visitor-beacon/internal/models"
)

type Decision struct {
	Allowed bool
	// Checked is false when the guard did not apply: no allow-list or no
	// Origin/Referer on the request.
	Checked bool
	Host    string
}

// OriginGuard matches the request origin against a project's allow-list.
// Requests without Origin or Referer (server-to-server) pass unchecked; the
// headers are client controlled, so this is isolation hygiene, not auth.
type OriginGuard struct{}

func (OriginGuard) Check(project *models.Project, origin, referer string) Decision {
	allowed := project.AllowedOriginList()
	if len(allowed) == 0 {
		return Decision{Allowed: true}
	}

	source := origin
	if source == "" || source == "null" {
		source = referer
	}
	if source == "" {
		return Decision{Allowed: true}
	}

	host := NormalizeHost(source)
	decision := Decision{Checked: true, Host: host}
	if host == "" {
		return decision
	}

	for _, entry := range allowed {
		want := NormalizeHost(entry)
		if want == "" {
			continue
		}
		if host == want || strings.HasSuffix(host, "."+want) {
			decision.Allowed = true
			return decision
		}
	}
	return decision
}

// NormalizeHost reduces "https://Shop.Example.com:8443/path" or
// "shop.example.com/path" to "shop.example.com".
func NormalizeHost(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(u.Hostname(), ".")
}

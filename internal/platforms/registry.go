package platforms

import (
	"net/http"
	"sort"
	"strings"

	"github.com/PortNumber53/social-publisher/internal/credentials"
)

// Registry maps platform names to publishers.
type Registry struct {
	publishers map[string]Publisher
}

func NewRegistry(ps ...Publisher) *Registry {
	r := &Registry{publishers: make(map[string]Publisher, len(ps))}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Default registers every supported platform on one shared client.
func Default(client *http.Client) *Registry {
	if client == nil {
		client = NewHTTPClient(DefaultTimeout)
	}
	return NewRegistry(
		NewFacebook(client),
		NewInstagram(client),
		NewTwitter(client),
		NewLinkedIn(client),
		NewReddit(),
	)
}

func (r *Registry) Register(p Publisher) {
	r.publishers[strings.ToLower(p.Name())] = p
}

func (r *Registry) Get(name string) (Publisher, bool) {
	p, ok := r.publishers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.publishers))
	for n := range r.publishers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Policies feeds the credential resolver.
func (r *Registry) Policies() map[string]credentials.TargetPolicy {
	out := make(map[string]credentials.TargetPolicy, len(r.publishers))
	for n, p := range r.publishers {
		out[n] = p.TargetPolicy()
	}
	return out
}

// ShortLivedTokens is implemented by publishers whose connection tokens expire
// and must be checked before every call.
type ShortLivedTokens interface {
	ShortLivedTokens() bool
}

// ShortLivedTokenProviders lists platforms whose connection tokens expire.
func (r *Registry) ShortLivedTokenProviders() []string {
	var out []string
	for n, p := range r.publishers {
		if sl, ok := p.(ShortLivedTokens); ok && sl.ShortLivedTokens() {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

package platforms

import (
	"fmt"
	"sort"
	"time"
)

// App holds one platform's OAuth application credentials.
type App struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Registry maps platform identifiers to adapters. Dispatch is keyed by
// the identifier stored on the social account row.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Platform()] = a
}

func (r *Registry) Get(platform string) (Adapter, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
	return a, nil
}

func (r *Registry) Platforms() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildRegistry wires all six adapters from app credentials. Platforms
// without credentials are still registered; their auth flows fail with a
// clear error instead of a missing-platform one.
func BuildRegistry(apps map[string]App, states StateIssuer, timeout time.Duration) *Registry {
	r := NewRegistry()
	r.Register(NewFacebook(apps[Facebook], states, timeout))
	r.Register(NewInstagram(apps[Instagram], states, timeout))
	r.Register(NewTwitter(apps[Twitter], states, timeout))
	r.Register(NewLinkedIn(apps[LinkedIn], states, timeout))
	r.Register(NewYouTube(apps[YouTube], states, timeout))
	r.Register(NewThreads(apps[Threads], states, timeout))
	return r
}

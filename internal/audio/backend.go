package audio

import (
	"fmt"
	"net/http"
	"sort"
	"time"
)

// BackendOptions configures the Playable factory returned by NewBackend.
type BackendOptions struct {
	// Client fetches remote sources for backends that decode real audio.
	Client *http.Client

	// Length is the simulated clip length used by the headless backend.
	// Zero means clips never end on their own.
	Length time.Duration
}

var backends = map[string]func(BackendOptions) Factory{
	"headless": func(opts BackendOptions) Factory {
		return HeadlessFactory(opts.Length)
	},
}

// NewBackend returns the Playable factory registered under name.
func NewBackend(name string, opts BackendOptions) (Factory, error) {
	build, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown playback backend %q (available: %v)", name, Backends())
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return build(opts), nil
}

// Backends lists the registered backend names.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

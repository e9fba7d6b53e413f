package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Route declares one backend prefix the gateway proxies. Prefixes match on
// path-segment boundaries, so "/patients" covers "/patients/42" but not
// "/patientsearch".
type Route struct {
	Prefix string `yaml:"prefix"`

	// Methods restricts the forwarded verbs; empty means all.
	Methods []string `yaml:"methods,omitempty"`

	// Public routes bypass the route guard. Everything else requires an
	// authenticated session.
	Public bool `yaml:"public,omitempty"`
}

type RouteManifest struct {
	Routes []Route `yaml:"routes"`
}

// LoadRoutes reads the proxy route manifest from the given YAML file.
func LoadRoutes(path string) (RouteManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RouteManifest{}, fmt.Errorf("reading route manifest: %w", err)
	}

	return ParseRoutes(data)
}

func ParseRoutes(data []byte) (RouteManifest, error) {
	var manifest RouteManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return RouteManifest{}, fmt.Errorf("parsing route manifest: %w", err)
	}

	for i, route := range manifest.Routes {
		if route.Prefix == "" || !strings.HasPrefix(route.Prefix, "/") {
			return RouteManifest{}, fmt.Errorf("route %d: prefix %q must start with '/'", i, route.Prefix)
		}
	}

	return manifest, nil
}

// Match returns the route covering the given method and path, if any.
func (m RouteManifest) Match(method, path string) (Route, bool) {
	for _, route := range m.Routes {
		if !matchPrefix(path, route.Prefix) {
			continue
		}

		if len(route.Methods) == 0 {
			return route, true
		}

		for _, allowed := range route.Methods {
			if strings.EqualFold(allowed, method) {
				return route, true
			}
		}
	}

	return Route{}, false
}

func matchPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}

	rest := path[len(prefix):]

	return rest == "" || strings.HasPrefix(rest, "/")
}

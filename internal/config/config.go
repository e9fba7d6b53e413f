// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	Database Database `yaml:"database"`
	ValKey   ValKey   `yaml:"valkey"`
	Backend  Backend  `yaml:"backend"`
	Gateway  Gateway  `yaml:"gateway"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

type Database struct {
	Name     string              `yaml:"name"`
	Port     string              `yaml:"port"`
	SSLMode  string              `yaml:"sslMode" default:"prefer"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
}

type ValKey struct {
	Host      commoncfg.SourceRef `yaml:"host"`
	User      commoncfg.SourceRef `yaml:"user"`
	Password  commoncfg.SourceRef `yaml:"password"`
	Prefix    string              `yaml:"prefix"`
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
}

// Backend locates the scheduling backend API the gateway fronts. The API
// root is the single egress point for every outbound request.
type Backend struct {
	APIRoot           string        `yaml:"apiRoot" default:"http://localhost:8000/api"`
	Timeout           time.Duration `yaml:"timeout" default:"30s"`
	SessionCookieName string        `yaml:"sessionCookieName" default:"session_token"`
}

// SessionStore selects the session repository implementation.
type SessionStore string

const (
	SessionStoreValKey   SessionStore = "valkey"
	SessionStorePostgres SessionStore = "postgres"
)

type Gateway struct {
	// SessionDuration bounds a gateway session when the bearer token carries
	// no parseable expiry. The backend issues 7-day tokens.
	SessionDuration time.Duration `yaml:"sessionDuration" default:"168h"`

	SessionStore SessionStore `yaml:"sessionStore" default:"valkey"`

	LoginPath    string `yaml:"loginPath" default:"/login"`
	LandingPath  string `yaml:"landingPath" default:"/dashboard"`
	CallbackPath string `yaml:"callbackPath" default:"/auth/callback"`

	// RoutesFile is the YAML manifest of backend route prefixes the gateway
	// proxies, with their exposure rules.
	RoutesFile string `yaml:"routesFile" default:"routes.yaml"`

	CSRFSecret commoncfg.SourceRef `yaml:"csrfSecret"`

	SessionCookieTemplate CookieTemplate `yaml:"sessionCookieTemplate"`
	CSRFCookieTemplate    CookieTemplate `yaml:"csrfCookieTemplate"`

	Housekeeper Housekeeper `yaml:"housekeeper"`
}

type Housekeeper struct {
	Interval    time.Duration `yaml:"interval" default:"10m"`
	IdleTimeout time.Duration `yaml:"idleTimeout" default:"24h"`
}

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "none"
	CookieSameSiteLax    CookieSameSite = "lax"
	CookieSameSiteStrict CookieSameSite = "strict"
)

type CookieTemplate struct {
	Name     string         `yaml:"name"`
	MaxAge   int            `yaml:"maxAge"`
	Path     string         `yaml:"path" default:"/"`
	Domain   string         `yaml:"domain"`
	Secure   bool           `yaml:"secure" default:"true"`
	HTTPOnly bool           `yaml:"httpOnly"`
	SameSite CookieSameSite `yaml:"sameSite" default:"lax"`
}

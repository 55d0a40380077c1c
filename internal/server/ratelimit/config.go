package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EndpointConfig is the limit for one route. See MatchEndpoint for the path syntax.
type EndpointConfig struct {
	Path   string
	Method string
	Limit  int // requests per Window
	Window time.Duration
	Burst  int // 0 means Limit
}

// LoadConfig reads the limiter settings from RATE_LIMIT_* environment variables.
func LoadConfig() *Config {
	return configFrom(os.LookupEnv)
}

// configFrom builds the config from lookup. Values that do not parse keep their default.
func configFrom(lookup func(string) (string, bool)) *Config {
	env := envReader(lookup)
	if !env.boolean("RATE_LIMIT_ENABLED", true) {
		return &Config{}
	}
	return &Config{
		Enabled:         true,
		DefaultLimit:    env.integer("RATE_LIMIT_DEFAULT_LIMIT", 600),
		DefaultWindow:   env.duration("RATE_LIMIT_DEFAULT_WINDOW", time.Minute),
		CleanupInterval: env.duration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		IdleTTL:         env.duration("RATE_LIMIT_IDLE_TTL", time.Hour),
		Whitelist:       ipSet(env.str("RATE_LIMIT_WHITELIST")),
		Blacklist:       ipSet(env.str("RATE_LIMIT_BLACKLIST")),
		EndpointConfigs: DefaultEndpointConfigs(env.integer("RATE_LIMIT_LAUNCHES_PER_HOUR", 10)),
	}
}

// DefaultEndpointConfigs returns the per-route limits. launchesPerHour bounds the routes that
// start paid upstream jobs.
func DefaultEndpointConfigs(launchesPerHour int) []EndpointConfig {
	return []EndpointConfig{
		// billed per prompt and provider upstream
		{Path: "/projects/*/analyses", Method: "POST", Limit: launchesPerHour, Window: time.Hour, Burst: 2},
		{Path: "/projects/*/phases/*", Method: "POST", Limit: 2 * launchesPerHour, Window: time.Hour, Burst: 3},

		// may reach the remote classifier or the link checker
		{Path: "/projects/*/opportunities", Method: "POST", Limit: 60, Window: time.Minute, Burst: 10},
		{Path: "/classify", Method: "POST", Limit: 60, Window: time.Minute, Burst: 10},

		{Path: "/projects/*/phases/*/cancel", Method: "POST", Limit: 60, Window: time.Minute, Burst: 10},
		{Path: "/jobs/*", Method: "GET", Limit: 600, Window: time.Minute, Burst: 60},
	}
}

type envReader func(string) (string, bool)

func (e envReader) str(key string) string {
	v, _ := e(key)
	return strings.TrimSpace(v)
}

func (e envReader) integer(key string, def int) int {
	if n, err := strconv.Atoi(e.str(key)); err == nil {
		return n
	}
	return def
}

func (e envReader) boolean(key string, def bool) bool {
	if b, err := strconv.ParseBool(e.str(key)); err == nil {
		return b
	}
	return def
}

func (e envReader) duration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(e.str(key)); err == nil {
		return d
	}
	return def
}

// ipSet splits a comma separated address list.
func ipSet(list string) map[string]bool {
	set := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			set[ip] = true
		}
	}
	return set
}

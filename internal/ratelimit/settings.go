package ratelimit

import "strings"

// DefaultRedisPrefix namespaces throttle keys in a shared Redis.
const DefaultRedisPrefix = "quotaledger:rl"

// Settings configures the throttle. Limit is requests per second per key; zero disables it.
type Settings struct {
	Limit         int
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Normalize trims string fields and clamps negative values.
func (s Settings) Normalize() Settings {
	s.RedisAddr = strings.TrimSpace(s.RedisAddr)
	s.RedisPassword = strings.TrimSpace(s.RedisPassword)
	s.RedisPrefix = strings.TrimSpace(s.RedisPrefix)
	if s.RedisPrefix == "" {
		s.RedisPrefix = DefaultRedisPrefix
	}
	if s.RedisDB < 0 {
		s.RedisDB = 0
	}
	if s.Limit < 0 {
		s.Limit = 0
	}
	if s.RedisAddr == "" {
		s.RedisEnabled = false
	}
	return s
}

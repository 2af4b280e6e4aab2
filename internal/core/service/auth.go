// Package service provides the connection-independent services used by the
// command layer.
package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/time/rate"

	"github.com/yndnr/sabledb-go/internal/core/domain"
)

// Default argon2id parameters for HashPassword.
const (
	argonMemory  = 16384
	argonTime    = 2
	argonThreads = 2
	argonKeyLen  = 32
	argonSaltLen = 16
)

// AuthServiceConfig holds configuration for AuthService.
type AuthServiceConfig struct {
	// Password is a plaintext password. Ignored when PasswordHash is set.
	Password string
	// PasswordHash is an argon2id hash in PHC form.
	PasswordHash string
	// RateLimit is commands per second per client IP. 0 disables limiting.
	RateLimit int
}

// AuthService handles client authentication and rate limiting.
type AuthService struct {
	password     []byte
	hash         *argonHash
	rateLimit    int
	rateLimiters *RateLimiterRegistry
}

// NewAuthService creates a new AuthService. It fails if PasswordHash is
// set but cannot be parsed.
func NewAuthService(cfg AuthServiceConfig) (*AuthService, error) {
	s := &AuthService{
		rateLimit:    cfg.RateLimit,
		rateLimiters: NewRateLimiterRegistry(),
	}
	if cfg.PasswordHash != "" {
		h, err := parseArgon2Hash(cfg.PasswordHash)
		if err != nil {
			return nil, err
		}
		s.hash = h
	} else if cfg.Password != "" {
		s.password = []byte(cfg.Password)
	}
	return s, nil
}

// Enabled reports whether clients must authenticate.
func (s *AuthService) Enabled() bool {
	return s.hash != nil || s.password != nil
}

// Authenticate checks a password supplied with AUTH.
func (s *AuthService) Authenticate(password string) error {
	switch {
	case s.hash != nil:
		if s.hash.verify(password) {
			return nil
		}
	case s.password != nil:
		if subtle.ConstantTimeCompare([]byte(password), s.password) == 1 {
			return nil
		}
	default:
		return domain.ErrAuthNotConfigured
	}
	return domain.ErrWrongPass
}

// CheckRateLimit returns ErrRateLimited when the client at remoteAddr has
// exhausted its budget.
func (s *AuthService) CheckRateLimit(remoteAddr string) error {
	if s.rateLimit <= 0 {
		return nil
	}
	limiter := s.rateLimiters.GetOrCreate(clientIP(remoteAddr), s.rateLimit)
	if !limiter.Allow() {
		return domain.ErrRateLimited
	}
	return nil
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// ============================================================================
// Argon2id
// ============================================================================

type argonHash struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

// ValidatePasswordHash reports whether hash is a usable argon2id hash.
func ValidatePasswordHash(hash string) error {
	_, err := parseArgon2Hash(hash)
	return err
}

// parseArgon2Hash parses "$argon2id$v=19$m=16384,t=2,p=2$<salt>$<hash>".
func parseArgon2Hash(hash string) (*argonHash, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		return nil, domain.ErrConfigInvalid.WithDetails("password hash: expected 6 fields")
	}
	if parts[1] != "argon2id" {
		return nil, domain.ErrConfigInvalid.WithDetails("password hash: unsupported algorithm " + parts[1])
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return nil, domain.ErrConfigInvalid.WithDetails("password hash: unsupported version " + parts[2])
	}

	h := &argonHash{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.memory, &h.time, &h.threads); err != nil {
		return nil, domain.ErrConfigInvalid.WithDetails("password hash: bad parameters").WithCause(err)
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, domain.ErrConfigInvalid.WithDetails("password hash: bad salt").WithCause(err)
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, domain.ErrConfigInvalid.WithDetails("password hash: bad key").WithCause(err)
	}
	if len(h.key) == 0 {
		return nil, domain.ErrConfigInvalid.WithDetails("password hash: empty key")
	}
	return h, nil
}

func (h *argonHash) verify(password string) bool {
	computed := argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.threads, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(computed, h.key) == 1
}

// HashPassword produces an argon2id hash suitable for security.requirepass_hash.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// ============================================================================
// RateLimiterRegistry - Rate Limiter Management
// ============================================================================

// RateLimiterRegistry manages rate limiters for each client IP.
type RateLimiterRegistry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiterRegistry creates a new RateLimiterRegistry.
func NewRateLimiterRegistry() *RateLimiterRegistry {
	return &RateLimiterRegistry{
		limiters: make(map[string]*rate.Limiter),
	}
}

// GetOrCreate retrieves an existing rate limiter or creates a new one.
func (r *RateLimiterRegistry) GetOrCreate(key string, rateLimit int) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[key]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := r.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(rateLimit), rateLimit)
	r.limiters[key] = limiter
	return limiter
}

// Delete removes the rate limiter for a key.
func (r *RateLimiterRegistry) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, key)
}

// Len returns the number of tracked limiters.
func (r *RateLimiterRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

// Clear removes all rate limiters.
func (r *RateLimiterRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters = make(map[string]*rate.Limiter)
}

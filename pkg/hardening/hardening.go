// Package hardening refuses unsafe startup configurations.
package hardening

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBypassNotAllowed is returned when verification bypass is requested
	// outside a development environment.
	ErrBypassNotAllowed = errors.New("VERIFICATION_BYPASS is only allowed when APP_ENV is development, dev, local or test")
	ErrMissingSecret    = errors.New("RECAPTCHA_SECRET_KEY is required unless verification bypass is active")
)

type Options struct {
	Service            string
	Environment        string
	VerificationBypass bool
	RecaptchaSecret    string

	StrictProdSecurity    bool
	StoreDriver           string
	DatabaseRequireTLS    bool
	RedisAddr             string
	RedisRequireTLS       bool
	RedisTLSInsecure      bool
	RedisAllowInsecureTLS bool
	CORSAllowedOrigins    []string
}

// IsDevelopment reports whether env names a local/development deployment.
func IsDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "development", "dev", "local", "test":
		return true
	default:
		return false
	}
}

func IsProductionLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}

// ValidateBypass returns whether development bypass is active. Asking for it
// anywhere but a development environment is an error, never a silent no-op.
func ValidateBypass(env string, requested bool) (bool, error) {
	if !requested {
		return false, nil
	}
	if !IsDevelopment(env) {
		return false, fmt.Errorf("APP_ENV=%q: %w", env, ErrBypassNotAllowed)
	}
	return true, nil
}

// Validate checks the whole startup configuration and returns whether the
// development bypass is active.
func Validate(o Options) (bool, error) {
	service := strings.TrimSpace(o.Service)
	if service == "" {
		service = "service"
	}
	bypass, err := ValidateBypass(o.Environment, o.VerificationBypass)
	if err != nil {
		return false, fmt.Errorf("%s: %w", service, err)
	}
	if !bypass && strings.TrimSpace(o.RecaptchaSecret) == "" {
		return false, fmt.Errorf("%s: %w", service, ErrMissingSecret)
	}
	if err := validateProduction(o, service); err != nil {
		return false, err
	}
	return bypass, nil
}

func validateProduction(o Options, service string) error {
	if !IsProductionLike(o.Environment) {
		return nil
	}
	for _, origin := range o.CORSAllowedOrigins {
		if strings.TrimSpace(origin) == "*" {
			return fmt.Errorf("%s: production forbids CORS wildcard origin", service)
		}
	}
	if !o.StrictProdSecurity {
		return nil
	}
	if strings.EqualFold(strings.TrimSpace(o.StoreDriver), "postgres") && !o.DatabaseRequireTLS {
		return fmt.Errorf("%s: strict production hardening requires DATABASE_REQUIRE_TLS=true", service)
	}
	if strings.TrimSpace(o.RedisAddr) != "" {
		if !o.RedisRequireTLS {
			return fmt.Errorf("%s: strict production hardening requires REDIS_REQUIRE_TLS=true", service)
		}
		if o.RedisTLSInsecure || o.RedisAllowInsecureTLS {
			return fmt.Errorf("%s: strict production hardening forbids REDIS_TLS_INSECURE/REDIS_ALLOW_INSECURE_TLS", service)
		}
	}
	return validateCORSOrigins(o.CORSAllowedOrigins, service)
}

func validateCORSOrigins(origins []string, service string) error {
	valid := 0
	for _, origin := range origins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		valid++
		lower := strings.ToLower(o)
		for _, local := range []string{"http://localhost", "https://localhost", "http://127.0.0.1", "https://127.0.0.1"} {
			if strings.HasPrefix(lower, local) {
				return fmt.Errorf("%s: strict production hardening forbids localhost CORS origin %q", service, o)
			}
		}
		if !strings.HasPrefix(lower, "https://") {
			return fmt.Errorf("%s: strict production hardening requires HTTPS CORS origin, got %q", service, o)
		}
	}
	if valid == 0 {
		return fmt.Errorf("%s: strict production hardening requires explicit CORS_ALLOWED_ORIGINS", service)
	}
	return nil
}

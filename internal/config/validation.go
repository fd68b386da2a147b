package config

import (
	"strings"
	"time"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// ValidateConfig validates the complete configuration.
func ValidateConfig(cfg *Config) error {
	return newConfigurationValidator(cfg).validate()
}

type configurationValidator struct {
	config *Config
}

func newConfigurationValidator(config *Config) *configurationValidator {
	return &configurationValidator{config: config}
}

func (cv *configurationValidator) validate() error {
	if err := cv.validateServer(); err != nil {
		return err
	}
	if err := cv.validatePackages(); err != nil {
		return err
	}
	if err := cv.validateRetry(); err != nil {
		return err
	}
	if err := cv.validateGate(); err != nil {
		return err
	}
	return cv.validateDaemon()
}

func (cv *configurationValidator) validateServer() error {
	s := cv.config.Server
	if s.Port < 1 || s.Port > 65535 {
		return errors.ValidationError("server.port out of range").WithContext("port", s.Port).Build()
	}
	if !transportNormalizer.Contains(s.Transport) {
		return errors.ValidationError("invalid server.transport").
			WithContext("transport", string(s.Transport)).
			WithContext("allowed", allowed(transportNormalizer.Keys())).
			Build()
	}
	if d, err := time.ParseDuration(s.RetryGrace); err != nil || d < 0 {
		return errors.ValidationError("invalid server.retry_grace").WithContext("value", s.RetryGrace).Build()
	}
	return nil
}

func (cv *configurationValidator) validatePackages() error {
	if cv.config.Packages.Dir == "" {
		return errors.ValidationError("packages.dir must not be empty").Build()
	}
	if a := cv.config.Packages.Auth; a != nil && a.Type != "" && !a.Type.IsValid() {
		return errors.ValidationError("invalid packages.auth.type").
			WithContext("type", string(a.Type)).
			WithContext("allowed", allowed(authTypeNormalizer.Keys())).
			Build()
	}
	return nil
}

func (cv *configurationValidator) validateRetry() error {
	r := cv.config.Packages.Retry
	if !retryBackoffNormalizer.Contains(r.Backoff) {
		return errors.ValidationError("invalid packages.retry.backoff").
			WithContext("backoff", string(r.Backoff)).
			WithContext("allowed", allowed(retryBackoffNormalizer.Keys())).
			Build()
	}
	if r.MaxRetries < 0 {
		return errors.ValidationError("packages.retry.max_retries cannot be negative").
			WithContext("max_retries", r.MaxRetries).
			Build()
	}
	initDur, err := time.ParseDuration(r.InitialDelay)
	if err != nil {
		return errors.WrapError(err, errors.CategoryValidation, "invalid packages.retry.initial_delay").Fatal().Build()
	}
	maxDur, err := time.ParseDuration(r.MaxDelay)
	if err != nil {
		return errors.WrapError(err, errors.CategoryValidation, "invalid packages.retry.max_delay").Fatal().Build()
	}
	if maxDur < initDur {
		return errors.ValidationError("packages.retry.max_delay must be >= initial_delay").
			WithContext("initial_delay", r.InitialDelay).
			WithContext("max_delay", r.MaxDelay).
			Build()
	}
	return nil
}

func (cv *configurationValidator) validateGate() error {
	if !isHexHash(cv.config.Gate.Baseline) {
		return errors.ValidationError("gate.baseline must be a 40 character hex commit id").
			WithContext("baseline", cv.config.Gate.Baseline).
			Build()
	}
	return nil
}

func (cv *configurationValidator) validateDaemon() error {
	if d, err := time.ParseDuration(cv.config.Daemon.CheckInterval); err != nil || d <= 0 {
		return errors.ValidationError("invalid daemon.check_interval").
			WithContext("value", cv.config.Daemon.CheckInterval).
			Build()
	}
	if d, err := time.ParseDuration(cv.config.Daemon.CheckTimeout); err != nil || d <= 0 {
		return errors.ValidationError("invalid daemon.check_timeout").
			WithContext("value", cv.config.Daemon.CheckTimeout).
			Build()
	}
	return nil
}

func allowed(keys []string) string { return strings.Join(keys, "|") }

func isHexHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Package provider selects the vendor implementation serving a channel
// instance. Business logic only ever sees types.Provider.
package provider

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"leadwire/internal/constants"
	apperrors "leadwire/internal/errors"
	"leadwire/pkg/circuitbreaker"
	"leadwire/pkg/phone"
	"leadwire/pkg/provider/evolution"
	"leadwire/pkg/provider/rest"
	"leadwire/pkg/provider/types"
	"leadwire/pkg/provider/uazapi"
)

// Settings holds the process-wide vendor endpoints.
type Settings struct {
	EvolutionURL      string
	UazapiURL         string
	UazapiAdminToken  string
	Timeout           time.Duration
	MediaFetchTimeout time.Duration
	Phone             phone.Policy
	Sleeper           types.Sleeper
	HTTPClient        *http.Client
}

// Factory builds Provider instances and owns the per-instance breakers.
type Factory struct {
	settings Settings
	breakers *circuitbreaker.Group
	logger   *logrus.Logger
}

// NewFactory creates a Factory. Zero timeouts fall back to defaults.
func NewFactory(settings Settings, logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}
	if settings.Timeout == 0 {
		settings.Timeout = constants.DefaultProviderTimeoutSec * time.Second
	}
	if settings.MediaFetchTimeout == 0 {
		settings.MediaFetchTimeout = constants.DefaultMediaFetchTimeoutSec * time.Second
	}
	if settings.Sleeper == nil {
		settings.Sleeper = types.DefaultSleeper()
	}
	return &Factory{
		settings: settings,
		breakers: circuitbreaker.NewGroup(
			constants.DefaultCircuitMaxFailures,
			constants.DefaultCircuitOpenTimeoutSec*time.Second,
			rest.Retryable,
			logger,
		),
		logger: logger,
	}
}

// New returns the Provider for variant bound to instanceName and token.
func (f *Factory) New(variant types.Variant, instanceName, token string) (types.Provider, error) {
	breaker := f.breakers.Get(string(variant) + ":" + instanceName)

	switch variant {
	case types.VariantEvolution:
		if f.settings.EvolutionURL == "" {
			return nil, apperrors.NewConfigError("providers.evolution.base_url", "evolution base url is not configured")
		}
		return evolution.NewClient(evolution.Config{
			BaseURL:           f.settings.EvolutionURL,
			Token:             token,
			InstanceName:      instanceName,
			Timeout:           f.settings.Timeout,
			MediaFetchTimeout: f.settings.MediaFetchTimeout,
			Breaker:           breaker,
			Sleeper:           f.settings.Sleeper,
			HTTPClient:        f.settings.HTTPClient,
			Logger:            f.logger,
		}), nil
	case types.VariantUazapi:
		if f.settings.UazapiURL == "" {
			return nil, apperrors.NewConfigError("providers.uazapi.base_url", "uazapi base url is not configured")
		}
		return uazapi.NewClient(uazapi.Config{
			BaseURL:           f.settings.UazapiURL,
			Token:             token,
			AdminToken:        f.settings.UazapiAdminToken,
			InstanceName:      instanceName,
			Timeout:           f.settings.Timeout,
			MediaFetchTimeout: f.settings.MediaFetchTimeout,
			Phone:             f.settings.Phone,
			Breaker:           breaker,
			Sleeper:           f.settings.Sleeper,
			HTTPClient:        f.settings.HTTPClient,
			Logger:            f.logger,
		}), nil
	default:
		return nil, apperrors.NewValidationError("provider", "unknown provider variant "+string(variant))
	}
}

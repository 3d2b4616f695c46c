// Package publish delivers post content to the social network, either for
// real or simulated when no complete credential bundle is configured.
package publish

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"postflow/internal/domain"
)

const (
	ModeLive      = "live"
	ModeSimulated = "simulated"

	DefaultEndpoint = "https://api.twitter.com/2/tweets"
	DefaultTimeout  = 5 * time.Second
)

// Publisher delivers content. Implementations never return an error:
// failures are reported through DeliveryResult.
type Publisher interface {
	Publish(ctx context.Context, content string) domain.DeliveryResult
	Mode() string
}

// Credentials is the OAuth 1.0a bundle needed for live publishing.
type Credentials struct {
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
	AccessToken  string `mapstructure:"access_token"`
	AccessSecret string `mapstructure:"access_secret"`
}

// Complete reports whether all four values are set. A partial bundle is
// treated exactly like an empty one.
func (c Credentials) Complete() bool {
	for _, v := range []string{c.APIKey, c.APISecret, c.AccessToken, c.AccessSecret} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

type Options struct {
	Endpoint string
	Timeout  time.Duration
}

// New picks the live publisher when creds is complete and the simulated
// one otherwise. The choice is fixed for the lifetime of the returned value.
func New(creds Credentials, opts Options) Publisher {
	if creds.Complete() {
		log.Info().Str("endpoint", opts.endpoint()).Msg("publisher credentials configured, live mode")
		return NewLive(creds, opts)
	}
	log.Warn().Msg("publisher credentials incomplete, using simulation mode")
	return NewSimulated()
}

func (o Options) endpoint() string {
	if o.Endpoint == "" {
		return DefaultEndpoint
	}
	return o.Endpoint
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

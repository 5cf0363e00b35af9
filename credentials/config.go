package credentials

import (
	"golang.org/x/oauth2/clientcredentials"

	"github.com/LeadPages/gcloud-requests/config"
)

// DefaultTokenURL is Google's OAuth2 token endpoint.
const DefaultTokenURL = "https://oauth2.googleapis.com/token"

// FromConfig creates a client credentials credential from the loaded
// configuration. Scopes fall back to defaultScopes, usually the target
// service's scopes. An unconfigured section yields a not_configured ConfigError.
func FromConfig(cfg config.CredentialsConfig, defaultScopes []string, opts ...TokenOption) (*TokenCredential, error) {
	if !cfg.Configured() {
		return nil, config.NewNotConfiguredError("credentials",
			config.EnvVar("credentials.clientid"), "credentials.clientid")
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	return FromClientCredentials(&clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}, opts...), nil
}

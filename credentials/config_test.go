package credentials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeadPages/gcloud-requests/config"
)

func TestFromConfigNotConfigured(t *testing.T) {
	c, err := FromConfig(config.CredentialsConfig{}, nil)
	assert.Nil(t, c)
	assert.True(t, config.IsNotConfigured(err))
	assert.Contains(t, err.Error(), "GCLOUD_REQUESTS_CREDENTIALS_CLIENTID")
}

func TestFromConfigScopes(t *testing.T) {
	var mu sync.Mutex
	var scopes []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		scopes = append(scopes, r.PostForm.Get("scope"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"issued","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	defaults := []string{"https://www.googleapis.com/auth/datastore"}

	fallback, err := FromConfig(config.CredentialsConfig{ClientID: "client", ClientSecret: "secret", TokenURL: server.URL}, defaults)
	require.NoError(t, err)
	require.NoError(t, fallback.Refresh(context.Background()))

	explicit, err := FromConfig(config.CredentialsConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     server.URL,
		Scopes:       []string{"scope-a", "scope-b"},
	}, defaults)
	require.NoError(t, err)
	require.NoError(t, explicit.Refresh(context.Background()))

	header := http.Header{}
	require.NoError(t, explicit.Apply(context.Background(), header))
	assert.Equal(t, "Bearer issued", header.Get("Authorization"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"https://www.googleapis.com/auth/datastore", "scope-a scope-b"}, scopes)
}

package clients

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
)

// tokenCache holds one client-credentials token source per instance. The
// oauth2 token source handles expiry and refresh internally; caching it per
// instance avoids a token request storm when calls arrive concurrently.
type tokenCache struct {
	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

func newTokenCache() *tokenCache {
	return &tokenCache{sources: make(map[string]oauth2.TokenSource)}
}

// token returns a valid bearer token for the instance, minting or refreshing
// one through the connector's token URL as needed.
func (c *tokenCache) token(ctx context.Context, req *core.Request) (string, error) {
	c.mu.Lock()
	source, ok := c.sources[req.InstanceID]
	if !ok {
		cfg, err := clientCredentialsConfig(req)
		if err != nil {
			c.mu.Unlock()
			return "", err
		}
		// The source outlives the per-attempt context; token requests use
		// their own background-derived context.
		source = cfg.TokenSource(context.WithoutCancel(ctx))
		c.sources[req.InstanceID] = source
	}
	c.mu.Unlock()

	token, err := source.Token()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to obtain oauth2 token")
	}
	return token.AccessToken, nil
}

// invalidate drops the cached source for an instance, forcing a fresh token
// request on the next call. Called when credentials are rotated.
func (c *tokenCache) invalidate(instanceID string) {
	c.mu.Lock()
	delete(c.sources, instanceID)
	c.mu.Unlock()
}

func clientCredentialsConfig(req *core.Request) (*clientcredentials.Config, error) {
	tokenURL := req.Auth.Config["token_url"]
	if tokenURL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "oauth2 scheme declares no token_url")
	}
	clientID, okID := req.Credentials["client_id"]
	clientSecret, okSecret := req.Credentials["client_secret"]
	if !okID || !okSecret {
		return nil, errors.New(errors.ErrorTypeAuthentication, "instance has no oauth2 client credentials")
	}

	var scopes []string
	if raw := req.Auth.Config["scopes"]; raw != "" {
		scopes = strings.Fields(raw)
	}

	return &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}, nil
}

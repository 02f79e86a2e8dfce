package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// AzureParams configures NewAzure.
type AzureParams struct {
	// DeploymentName overrides the client's default deployment.
	DeploymentName          string
	DangerouslyAllowBrowser *bool
}

type browserPolicy interface {
	BrowserAllowed() bool
}

func (c *Client) BrowserAllowed() bool      { return c.allowBrowser }
func (c *AzureClient) BrowserAllowed() bool { return c.allowBrowser }

// NewAzure connects to an Azure OpenAI realtime deployment. The handshake
// URL carries either api-key or a bearer Authorization parameter; the URL
// retained on the relay has that value replaced with RedactedPlaceholder.
func NewAzure(ctx context.Context, client AzureCredentials, params AzureParams, opts ...Option) (*Relay, error) {
	if client == nil {
		return nil, errors.New("realtime: azure client is required")
	}

	deployment := params.DeploymentName
	if deployment == "" {
		deployment = client.Deployment()
	}
	if deployment == "" {
		return nil, ErrMissingDeployment
	}

	token, err := client.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch azure token: %w", err)
	}

	var clientDefault bool
	if p, ok := client.(browserPolicy); ok {
		clientDefault = p.BrowserAllowed()
	}
	allow := resolveBrowserAllowed(params.DangerouslyAllowBrowser, clientDefault, client.APIKey())

	withCredentials := func(u *url.URL) error {
		q := u.Query()
		switch {
		case client.HasAPIKey():
			q.Set(paramAPIKey, client.APIKey())
		case token != "":
			q.Set(paramAuthorization, "Bearer "+token)
		default:
			return ErrMissingCredentials
		}
		u.RawQuery = q.Encode()
		return nil
	}

	return open(ctx, client, deployment, allow, http.Header{}, withCredentials, opts)
}

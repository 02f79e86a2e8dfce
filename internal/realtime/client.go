package realtime

import (
	"context"
	"strings"
)

const (
	defaultBaseURL         = "https://api.openai.com/v1"
	defaultAzureAPIVersion = "2024-10-01-preview"

	// An Azure client configured only with a token provider reports this key.
	missingKeyPlaceholder = "<Missing Key>"

	ephemeralKeyPrefix = "ek_"
)

// ClientKind tells BuildURL which addressing scheme an endpoint uses.
type ClientKind int

const (
	KindOpenAI ClientKind = iota
	KindAzure
)

func (k ClientKind) String() string {
	if k == KindAzure {
		return "azure"
	}
	return "openai"
}

// Endpoint is the minimum a relay needs to know to address the service.
type Endpoint interface {
	Kind() ClientKind
	BaseURL() string
}

// AzureCredentials is the capability set the Azure construction path needs.
type AzureCredentials interface {
	Endpoint
	// HasAPIKey reports whether a real key (not a placeholder) is configured.
	HasAPIKey() bool
	APIKey() string
	// Token returns a bearer token, or "" when no token source is configured.
	Token(ctx context.Context) (string, error)
	APIVersion() string
	Deployment() string
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithOrganization sets the OpenAI-Organization header.
func WithOrganization(org string) ClientOption {
	return func(c *Client) {
		c.organization = org
	}
}

// WithProject sets the OpenAI-Project header.
func WithProject(project string) ClientOption {
	return func(c *Client) {
		c.project = project
	}
}

// WithBrowserAllowed lets relays built from this client run in browser-like
// environments unless their Params say otherwise.
func WithBrowserAllowed(allow bool) ClientOption {
	return func(c *Client) {
		c.allowBrowser = allow
	}
}

// Client holds credentials for the standard realtime endpoint.
type Client struct {
	apiKey       string
	baseURL      string
	organization string
	project      string
	allowBrowser bool
}

// NewClient creates a new OpenAI realtime client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Kind() ClientKind { return KindOpenAI }
func (c *Client) BaseURL() string  { return c.baseURL }
func (c *Client) APIKey() string   { return c.apiKey }

// AzureOption configures an AzureClient.
type AzureOption func(*AzureClient)

// WithAzureAPIKey sets a static API key.
func WithAzureAPIKey(key string) AzureOption {
	return func(c *AzureClient) {
		c.apiKey = key
	}
}

// WithTokenProvider sets the source of Entra ID bearer tokens.
func WithTokenProvider(provider func(ctx context.Context) (string, error)) AzureOption {
	return func(c *AzureClient) {
		c.tokenProvider = provider
	}
}

// WithAPIVersion overrides the api-version query parameter.
func WithAPIVersion(version string) AzureOption {
	return func(c *AzureClient) {
		if version != "" {
			c.apiVersion = version
		}
	}
}

// WithDeployment sets the default deployment name.
func WithDeployment(name string) AzureOption {
	return func(c *AzureClient) {
		c.deployment = name
	}
}

// WithAzureBrowserAllowed is the Azure counterpart of WithBrowserAllowed.
func WithAzureBrowserAllowed(allow bool) AzureOption {
	return func(c *AzureClient) {
		c.allowBrowser = allow
	}
}

// AzureClient addresses an Azure OpenAI resource.
type AzureClient struct {
	apiKey        string
	baseURL       string
	apiVersion    string
	deployment    string
	tokenProvider func(ctx context.Context) (string, error)
	allowBrowser  bool
}

// NewAzureClient creates a client for the resource at endpoint, e.g.
// https://my-resource.openai.azure.com.
func NewAzureClient(endpoint string, opts ...AzureOption) *AzureClient {
	c := &AzureClient{
		baseURL:    strings.TrimSuffix(endpoint, "/") + "/openai",
		apiVersion: defaultAzureAPIVersion,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" && c.tokenProvider != nil {
		c.apiKey = missingKeyPlaceholder
	}
	return c
}

func (c *AzureClient) Kind() ClientKind   { return KindAzure }
func (c *AzureClient) BaseURL() string    { return c.baseURL }
func (c *AzureClient) APIKey() string     { return c.apiKey }
func (c *AzureClient) APIVersion() string { return c.apiVersion }
func (c *AzureClient) Deployment() string { return c.deployment }

func (c *AzureClient) HasAPIKey() bool {
	return c.apiKey != "" && c.apiKey != missingKeyPlaceholder
}

func (c *AzureClient) Token(ctx context.Context) (string, error) {
	if c.tokenProvider == nil {
		return "", nil
	}
	return c.tokenProvider(ctx)
}

// StaticToken returns a token provider that always yields token.
func StaticToken(token string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

func isEphemeralKey(key string) bool {
	return strings.HasPrefix(key, ephemeralKeyPrefix)
}

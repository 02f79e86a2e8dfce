// Package llm lists the realtime-capable models of the configured provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const realtimeMarker = "realtime"

// Provider is the backend the catalog talks to.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderAzure  Provider = "azure"
)

// Catalog wraps the OpenAI REST client for model discovery.
type Catalog struct {
	client   *openai.Client
	provider Provider
}

// NewOpenAICatalog creates a catalog for the standard API.
func NewOpenAICatalog(apiKey, baseURL, orgID string) (*Catalog, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	cfg.OrgID = orgID

	return &Catalog{
		client:   openai.NewClientWithConfig(cfg),
		provider: ProviderOpenAI,
	}, nil
}

// NewAzureCatalog creates a catalog for an Azure OpenAI resource. adToken is
// used when apiKey is empty.
func NewAzureCatalog(endpoint, apiKey, adToken, apiVersion string) (*Catalog, error) {
	if endpoint == "" {
		return nil, errors.New("Azure endpoint is required")
	}

	var cfg openai.ClientConfig
	switch {
	case apiKey != "":
		cfg = openai.DefaultAzureConfig(apiKey, endpoint)
	case adToken != "":
		cfg = openai.DefaultAzureConfig(adToken, endpoint)
		cfg.APIType = openai.APITypeAzureAD
	default:
		return nil, errors.New("Azure API key or AD token is required")
	}
	if apiVersion != "" {
		cfg.APIVersion = apiVersion
	}

	return &Catalog{
		client:   openai.NewClientWithConfig(cfg),
		provider: ProviderAzure,
	}, nil
}

// Provider returns the backend name.
func (c *Catalog) Provider() Provider {
	return c.provider
}

// RealtimeModels returns the sorted, de-duplicated ids of models whose id
// mentions realtime.
func (c *Catalog) RealtimeModels(ctx context.Context) ([]string, error) {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	seen := make(map[string]struct{}, len(list.Models))
	models := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		if !strings.Contains(strings.ToLower(m.ID), realtimeMarker) {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		models = append(models, m.ID)
	}
	sort.Strings(models)

	return models, nil
}

package realtime

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/realtime-relay/internal/model"
)

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint Endpoint
		target   string
		want     string
	}{
		{
			name:     "default base",
			endpoint: NewClient("sk"),
			target:   "gpt-4o-realtime-preview",
			want:     "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview",
		},
		{
			name:     "custom base with trailing slash",
			endpoint: NewClient("sk", WithBaseURL("http://localhost:8080/v1/")),
			target:   "m",
			want:     "wss://localhost:8080/v1/realtime?model=m",
		},
		{
			name:     "azure",
			endpoint: NewAzureClient("https://r.openai.azure.com/", WithAPIVersion("v1")),
			target:   "dep",
			want:     "wss://r.openai.azure.com/openai/realtime?api-version=v1&deployment=dep",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := BuildURL(tt.endpoint, tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestRedactURL(t *testing.T) {
	u, err := url.Parse("wss://r.example/openai/realtime?api-key=secret&deployment=d")
	require.NoError(t, err)

	redacted := redactURL(u)
	assert.Equal(t, RedactedPlaceholder, redacted.Query().Get("api-key"))
	assert.Equal(t, "d", redacted.Query().Get("deployment"))
	assert.Equal(t, "secret", u.Query().Get("api-key"), "input must not be modified")

	plain, err := url.Parse("wss://api.example/v1/realtime?model=m")
	require.NoError(t, err)
	assert.Equal(t, plain.String(), redactURL(plain).String())
}

func TestNewError(t *testing.T) {
	tests := []struct {
		name    string
		event   *model.ErrorEvent
		message string
		want    string
	}{
		{
			name: "remote detail",
			event: &model.ErrorEvent{EventID: "e", Error: &model.ErrorDetail{
				Message: "Bad", Code: "c", Param: "p", Type: "t", EventID: "x",
			}},
			want: "Bad code=c param=p type=t event_id=x",
		},
		{
			name:  "remote detail with missing fields",
			event: &model.ErrorEvent{Error: &model.ErrorDetail{Message: "Bad"}},
			want:  "Bad code= param= type= event_id=",
		},
		{name: "local message", message: msgSend, want: msgSend},
		{name: "nothing", want: msgUnknown},
		{name: "event without detail", event: &model.ErrorEvent{EventID: "e"}, want: msgUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newError(tt.event, tt.message, nil).Error())
		})
	}
}

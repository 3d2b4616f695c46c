package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fullCreds = Credentials{
	APIKey:       "key",
	APISecret:    "secret",
	AccessToken:  "token",
	AccessSecret: "token-secret",
}

func TestCredentialsComplete(t *testing.T) {
	assert.True(t, fullCreds.Complete())

	partial := []Credentials{
		{},
		{APIKey: "k", APISecret: "s", AccessToken: "t"},
		{APIKey: "k", APISecret: "s", AccessSecret: "as"},
		{APIKey: "k", AccessToken: "t", AccessSecret: "as"},
		{APISecret: "s", AccessToken: "t", AccessSecret: "as"},
		{APIKey: "k", APISecret: "s", AccessToken: "t", AccessSecret: "   "},
	}
	for _, c := range partial {
		assert.False(t, c.Complete(), "%+v", c)
	}
}

func TestNewSelectsMode(t *testing.T) {
	t.Run("three of four selects simulated", func(t *testing.T) {
		p := New(Credentials{APIKey: "k", APISecret: "s", AccessToken: "t"}, Options{})
		assert.Equal(t, ModeSimulated, p.Mode())
		_, ok := p.(*Simulated)
		assert.True(t, ok)
	})

	t.Run("complete bundle selects live", func(t *testing.T) {
		p := New(fullCreds, Options{})
		assert.Equal(t, ModeLive, p.Mode())
		_, ok := p.(*Live)
		assert.True(t, ok)
	})
}

func TestSimulatedPublish(t *testing.T) {
	res := NewSimulated().Publish(context.Background(), "hello")
	assert.True(t, res.Success)
	assert.True(t, res.Simulated)
	assert.True(t, strings.HasPrefix(res.PublishedID, "sim_"))
	assert.Equal(t, "hello", res.Content)
	assert.Empty(t, res.Error)
	assert.False(t, res.PostedAt.IsZero())

	other := NewSimulated().Publish(context.Background(), "hello")
	assert.NotEqual(t, res.PublishedID, other.PublishedID)
}

func TestLivePublish_Success(t *testing.T) {
	var gotText, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")
		var req createRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotText = req.Text
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"1850000000000000001","text":"hi"}}`))
	}))
	defer srv.Close()

	res := NewLive(fullCreds, Options{Endpoint: srv.URL}).Publish(context.Background(), "hi")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "1850000000000000001", res.PublishedID)
	assert.False(t, res.Simulated)
	assert.Equal(t, "hi", gotText)
	assert.True(t, strings.HasPrefix(gotAuth, "OAuth "), "request must be OAuth1 signed")
	assert.Contains(t, gotAuth, `oauth_consumer_key="key"`)
	assert.Contains(t, gotAuth, `oauth_token="token"`)
}

func TestLivePublish_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name: "api rejection",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"title":"Forbidden"}`, http.StatusForbidden)
			},
			wantErr: "HTTP 403",
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
			wantErr: "decode response",
		},
		{
			name: "missing id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"data":{}}`))
			},
			wantErr: "missing post id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			res := NewLive(fullCreds, Options{Endpoint: srv.URL}).Publish(context.Background(), "x")
			assert.False(t, res.Success)
			assert.Empty(t, res.PublishedID)
			assert.Contains(t, res.Error, tt.wantErr)
		})
	}
}

func TestLivePublish_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	res := NewLive(fullCreds, Options{Endpoint: srv.URL, Timeout: 100 * time.Millisecond}).Publish(context.Background(), "x")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLivePublish_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := NewLive(fullCreds, Options{Endpoint: url, Timeout: time.Second}).Publish(context.Background(), "x")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "HTTP request failed")
}

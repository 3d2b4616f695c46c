package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/rs/zerolog/log"

	"postflow/internal/domain"
)

// Live posts through the network API using OAuth 1.0a user context.
type Live struct {
	client   *http.Client
	endpoint string
	timeout  time.Duration
	now      func() time.Time
}

type createRequest struct {
	Text string `json:"text"`
}

type createResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

func NewLive(creds Credentials, opts Options) *Live {
	config := oauth1.NewConfig(creds.APIKey, creds.APISecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)
	client := config.Client(oauth1.NoContext, token)
	client.Timeout = opts.timeout()
	return &Live{
		client:   client,
		endpoint: opts.endpoint(),
		timeout:  opts.timeout(),
		now:      time.Now,
	}
}

func (l *Live) Mode() string { return ModeLive }

func (l *Live) Publish(ctx context.Context, content string) domain.DeliveryResult {
	id, err := l.create(ctx, content)
	if err != nil {
		log.Error().Err(err).Msg("publish failed")
		return domain.DeliveryResult{
			Content:  content,
			PostedAt: l.now().UTC(),
			Error:    err.Error(),
		}
	}
	log.Info().Str("published_id", id).Msg("post published")
	return domain.DeliveryResult{
		Success:     true,
		PublishedID: id,
		Content:     content,
		PostedAt:    l.now().UTC(),
	}
}

func (l *Live) create(ctx context.Context, content string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	body, err := json.Marshal(createRequest{Text: content})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d error: %s", resp.StatusCode, string(respBody))
	}

	var out createResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("response missing post id")
	}
	return out.Data.ID, nil
}

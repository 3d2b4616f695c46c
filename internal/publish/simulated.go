package publish

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"postflow/internal/domain"
)

// Simulated always succeeds without touching the network.
type Simulated struct {
	now func() time.Time
}

func NewSimulated() *Simulated {
	return &Simulated{now: time.Now}
}

func (s *Simulated) Mode() string { return ModeSimulated }

func (s *Simulated) Publish(ctx context.Context, content string) domain.DeliveryResult {
	id := "sim_" + uuid.NewString()
	log.Info().Str("published_id", id).Str("content", truncate(content, 50)).Msg("[SIMULATED] post published")
	return domain.DeliveryResult{
		Success:     true,
		PublishedID: id,
		Content:     content,
		PostedAt:    s.now().UTC(),
		Simulated:   true,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

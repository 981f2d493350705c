package llm

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/forgehq/taskforge/pkg/models"
)

// RateLimitedClient wraps a Client behind a per-provider token bucket,
// so a cheap local backend and an expensive cloud fallback target can
// each carry their own throttle without the engine's loop knowing the
// difference. Blocks until the bucket admits the call or ctx is done.
type RateLimitedClient struct {
	Client  Client
	Limiter *rate.Limiter
}

// NewRateLimitedClient wraps client with a limiter allowing ratePerSecond
// steady-state requests and up to burst in a single instant.
func NewRateLimitedClient(client Client, ratePerSecond float64, burst int) *RateLimitedClient {
	return &RateLimitedClient{
		Client:  client,
		Limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

func (c *RateLimitedClient) Chat(ctx context.Context, req Request) (models.LLMResponse, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return models.LLMResponse{}, err
	}
	return c.Client.Chat(ctx, req)
}

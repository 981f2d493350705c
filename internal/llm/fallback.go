package llm

import (
	"context"
	"sync"

	"github.com/forgehq/taskforge/pkg/models"
)

// FallbackPolicy selects when a FallbackClient retries the cloud client
// after the local client's response.
type FallbackPolicy string

const (
	FallbackNoToolCalls  FallbackPolicy = "no_tool_calls"
	FallbackMalformedArgs FallbackPolicy = "malformed_args"
	FallbackAlways       FallbackPolicy = "always"
	FallbackOther        FallbackPolicy = "other"
)

// triggers reports whether resp should be retried against the cloud
// client under this policy. Unknown/unrecognised policy values never
// trigger — the spec's open question flags this as silently tolerating
// typos rather than erroring, and asks implementers to consider logging
// at config-load time instead. Because such a policy never triggers, no
// FallbackEvent is ever queued under it.
func (p FallbackPolicy) triggers(resp models.LLMResponse) bool {
	switch p {
	case FallbackNoToolCalls:
		return !resp.HasToolCalls()
	case FallbackMalformedArgs:
		for _, tc := range resp.ToolCalls {
			if _, ok := tc.Arguments[models.RawArgsKey]; ok {
				return true
			}
		}
		return false
	case FallbackAlways:
		return true
	default:
		return false
	}
}

// FallbackEvent is queued whenever a cloud retry succeeds and its response
// replaces the local one; a failed cloud call queues nothing. The engine
// drains this queue after each Chat call and emits a cloud_fallback run
// event per entry.
type FallbackEvent struct {
	Reason     string
	LocalModel string
	CloudModel string
}

// FallbackClient wraps a local client and a cloud client behind one
// Policy. It never returns an error the local client didn't already
// return: a policy match retries, it does not replace, error handling.
type FallbackClient struct {
	Local      Client
	Cloud      Client
	CloudModel string
	Policy     FallbackPolicy

	mu     sync.Mutex
	events []FallbackEvent
}

func NewFallbackClient(local, cloud Client, cloudModel string, policy FallbackPolicy) *FallbackClient {
	return &FallbackClient{Local: local, Cloud: cloud, CloudModel: cloudModel, Policy: policy}
}

func (f *FallbackClient) Chat(ctx context.Context, req Request) (models.LLMResponse, error) {
	resp, err := f.Local.Chat(ctx, req)
	if err != nil {
		return resp, err
	}
	if !f.Policy.triggers(resp) {
		return resp, nil
	}

	cloudReq := req
	cloudReq.Model = f.CloudModel
	cloudResp, err := f.Cloud.Chat(ctx, cloudReq)
	if err != nil {
		// The local response is still usable; surface it rather than
		// failing the whole turn because the fallback target was down.
		return resp, nil
	}

	f.mu.Lock()
	f.events = append(f.events, FallbackEvent{Reason: string(f.Policy), LocalModel: req.Model, CloudModel: f.CloudModel})
	f.mu.Unlock()

	return cloudResp, nil
}

// DrainEvents returns and clears queued fallback events. The engine calls
// this once per step, after the Chat call, to emit cloud_fallback events.
func (f *FallbackClient) DrainEvents() []FallbackEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := f.events
	f.events = nil
	return events
}

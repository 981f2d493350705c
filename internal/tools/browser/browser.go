// Package browser implements the browser_navigate/browser_click/
// browser_fill/browser_screenshot executors (C2), wrapping
// playwright-community/playwright-go. A Tool is only registered in a
// pack when both network_allowed and the browser feature flag are set,
// per spec §4.1/§4.3 — one Acquire/Release pair is taken from the pool
// per call, mirroring the teacher's per-Execute lifecycle rather than
// holding an instance across an entire specialist run.
package browser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/forgehq/taskforge/internal/sandbox"
)

// Tool drives a shared Pool on behalf of a single pack. Screenshots are
// written under the Sandbox root; unlike the teacher's inline base64
// return, a screenshot result here is always a workspace-relative path
// the model can open with read_file.
type Tool struct {
	Pool     *Pool
	Sandbox  *sandbox.Policy
	Timeout  time.Duration
}

// New builds a Tool over an already-running Pool.
func New(pool *Pool, policy *sandbox.Policy) *Tool {
	return &Tool{Pool: pool, Sandbox: policy, Timeout: 15 * time.Second}
}

// Navigate loads a URL in a fresh page for the duration of the call.
func (t *Tool) Navigate(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	url, _ := args["url"].(string)
	if strings.TrimSpace(url) == "" {
		return map[string]interface{}{"error": "url is required"}, nil
	}
	return t.withInstance(ctx, func(instance *BrowserInstance) (map[string]interface{}, error) {
		resp, err := instance.Page.Goto(url, playwright.PageGotoOptions{
			Timeout: playwright.Float(float64(t.timeout().Milliseconds())),
		})
		if err != nil {
			return map[string]interface{}{"error": fmt.Sprintf("navigate failed: %v", err)}, nil
		}
		status := 0
		if resp != nil {
			status = resp.Status()
		}
		return map[string]interface{}{"url": instance.Page.URL(), "status": status}, nil
	})
}

// Click clicks the first element matching selector.
func (t *Tool) Click(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	selector, _ := args["selector"].(string)
	if strings.TrimSpace(selector) == "" {
		return map[string]interface{}{"error": "selector is required"}, nil
	}
	return t.withInstance(ctx, func(instance *BrowserInstance) (map[string]interface{}, error) {
		if err := instance.Page.Click(selector, playwright.PageClickOptions{
			Timeout: playwright.Float(float64(t.timeout().Milliseconds())),
		}); err != nil {
			return map[string]interface{}{"error": fmt.Sprintf("click failed: %v", err)}, nil
		}
		return map[string]interface{}{"clicked": selector}, nil
	})
}

// Fill types value into the first element matching selector, clearing it first.
func (t *Tool) Fill(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	selector, _ := args["selector"].(string)
	value, _ := args["value"].(string)
	if strings.TrimSpace(selector) == "" {
		return map[string]interface{}{"error": "selector is required"}, nil
	}
	return t.withInstance(ctx, func(instance *BrowserInstance) (map[string]interface{}, error) {
		if err := instance.Page.Fill(selector, value, playwright.PageFillOptions{
			Timeout: playwright.Float(float64(t.timeout().Milliseconds())),
		}); err != nil {
			return map[string]interface{}{"error": fmt.Sprintf("fill failed: %v", err)}, nil
		}
		return map[string]interface{}{"filled": selector}, nil
	})
}

// Screenshot captures the current page and writes it under the sandbox
// root as filename, returning the workspace-relative path written.
func (t *Tool) Screenshot(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	filename, _ := args["filename"].(string)
	if strings.TrimSpace(filename) == "" {
		filename = fmt.Sprintf("screenshot-%d.png", time.Now().UnixNano())
	}
	if !strings.HasSuffix(filename, ".png") {
		filename += ".png"
	}
	safe, err := t.Sandbox.SafePath(filename)
	if err != nil {
		return map[string]interface{}{"error": err.Error()}, nil
	}

	return t.withInstance(ctx, func(instance *BrowserInstance) (map[string]interface{}, error) {
		if _, err := instance.Page.Screenshot(playwright.PageScreenshotOptions{
			Path: playwright.String(safe),
			Type: playwright.ScreenshotTypePng,
		}); err != nil {
			return map[string]interface{}{"error": fmt.Sprintf("screenshot failed: %v", err)}, nil
		}
		rel, relErr := filepath.Rel(t.Sandbox.Root, safe)
		if relErr != nil {
			rel = filepath.Base(safe)
		}
		return map[string]interface{}{"filename": rel}, nil
	})
}

func (t *Tool) timeout() time.Duration {
	if t.Timeout <= 0 {
		return 15 * time.Second
	}
	return t.Timeout
}

// withInstance acquires an instance from the pool, runs fn, and always
// releases it afterward, even on error — a bug in fn never leaks a
// browser. Pool acquisition failures surface as result dicts, not Go
// errors, per the engine's loop contract.
func (t *Tool) withInstance(ctx context.Context, fn func(*BrowserInstance) (map[string]interface{}, error)) (map[string]interface{}, error) {
	instance, err := t.Pool.Acquire(ctx)
	if err != nil {
		return map[string]interface{}{"error": fmt.Sprintf("failed to acquire browser instance: %v", err)}, nil
	}
	defer t.Pool.Release(instance)
	return fn(instance)
}

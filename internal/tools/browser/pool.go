package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// BrowserInstance pairs a Playwright browser, context, and page for one
// checkout from the Pool.
type BrowserInstance struct {
	Browser playwright.Browser
	Context playwright.BrowserContext
	Page    playwright.Page
	ID      string
}

// Pool bounds how many concurrent Chromium instances a run's browser
// tools may hold open, reused across calls the way the sandbox's
// RunCmd reuses the one workspace root rather than spawning unboundedly.
type Pool struct {
	config    PoolConfig
	instances chan *BrowserInstance
	mu        sync.Mutex
	closed    bool
	pw        *playwright.Playwright
	created   int
}

// PoolConfig configures the pool's resource limits.
type PoolConfig struct {
	MaxInstances int
	Timeout      time.Duration
	Headless     bool
	RemoteURL    string // optional ws(s):// or http(s):// Playwright server
}

// NewPool starts (or connects to) Playwright and returns an empty pool.
func NewPool(config PoolConfig) (*Pool, error) {
	if config.MaxInstances == 0 {
		config.MaxInstances = 3
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	if strings.TrimSpace(config.RemoteURL) == "" {
		if err := playwright.Install(&playwright.RunOptions{Verbose: false}); err != nil {
			return nil, fmt.Errorf("browser: install playwright: %w", err)
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("browser: start playwright: %w", err)
	}

	return &Pool{
		config:    config,
		instances: make(chan *BrowserInstance, config.MaxInstances),
		pw:        pw,
	}, nil
}

// Acquire returns an idle instance or creates one under MaxInstances,
// blocking until either becomes available or ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*BrowserInstance, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("browser: pool is closed")
		}
		select {
		case instance := <-p.instances:
			p.mu.Unlock()
			return instance, nil
		default:
		}
		if p.created < p.config.MaxInstances {
			p.created++
			p.mu.Unlock()
			instance, err := p.createInstance()
			if err != nil {
				p.mu.Lock()
				p.created--
				p.mu.Unlock()
				return nil, err
			}
			return instance, nil
		}
		p.mu.Unlock()

		select {
		case instance := <-p.instances:
			return instance, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns instance to the pool, or tears it down if the pool is
// full or closed.
func (p *Pool) Release(instance *BrowserInstance) {
	if instance == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		instance.cleanup()
		p.created--
		return
	}
	select {
	case p.instances <- instance:
	default:
		instance.cleanup()
		p.created--
	}
}

// Close tears down every pooled instance and stops Playwright.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.instances)
	for instance := range p.instances {
		instance.cleanup()
	}
	p.created = 0
	if p.pw != nil {
		if err := p.pw.Stop(); err != nil {
			return fmt.Errorf("browser: stop playwright: %w", err)
		}
	}
	return nil
}

func (p *Pool) createInstance() (*BrowserInstance, error) {
	if p.pw == nil {
		return nil, fmt.Errorf("browser: playwright not initialized")
	}

	var browser playwright.Browser
	remote := normalizeRemoteURL(p.config.RemoteURL)
	var err error
	if remote != "" {
		browser, err = p.pw.Chromium.Connect(remote)
	} else {
		browser, err = p.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(p.config.Headless),
			Timeout:  playwright.Float(float64(p.config.Timeout.Milliseconds())),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: launch: %w", err)
	}

	browserCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("browser: new context: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		browser.Close()
		return nil, fmt.Errorf("browser: new page: %w", err)
	}
	page.SetDefaultTimeout(float64(p.config.Timeout.Milliseconds()))

	return &BrowserInstance{
		Browser: browser,
		Context: browserCtx,
		Page:    page,
		ID:      fmt.Sprintf("browser-%d", time.Now().UnixNano()),
	}, nil
}

func normalizeRemoteURL(raw string) string {
	value := strings.TrimSpace(raw)
	switch {
	case value == "":
		return ""
	case strings.HasPrefix(value, "http://"):
		return "ws://" + strings.TrimPrefix(value, "http://")
	case strings.HasPrefix(value, "https://"):
		return "wss://" + strings.TrimPrefix(value, "https://")
	default:
		return value
	}
}

func (instance *BrowserInstance) cleanup() {
	if instance.Page != nil {
		instance.Page.Close()
	}
	if instance.Context != nil {
		instance.Context.Close()
	}
	if instance.Browser != nil {
		instance.Browser.Close()
	}
}

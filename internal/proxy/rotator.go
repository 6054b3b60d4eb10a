// internal/proxy/rotator.go
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// counterState is the JSON shape persisted to the counter file so rotation
// position survives across processes.
type counterState struct {
	Next      int       `json:"next"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Rotator is a local forward proxy that spreads page traffic across a pool
// of upstream proxies, advancing through the pool per request. It serializes
// its own counter writes; callers treat it as an already-safe service.
type Rotator struct {
	proxy     *goproxy.ProxyHttpServer
	server    *http.Server
	upstreams []*url.URL

	mu          sync.Mutex
	next        int
	counterFile string

	logger *zap.Logger
}

// NewRotator parses the upstream pool and loads the persisted counter.
func NewRotator(cfg config.ProxyConfig, logger *zap.Logger) (*Rotator, error) {
	if len(cfg.Upstreams) == 0 {
		return nil, fmt.Errorf("proxy rotator requires at least one upstream")
	}

	upstreams := make([]*url.URL, 0, len(cfg.Upstreams))
	for _, raw := range cfg.Upstreams {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream proxy %q: %w", raw, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid upstream proxy %q: scheme and host are required", raw)
		}
		upstreams = append(upstreams, u)
	}

	r := &Rotator{
		proxy:       goproxy.NewProxyHttpServer(),
		upstreams:   upstreams,
		counterFile: cfg.CounterFile,
		logger:      logger.Named("proxy.rotator"),
	}
	r.next = r.loadCounter() % len(upstreams)

	r.proxy.Tr = &http.Transport{
		Proxy:                 r.nextUpstream,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// CONNECT tunnels rotate through the same pool, one pick per tunnel.
	r.proxy.ConnectDial = func(network, addr string) (net.Conn, error) {
		dial := r.proxy.NewConnectDialToProxy(r.pick().String())
		if dial == nil {
			return nil, fmt.Errorf("unsupported upstream proxy scheme")
		}
		return dial(network, addr)
	}

	r.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           r.proxy,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return r, nil
}

// Addr returns the address pages should use as their forward proxy.
func (r *Rotator) Addr() string { return r.server.Addr }

// Start serves the rotator until the context is cancelled.
func (r *Rotator) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.server.Addr)
	if err != nil {
		return fmt.Errorf("proxy rotator failed to listen on %s: %w", r.server.Addr, err)
	}
	r.logger.Info("Proxy rotator listening.",
		zap.String("addr", ln.Addr().String()),
		zap.Int("upstreams", len(r.upstreams)))

	errCh := make(chan error, 1)
	go func() {
		if err := r.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return r.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// nextUpstream is the http.Transport proxy selector: one rotation step per
// outgoing request.
func (r *Rotator) nextUpstream(_ *http.Request) (*url.URL, error) {
	return r.pick(), nil
}

// pick advances the rotation counter and persists it.
func (r *Rotator) pick() *url.URL {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.upstreams[r.next%len(r.upstreams)]
	r.next = (r.next + 1) % len(r.upstreams)
	r.saveCounterLocked()
	return u
}

// loadCounter reads the persisted rotation position; a missing or corrupt
// file starts the rotation from zero.
func (r *Rotator) loadCounter() int {
	if r.counterFile == "" {
		return 0
	}
	raw, err := os.ReadFile(r.counterFile)
	if err != nil {
		return 0
	}
	var state counterState
	if err := json.Unmarshal(raw, &state); err != nil || state.Next < 0 {
		r.logger.Warn("Counter file unreadable, restarting rotation.", zap.String("path", r.counterFile))
		return 0
	}
	return state.Next
}

// saveCounterLocked writes the counter atomically (write temp, rename).
// Callers must hold r.mu.
func (r *Rotator) saveCounterLocked() {
	if r.counterFile == "" {
		return
	}
	state := counterState{Next: r.next, UpdatedAt: time.Now()}
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	dir := filepath.Dir(r.counterFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Warn("Failed to create counter directory.", zap.Error(err))
		return
	}
	tmp, err := os.CreateTemp(dir, ".counter-*")
	if err != nil {
		r.logger.Warn("Failed to persist rotation counter.", zap.Error(err))
		return
	}
	name := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(name)
		return
	}
	tmp.Close()
	if err := os.Rename(name, r.counterFile); err != nil {
		os.Remove(name)
		r.logger.Warn("Failed to persist rotation counter.", zap.Error(err))
	}
}

// Package federation merges tools served by a remote endpoint into the local
// catalogue under the ext. prefix and delegates their calls over HTTP. The
// remote surface is allowlist-controlled: only names the operator listed are
// exposed, and their schemas pass through without local validation.
package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"membria/internal/httpclient"
	"membria/internal/logging"
)

// ToolPrefix marks federated tools in the catalogue and in call dispatch.
const ToolPrefix = "ext."

// DefaultRefreshInterval drives allowlist and discovery reloads when the
// file names no interval.
const DefaultRefreshInterval = 5 * time.Minute

const maxResponseBytes = 4 << 20

// Config is the allowlist file: whether federation runs, where the remote
// endpoint lives, and which remote tool names may be exposed.
type Config struct {
	Enabled        bool     `yaml:"enabled"`
	Endpoint       string   `yaml:"endpoint"`
	Allow          []string `yaml:"allow"`
	RefreshSeconds int      `yaml:"refresh_seconds"`
}

// LoadConfig reads the allowlist file. A missing file means federation is
// off, not an error.
func LoadConfig(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read allowlist: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse allowlist: %w", err)
	}
	return cfg, nil
}

// RemoteTool is one tool definition advertised by the remote endpoint.
type RemoteTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Client discovers allowlisted remote tools and delegates their calls.
type Client struct {
	path   string
	http   *http.Client
	logger logging.Logger

	mu    sync.RWMutex
	cfg   Config
	tools []RemoteTool
}

func NewClient(allowlistPath string, logger logging.Logger) *Client {
	logger = logging.OrNop(logger)
	return &Client{
		path:   allowlistPath,
		http:   httpclient.NewWithBreaker(httpclient.DefaultTimeout, "federation", logger),
		logger: logger,
	}
}

// Enabled reports whether the last loaded allowlist turns federation on.
func (c *Client) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Enabled && c.cfg.Endpoint != ""
}

// Refresh reloads the allowlist and, when federation is on, rediscovers the
// remote tool list. Tools not on the allowlist never surface.
func (c *Client) Refresh(ctx context.Context) error {
	cfg, err := LoadConfig(c.path)
	if err != nil {
		return err
	}
	if !cfg.Enabled || cfg.Endpoint == "" {
		c.mu.Lock()
		c.cfg = cfg
		c.tools = nil
		c.mu.Unlock()
		return nil
	}

	discovered, err := c.discover(ctx, cfg.Endpoint)
	if err != nil {
		return err
	}
	allowed := make(map[string]bool, len(cfg.Allow))
	for _, name := range cfg.Allow {
		allowed[strings.TrimSpace(name)] = true
	}
	kept := make([]RemoteTool, 0, len(discovered))
	for _, t := range discovered {
		if allowed[t.Name] {
			kept = append(kept, t)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Name < kept[j].Name })

	c.mu.Lock()
	c.cfg = cfg
	c.tools = kept
	c.mu.Unlock()
	c.logger.Info("federation: exposing %d of %d remote tools", len(kept), len(discovered))
	return nil
}

// Tools returns the allowlisted remote tools with the ext. prefix applied.
func (c *Client) Tools() []RemoteTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RemoteTool, 0, len(c.tools))
	for _, t := range c.tools {
		t.Name = ToolPrefix + t.Name
		out = append(out, t)
	}
	return out
}

// Handles reports whether a prefixed name maps to a known remote tool.
func (c *Client) Handles(name string) bool {
	_, ok := c.lookup(name)
	return ok
}

// Call delegates one prefixed tool call and returns the remote result JSON.
func (c *Client) Call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	remote, ok := c.lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown federated tool %s", name)
	}
	c.mu.RLock()
	endpoint := c.cfg.Endpoint
	c.mu.RUnlock()
	if endpoint == "" {
		return nil, fmt.Errorf("federation endpoint is not configured")
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	payload, err := json.Marshal(callRequest{Tool: remote, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("encode call: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/call", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build call: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := httpclient.ReadAllLimited(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("call %s: unexpected status %d", name, resp.StatusCode)
	}
	var out callResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", name, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("remote tool %s: %s", name, out.Error)
	}
	return out.Result, nil
}

// Run refreshes on an interval until the context ends. The caller should
// Refresh once before starting the loop so the first tick is not the first
// load.
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(c.refreshInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("federation refresh: %v", err)
			}
		}
	}
}

func (c *Client) refreshInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg.RefreshSeconds > 0 {
		return time.Duration(c.cfg.RefreshSeconds) * time.Second
	}
	return DefaultRefreshInterval
}

func (c *Client) lookup(name string) (string, bool) {
	remote, ok := strings.CutPrefix(name, ToolPrefix)
	if !ok || remote == "" {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.tools {
		if t.Name == remote {
			return remote, true
		}
	}
	return "", false
}

func (c *Client) discover(ctx context.Context, endpoint string) ([]RemoteTool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("build discovery: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discover tools: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := httpclient.ReadAllLimited(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read discovery: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discover tools: unexpected status %d", resp.StatusCode)
	}
	var out struct {
		Tools []RemoteTool `json:"tools"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode discovery: %w", err)
	}
	return out.Tools, nil
}

type callRequest struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

type callResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Package sandbox talks to a Piston compatible code execution service.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	pkgerrors "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"github.com/zeromicro/go-zero/rest/httpc"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	RunTimeoutMs          = 5000
	RunMemoryLimit        = 128000000
	CompileTimeoutMs      = 10000
	CompileMemoryLimit    = 256000000
	defaultCatalogTTL     = 5 * time.Minute
	defaultRequestTimeout = 30 * time.Second
	maxErrorBody          = 4096
)

// Runtime is one entry of the sandbox runtime catalog.
type Runtime struct {
	Language string   `json:"language"`
	Version  string   `json:"version"`
	Aliases  []string `json:"aliases"`
	Runtime  string   `json:"runtime,omitempty"`
}

type file struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

type executeRequest struct {
	Language           string `json:"language"`
	Version            string `json:"version"`
	Files              []file `json:"files"`
	Stdin              string `json:"stdin"`
	RunTimeout         int    `json:"run_timeout"`
	RunMemoryLimit     int64  `json:"run_memory_limit"`
	CompileTimeout     int    `json:"compile_timeout"`
	CompileMemoryLimit int64  `json:"compile_memory_limit"`
}

// Stage is the outcome of a compile or run step.
type Stage struct {
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Code   *int    `json:"code"`
	Signal *string `json:"signal"`
	Output string  `json:"output"`
}

// ExitCode returns the exit code, 0 when none was reported.
func (s *Stage) ExitCode() int {
	if s == nil || s.Code == nil {
		return 0
	}
	return *s.Code
}

// Killed reports whether the process was terminated by a signal.
func (s *Stage) Killed() bool {
	return s != nil && s.Signal != nil && *s.Signal != ""
}

// ExecuteResponse is the sandbox reply for one execution.
type ExecuteResponse struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Run      Stage  `json:"run"`
	Compile  *Stage `json:"compile,omitempty"`
}

// Config configures the Piston client.
type Config struct {
	BaseURL        string        `yaml:"baseUrl"`
	CatalogTTL     time.Duration `yaml:"catalogTtl"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// Piston is the sandbox client. The runtime catalog is cached and refreshed
// at most once at a time; a failed refresh keeps serving the stale catalog.
type Piston struct {
	baseURL string
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	sf        singleflight.Group
	mu        sync.RWMutex
	catalog   []Runtime
	fetchedAt time.Time
}

func NewPiston(cfg Config) *Piston {
	if cfg.CatalogTTL <= 0 {
		cfg.CatalogTTL = defaultCatalogTTL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Piston{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		ttl:     cfg.CatalogTTL,
		timeout: cfg.RequestTimeout,
		now:     time.Now,
	}
}

// Runtimes returns the runtime catalog.
func (p *Piston) Runtimes(ctx context.Context) ([]Runtime, error) {
	p.mu.RLock()
	catalog, fetchedAt := p.catalog, p.fetchedAt
	p.mu.RUnlock()
	if catalog != nil && p.now().Sub(fetchedAt) < p.ttl {
		return catalog, nil
	}

	v, err, _ := p.sf.Do("runtimes", func() (interface{}, error) {
		fetched, err := p.fetchRuntimes(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.catalog, p.fetchedAt = fetched, p.now()
		p.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		if catalog != nil {
			logger.Warn(ctx, "runtime catalog refresh failed, serving stale catalog", zap.Error(err))
			return catalog, nil
		}
		return nil, err
	}
	return v.([]Runtime), nil
}

func (p *Piston) fetchRuntimes(ctx context.Context) ([]Runtime, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/v2/runtimes", nil)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.SandboxUnavailable, "build runtimes request failed")
	}
	resp, err := httpc.DoRequest(req)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.SandboxUnavailable, "fetch runtimes failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, pkgerrors.Newf(pkgerrors.SandboxUnavailable, "Failed to fetch runtimes: %d", resp.StatusCode)
	}
	var runtimes []Runtime
	if err := json.NewDecoder(resp.Body).Decode(&runtimes); err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.SandboxUnavailable, "decode runtimes failed")
	}
	if runtimes == nil {
		runtimes = []Runtime{}
	}
	return runtimes, nil
}

// Resolve maps a player facing language name to a catalog runtime.
func (p *Piston) Resolve(ctx context.Context, language string) (Runtime, error) {
	name := strings.ToLower(strings.TrimSpace(language))
	target, ok := LookupLanguage(name)
	if !ok {
		return Runtime{}, unsupported(language)
	}
	catalog, err := p.Runtimes(ctx)
	if err != nil {
		return Runtime{}, err
	}
	rt, ok := pickRuntime(catalog, name, target)
	if !ok {
		return Runtime{}, unsupported(language)
	}
	return rt, nil
}

func unsupported(language string) error {
	return pkgerrors.Newf(pkgerrors.UnsupportedLanguage, "Unsupported language: %s", language)
}

// Execute runs code once with stdin under the fixed resource limits.
func (p *Piston) Execute(ctx context.Context, language, code, stdin string) (*ExecuteResponse, error) {
	rt, err := p.Resolve(ctx, language)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(executeRequest{
		Language:           rt.Language,
		Version:            rt.Version,
		Files:              []file{{Content: code}},
		Stdin:              stdin,
		RunTimeout:         RunTimeoutMs,
		RunMemoryLimit:     RunMemoryLimit,
		CompileTimeout:     CompileTimeoutMs,
		CompileMemoryLimit: CompileMemoryLimit,
	})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.ExecutionFailed, "encode execute request failed")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v2/execute", bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.SandboxUnavailable, "build execute request failed")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpc.DoRequest(req)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.SandboxUnavailable, "execute request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, pkgerrors.Newf(pkgerrors.SandboxUnavailable, "Piston execution failed: %d - %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var out ExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.SandboxUnavailable, "decode execute response failed")
	}
	return &out, nil
}

// Healthy reports whether the catalog endpoint answers.
func (p *Piston) Healthy(ctx context.Context) bool {
	_, err := p.fetchRuntimes(ctx)
	return err == nil
}

func (p *Piston) String() string {
	return fmt.Sprintf("piston(%s)", p.baseURL)
}

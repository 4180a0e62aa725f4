package assetcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"convert-web/internal/database"
	"convert-web/internal/logging"
	"convert-web/internal/metrics"
	"convert-web/internal/workers"
)

// ErrNotCached is returned by Fetch when the upstream failed and no cached
// copy exists.
var ErrNotCached = errors.New("asset not cached")

// errNoUpstream marks requests made while no upstream is configured.
var errNoUpstream = errors.New("no upstream configured")

// Result labels reported in metrics and in Response.Source.
const (
	SourceNetwork       = "network"
	SourceCacheFallback = "cache_fallback"
	SourceMiss          = "miss"
	SourceBypass        = "bypass"
)

// DefaultMaxCachedBody caps the size of a response body kept in the cache.
// Larger responses are still served, just not stored.
const DefaultMaxCachedBody = 64 << 20

// DefaultAssets is the list installed when none is configured.
var DefaultAssets = []string{
	"./",
	"./index.html",
	"./icon.png",
	"./icon.svg",
	"./manifest.json",
	"./assets/_commonjsHelpers.js",
	"./assets/index.css",
	"./assets/index.js",
	"./assets/index2.js",
	"./assets/index3.js",
	"./assets/index4.js",
	"./assets/index5.js",
	"./assets/jszip.min.js",
	"./assets/worker-lPYB70QI.js",
	"https://unpkg.com/@ffmpeg/core@0.11.0/dist/ffmpeg-core.wasm",
	"https://unpkg.com/@ffmpeg/core@0.11.0/dist/ffmpeg-core.worker.js",
	"https://unpkg.com/@ffmpeg/core@0.11.0/dist/ffmpeg-core.js",
	"https://unpkg.com/@ffmpeg/core@0.12.6/dist/esm/ffmpeg-core.js",
	"https://unpkg.com/@ffmpeg/core@0.12.6/dist/esm/ffmpeg-core.wasm",
	"https://unpkg.com/@ffmpeg/core-mt@0.12.6/dist/esm/ffmpeg-core.worker.js",
}

// DefaultBypassPatterns are URL substrings that are never cached.
var DefaultBypassPatterns = []string{"updatecode", "youtube"}

// hopHeaders are not copied between upstream and client.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Options configures a Manager.
type Options struct {
	// Upstream is the base URL that relative assets and proxied requests
	// resolve against. Empty means offline: only cached copies are served.
	Upstream       string
	Assets         []string
	BypassPatterns []string
	Client         *http.Client
	MaxCachedBody  int64
	// InstallWorkers bounds parallel fetches during Install. 0 uses
	// workers.ForIO.
	InstallWorkers int
}

// Manager answers requests network-first and owns the install step.
type Manager struct {
	db            *database.Database
	upstream      *url.URL
	client        *http.Client
	assets        []string
	bypass        []string
	maxCachedBody int64
	workers       int
	ready         atomic.Bool
}

// Response is what Fetch hands back to the caller. Body must be closed.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
	Source string
}

// NewManager validates opts and returns a Manager backed by db.
func NewManager(db *database.Database, opts Options) (*Manager, error) {
	m := &Manager{
		db:            db,
		client:        opts.Client,
		assets:        opts.Assets,
		bypass:        opts.BypassPatterns,
		maxCachedBody: opts.MaxCachedBody,
		workers:       opts.InstallWorkers,
	}

	if opts.Upstream != "" {
		u, err := url.Parse(opts.Upstream)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream %q: %w", opts.Upstream, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("invalid upstream %q: scheme must be http or https", opts.Upstream)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		m.upstream = u
	}
	if m.client == nil {
		m.client = &http.Client{Timeout: 60 * time.Second}
	}
	if m.assets == nil {
		m.assets = DefaultAssets
	}
	if m.bypass == nil {
		m.bypass = DefaultBypassPatterns
	}
	if m.maxCachedBody <= 0 {
		m.maxCachedBody = DefaultMaxCachedBody
	}
	if m.workers <= 0 {
		m.workers = workers.ForIO(16)
	}
	return m, nil
}

// Ready reports whether an install has completed successfully.
func (m *Manager) Ready() bool {
	return m.ready.Load()
}

// resolve maps an asset entry or a request URI onto the upstream.
func (m *Manager) resolve(ref string) (string, error) {
	target, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if target.IsAbs() {
		return target.String(), nil
	}
	if m.upstream == nil {
		return "", errNoUpstream
	}
	return m.upstream.ResolveReference(target).String(), nil
}

// cacheKey stores upstream URLs by request URI, so a server restarted
// without an upstream still finds what was cached while it had one. Other
// origins keep their absolute URL.
func (m *Manager) cacheKey(target string) string {
	u, err := url.Parse(target)
	if err != nil || m.upstream == nil || !u.IsAbs() {
		return target
	}
	if u.Scheme != m.upstream.Scheme || u.Host != m.upstream.Host {
		return target
	}
	return u.RequestURI()
}

func (m *Manager) bypassed(rawURL string) bool {
	for _, pattern := range m.bypass {
		if pattern != "" && strings.Contains(rawURL, pattern) {
			return true
		}
	}
	return false
}

// Install fetches every configured asset and stores them in a single
// transaction. A failure on any asset leaves the cache untouched.
func (m *Manager) Install(ctx context.Context) error {
	start := time.Now()
	logging.Info("Installing %d assets (workers: %d)", len(m.assets), m.workers)

	fetched := make([]*database.CachedAsset, len(m.assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i, ref := range m.assets {
		i, ref := i, ref
		g.Go(func() error {
			asset, err := m.fetchAsset(gctx, ref)
			if err != nil {
				return fmt.Errorf("install %s: %w", ref, err)
			}
			fetched[i] = asset
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = m.store(ctx, fetched)
	}

	metrics.AssetInstallDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AssetInstallsTotal.WithLabelValues("error").Inc()
		return err
	}

	if setErr := m.db.SetLastInstall(ctx, time.Now()); setErr != nil {
		logging.Warn("Failed to record install time: %v", setErr)
	}
	metrics.AssetInstallsTotal.WithLabelValues("success").Inc()
	m.ready.Store(true)
	logging.Info("Installed %d assets in %v", len(fetched), time.Since(start).Round(time.Millisecond))
	return nil
}

func (m *Manager) store(ctx context.Context, assets []*database.CachedAsset) (err error) {
	batch, err := m.db.BeginBatch(ctx)
	if err != nil {
		return fmt.Errorf("begin install batch: %w", err)
	}
	defer func() {
		err = m.db.EndBatch(batch, err)
	}()

	for _, asset := range assets {
		if err = m.db.PutAssetBatch(ctx, batch, asset); err != nil {
			return fmt.Errorf("store %s: %w", asset.URL, err)
		}
	}
	return nil
}

func (m *Manager) fetchAsset(ctx context.Context, ref string) (*database.CachedAsset, error) {
	target, err := m.resolve(ref)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &database.CachedAsset{
		URL:    m.cacheKey(target),
		Status: resp.StatusCode,
		Header: filterHeader(resp.Header),
		Body:   body,
	}, nil
}

// Fetch answers r network-first. On an upstream success the cached copy is
// replaced (GET only, any status but 206); on an upstream failure the cached copy is returned,
// or ErrNotCached when there is none. Bypassed URLs are network-only.
func (m *Manager) Fetch(r *http.Request) (*Response, error) {
	ctx := r.Context()

	target, err := m.resolve(r.URL.RequestURI())
	if err != nil && !errors.Is(err, errNoUpstream) {
		return nil, err
	}

	if target != "" && m.bypassed(target) {
		resp, err := m.forward(ctx, r, target)
		if err != nil {
			metrics.AssetRequestsTotal.WithLabelValues(SourceMiss).Inc()
			return nil, err
		}
		metrics.AssetRequestsTotal.WithLabelValues(SourceBypass).Inc()
		resp.Source = SourceBypass
		return resp, nil
	}

	var netErr error
	if target == "" {
		netErr = errNoUpstream
	} else {
		resp, err := m.forward(ctx, r, target)
		if err == nil {
			metrics.AssetRequestsTotal.WithLabelValues(SourceNetwork).Inc()
			resp.Source = SourceNetwork
			if r.Method == http.MethodGet && resp.Status != http.StatusPartialContent {
				resp.Body = m.cacheOnRead(ctx, target, resp)
			}
			return resp, nil
		}
		netErr = err
	}

	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		key := r.URL.RequestURI()
		if target != "" {
			key = m.cacheKey(target)
		}
		asset, err := m.db.GetAsset(ctx, key)
		if err == nil {
			logging.Debug("Upstream failed for %s (%v), serving cached copy", key, netErr)
			metrics.AssetRequestsTotal.WithLabelValues(SourceCacheFallback).Inc()
			return &Response{
				Status: asset.Status,
				Header: asset.Header.Clone(),
				Body:   io.NopCloser(bytes.NewReader(asset.Body)),
				Source: SourceCacheFallback,
			}, nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			logging.Warn("Cache lookup failed for %s: %v", key, err)
		}
	}

	metrics.AssetRequestsTotal.WithLabelValues(SourceMiss).Inc()
	return nil, fmt.Errorf("%w: %v", ErrNotCached, netErr)
}

func (m *Manager) forward(ctx context.Context, r *http.Request, target string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}
	req.Header = filterHeader(r.Header)
	req.ContentLength = r.ContentLength

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	return &Response{
		Status: resp.StatusCode,
		Header: filterHeader(resp.Header),
		Body:   resp.Body,
	}, nil
}

// cacheOnRead buffers up to maxCachedBody of the upstream body. When the
// whole body fits it is stored and replayed; otherwise the response is
// passed through uncached.
func (m *Manager) cacheOnRead(ctx context.Context, target string, resp *Response) io.ReadCloser {
	upstream := resp.Body
	buf, err := io.ReadAll(io.LimitReader(upstream, m.maxCachedBody+1))
	if err != nil {
		logging.Debug("Not caching %s: %v", target, err)
		return readCloser{io.MultiReader(bytes.NewReader(buf), upstream), upstream}
	}
	if int64(len(buf)) > m.maxCachedBody {
		logging.Debug("Not caching %s: body exceeds %d bytes", target, m.maxCachedBody)
		return readCloser{io.MultiReader(bytes.NewReader(buf), upstream), upstream}
	}
	upstream.Close()

	asset := &database.CachedAsset{
		URL:    m.cacheKey(target),
		Status: resp.Status,
		Header: resp.Header.Clone(),
		Body:   buf,
	}
	if err := m.db.PutAsset(context.WithoutCancel(ctx), asset); err != nil {
		logging.Warn("Failed to cache %s: %v", target, err)
	}
	return io.NopCloser(bytes.NewReader(buf))
}

type readCloser struct {
	io.Reader
	io.Closer
}

// ServeHTTP writes the Fetch result, or 502 with an empty body when the
// upstream failed and nothing was cached.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := m.Fetch(r)
	if err != nil {
		if !errors.Is(err, ErrNotCached) {
			logging.Warn("Asset fetch failed for %s: %v", r.URL.Path, err)
		}
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.Status)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		logging.Debug("Asset copy to client interrupted for %s: %v", r.URL.Path, err)
	}
}

// Stats reports the number and total size of cached assets.
func (m *Manager) Stats(ctx context.Context) (database.AssetStats, error) {
	return m.db.AssetStats(ctx)
}

func filterHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, name := range hopHeaders {
		out.Del(name)
	}
	return out
}

// Package syncproxy forwards authenticated read requests to the sync service
// (ElectricSQL) and streams its responses back unchanged.
package syncproxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
)

// Headers never forwarded upstream. Hop-by-hop headers are removed by
// httputil.ReverseProxy itself.
var strippedRequestHeaders = []string{"Authorization", "Cookie"}

// Proxy is an http.Handler that relays GET requests under a mount prefix.
type Proxy struct {
	prefix string
	proxy  *httputil.ReverseProxy
	logger *slog.Logger
}

// New returns a proxy to upstream. Requests are expected to arrive under
// prefix, which is removed before forwarding.
func New(upstream, prefix string, logger *slog.Logger) (*Proxy, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse sync upstream: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("sync upstream %q must be an absolute URL", upstream)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Proxy{
		prefix: strings.TrimRight(prefix, "/"),
		logger: logger.With("component", "syncproxy"),
	}
	p.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = joinPath(target.Path, p.upstreamPath(pr.In.URL.Path))
			pr.Out.URL.RawPath = ""
			pr.Out.URL.RawQuery = pr.In.URL.RawQuery
			pr.Out.Host = target.Host
			for _, h := range strippedRequestHeaders {
				pr.Out.Header.Del(h)
			}
		},
		FlushInterval: -1,
		ErrorHandler:  p.handleError,
	}
	return p, nil
}

func (p *Proxy) upstreamPath(path string) string {
	trimmed := strings.TrimPrefix(path, p.prefix)
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

func joinPath(base, path string) string {
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(`{"detail":"Method not allowed","code":"METHOD_NOT_ALLOWED"}`))
		return
	}
	p.proxy.ServeHTTP(w, r)
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		// client went away; nothing left to write
		p.logger.Debug("sync request cancelled", "path", r.URL.Path)
		return
	}
	p.logger.Error("sync upstream failed", "path", r.URL.Path, "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte(`{"detail":"Sync service unavailable","code":"BAD_GATEWAY"}`))
}

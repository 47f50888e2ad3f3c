// Package proxy is a filtering HTTP proxy that rewrites HTML pages in
// flight: matched pages get the labor banner or a redirect to the block
// page, ad slots get strike cards, and known ad-network hosts are refused.
package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elazarl/goproxy"

	"github.com/use-agent/picketline/adnet"
	"github.com/use-agent/picketline/controller"
	"github.com/use-agent/picketline/engine"
	"github.com/use-agent/picketline/metrics"
	"github.com/use-agent/picketline/models"
)

var (
	// goproxy keeps its CA in package globals, so MITM is configured once
	// per process.
	mitmInitOnce  sync.Once
	mitmInitError error
	isMITMEnabled bool
)

// Rewriter rewrites one HTML page.
type Rewriter interface {
	Rewrite(ctx context.Context, in controller.RewriteInput) (*controller.RewriteResult, error)
}

// Options configures the proxy.
type Options struct {
	// CACert and CAKey are PEM-encoded. Both set enables HTTPS interception;
	// otherwise CONNECT requests are tunneled untouched.
	CACert []byte
	CAKey  []byte

	// BlockAds refuses requests to ad-network hosts with a 403.
	BlockAds bool

	// BypassTTL is how long a "proceed anyway" click unblocks a host.
	BypassTTL time.Duration

	// MaxBody is the largest HTML body that is rewritten.
	MaxBody int64
}

// Server is the filtering proxy. It implements http.Handler.
type Server struct {
	proxy  *goproxy.ProxyHttpServer
	rw     Rewriter
	ads    *adnet.Registry
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	bypass map[string]time.Time
	now    func() time.Time
}

// New builds the proxy. ads may be nil, in which case no host is refused.
func New(rw Rewriter, ads *adnet.Registry, opts Options, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BypassTTL <= 0 {
		opts.BypassTTL = 60 * time.Second
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = 5 << 20
	}

	p := goproxy.NewProxyHttpServer()
	p.Tr = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
	}

	if len(opts.CACert) > 0 && len(opts.CAKey) > 0 {
		if err := configureMITM(opts.CACert, opts.CAKey); err != nil {
			return nil, fmt.Errorf("configure MITM: %w", err)
		}
		logger.Info("proxy HTTPS interception enabled")
	} else {
		logger.Warn("proxy CA certificate or key missing, HTTPS is tunneled without rewriting")
	}

	s := &Server{
		proxy:  p,
		rw:     rw,
		ads:    ads,
		opts:   opts,
		logger: logger,
		bypass: make(map[string]time.Time),
		now:    time.Now,
	}

	p.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		if isMITMEnabled {
			return goproxy.MitmConnect, host
		}
		return goproxy.OkConnect, host
	}))
	p.OnRequest().DoFunc(s.onRequest)
	p.OnResponse().DoFunc(s.onResponse)
	return s, nil
}

// ServeHTTP serves proxy requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.proxy.ServeHTTP(w, r)
}

func (s *Server) onRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	// Bodies are rewritten as text, so ask upstream for identity encoding.
	r.Header.Del("Accept-Encoding")

	host := strings.ToLower(r.URL.Hostname())
	if s.opts.BlockAds && s.ads != nil && s.ads.Rules().IsAdHost(host) {
		s.logger.Debug("ad network request refused", "host", host)
		return r, goproxy.NewResponse(r, goproxy.ContentTypeText, http.StatusForbidden, "Blocked by Picketline")
	}

	q := r.URL.Query()
	if q.Has(controller.BypassParam) {
		q.Del(controller.BypassParam)
		r.URL.RawQuery = q.Encode()
		s.grantBypass(host)
		s.logger.Info("block page bypass granted", "host", host, "ttl", s.opts.BypassTTL.String())
	}
	return r, nil
}

func (s *Server) onResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil {
		return upstreamError(ctx)
	}
	req := ctx.Req
	if req == nil || resp.StatusCode != http.StatusOK || !engine.IsHTMLContentType(resp.Header.Get("Content-Type")) {
		return resp
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && !strings.EqualFold(enc, "identity") {
		metrics.ProxyRewrites.WithLabelValues("skipped").Inc()
		return resp
	}
	if resp.ContentLength > s.opts.MaxBody {
		metrics.ProxyRewrites.WithLabelValues("skipped").Inc()
		return resp
	}

	orig := resp.Body
	body, err := io.ReadAll(io.LimitReader(orig, s.opts.MaxBody+1))
	if err != nil {
		orig.Close()
		s.logger.Warn("proxy failed to read response body", "url", req.URL.String(), "error", err)
		return goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusBadGateway, "Proxy error: failed to read upstream response")
	}
	if int64(len(body)) > s.opts.MaxBody {
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), orig), orig}
		metrics.ProxyRewrites.WithLabelValues("skipped").Inc()
		return resp
	}
	orig.Close()

	host := strings.ToLower(req.URL.Hostname())
	in := controller.RewriteInput{URL: req.URL.String(), HTML: string(body)}
	bypassed := s.bypassed(host)
	if bypassed {
		in.Mode = models.ModeBanner
	}

	res, err := s.rw.Rewrite(req.Context(), in)
	if err != nil {
		s.logger.Warn("proxy rewrite failed", "url", in.URL, "error", err)
		metrics.ProxyRewrites.WithLabelValues("error").Inc()
		setBody(resp, body)
		return resp
	}

	if res.Blocked {
		metrics.ProxyRewrites.WithLabelValues("blocked").Inc()
		s.logger.Info("page blocked", "url", in.URL, "action_id", res.Action.ID)
		redirect := goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusFound, "")
		redirect.Header.Set("Location", res.RedirectURL)
		redirect.Header.Set("Cache-Control", "no-store")
		return redirect
	}

	outcome := "rewritten"
	if bypassed {
		outcome = "bypassed"
	}
	metrics.ProxyRewrites.WithLabelValues(outcome).Inc()
	setBody(resp, []byte(res.HTML))
	return resp
}

func setBody(resp *http.Response, body []byte) {
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", fmt.Sprint(len(body)))
	resp.TransferEncoding = nil
}

func upstreamError(ctx *goproxy.ProxyCtx) *http.Response {
	if ctx == nil || ctx.Req == nil {
		return nil
	}
	status := http.StatusBadGateway
	var netErr net.Error
	if errors.As(ctx.Error, &netErr) && netErr.Timeout() {
		status = http.StatusGatewayTimeout
	}
	msg := "unknown error"
	if ctx.Error != nil {
		msg = ctx.Error.Error()
	}
	return goproxy.NewResponse(ctx.Req, goproxy.ContentTypeText, status, "Proxy error: upstream connection failed: "+msg)
}

func (s *Server) grantBypass(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for h, exp := range s.bypass {
		if now.After(exp) {
			delete(s.bypass, h)
		}
	}
	s.bypass[host] = now.Add(s.opts.BypassTTL)
}

func (s *Server) bypassed(host string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.bypass[host]
	if !ok {
		return false
	}
	if s.now().After(exp) {
		delete(s.bypass, host)
		return false
	}
	return true
}

// configureMITM installs the CA used to sign intercepted TLS connections.
func configureMITM(caCert, caKey []byte) error {
	mitmInitOnce.Do(func() {
		ca, err := tls.X509KeyPair(caCert, caKey)
		if err != nil {
			mitmInitError = fmt.Errorf("invalid CA certificate/key pair: %w", err)
			return
		}
		if len(ca.Certificate) == 0 {
			mitmInitError = errors.New("CA certificate chain is empty")
			return
		}
		if ca.Leaf, err = x509.ParseCertificate(ca.Certificate[0]); err != nil {
			mitmInitError = fmt.Errorf("parse CA certificate: %w", err)
			return
		}

		goproxy.GoproxyCa = ca
		base := goproxy.TLSConfigFromCA(&ca)
		tlsConfig := func(host string, ctx *goproxy.ProxyCtx) (*tls.Config, error) {
			cfg, err := base(host, ctx)
			if err != nil {
				return nil, err
			}
			if cfg.MinVersion < tls.VersionTLS12 {
				cfg.MinVersion = tls.VersionTLS12
			}
			return cfg, nil
		}
		goproxy.OkConnect = &goproxy.ConnectAction{Action: goproxy.ConnectAccept, TLSConfig: tlsConfig}
		goproxy.MitmConnect = &goproxy.ConnectAction{Action: goproxy.ConnectMitm, TLSConfig: tlsConfig}
		goproxy.HTTPMitmConnect = &goproxy.ConnectAction{Action: goproxy.ConnectHTTPMitm, TLSConfig: tlsConfig}
		goproxy.RejectConnect = &goproxy.ConnectAction{Action: goproxy.ConnectReject, TLSConfig: tlsConfig}
		isMITMEnabled = true
	})
	return mitmInitError
}

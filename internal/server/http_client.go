package server

import (
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/offline-hub/offline-hub/internal/config"
)

const (
	defaultUpstreamTimeout = 30 * time.Second
	defaultProbeTimeout    = 5 * time.Second
	defaultSubmitTimeout   = 15 * time.Second
)

// sharedTransport 是代理回源与订单提交共用的连接池模板。
var sharedTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          64,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Clients 按用途拆分出站 http.Client：代理回源、连通性探测与订单重新提交。
type Clients struct {
	Upstream *http.Client
	Probe    *http.Client
	Orders   *http.Client
}

// NewClients 依据配置中的各项超时构造出站客户端。
func NewClients(cfg *config.Config) Clients {
	transport := sharedTransport.Clone()
	return Clients{
		Upstream: &http.Client{
			Timeout:   pickTimeout(cfg, func(c *config.Config) time.Duration { return c.Global.UpstreamTimeout.DurationValue() }, defaultUpstreamTimeout),
			Transport: transport,
		},
		Probe: newProbeClient(pickTimeout(cfg, func(c *config.Config) time.Duration { return c.Global.ProbeTimeout.DurationValue() }, defaultProbeTimeout)),
		Orders: &http.Client{
			Timeout:   pickTimeout(cfg, func(c *config.Config) time.Duration { return c.Sync.SubmitTimeout.DurationValue() }, defaultSubmitTimeout),
			Transport: transport,
		},
	}
}

// newProbeClient 每次探测新建连接，并且停在第一个响应上（包括重定向）。
func newProbeClient(timeout time.Duration) *http.Client {
	transport := sharedTransport.Clone()
	transport.DisableKeepAlives = true
	transport.ForceAttemptHTTP2 = false
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func pickTimeout(cfg *config.Config, get func(*config.Config) time.Duration, fallback time.Duration) time.Duration {
	if cfg == nil {
		return fallback
	}
	if d := get(cfg); d > 0 {
		return d
	}
	return fallback
}

// hopByHopHeaders 是 RFC 7230 规定代理不得转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {},
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，忽略 hop-by-hop 字段以及 Connection 中点名的字段。
func CopyHeaders(dst, src http.Header) {
	named := connectionTokens(src)
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		if _, ok := named[textproto.CanonicalMIMEHeaderKey(key)]; ok {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// ForwardableHeaders 返回 src 去掉 hop-by-hop 字段后的副本。
func ForwardableHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	CopyHeaders(dst, src)
	return dst
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

func connectionTokens(h http.Header) map[string]struct{} {
	values := h.Values("Connection")
	if len(values) == 0 {
		return nil
	}
	named := make(map[string]struct{})
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(token); token != "" {
				named[textproto.CanonicalMIMEHeaderKey(token)] = struct{}{}
			}
		}
	}
	return named
}

package server

import (
	"errors"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/offline-hub/offline-hub/internal/config"
)

// CDNMountPrefix 是 CDN 资源在本地代理上的挂载前缀：/-/cdn/<host>/<path>。
const CDNMountPrefix = "/-/cdn/"

// OriginKind 区分请求最终指向店面源站还是白名单 CDN。
type OriginKind string

const (
	OriginUpstream OriginKind = "upstream"
	OriginCDN      OriginKind = "cdn"
)

// Target 描述一次入站请求解析出的出站地址。
type Target struct {
	Kind OriginKind
	URL  *url.URL
}

// OriginRegistry 将本地请求路径映射到店面源站或 CDN 源，并提供反向改写能力。
type OriginRegistry struct {
	upstream *url.URL
	cdn      map[string]struct{}
	ordered  []string
}

// NewOriginRegistry 根据配置构建映射表。调用方应在启动阶段创建一次并复用。
func NewOriginRegistry(cfg *config.Config) (*OriginRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	upstream := cfg.UpstreamURL()
	if upstream == nil || upstream.Host == "" {
		return nil, errors.New("upstream is invalid")
	}
	registry := &OriginRegistry{
		upstream: upstream,
		cdn:      make(map[string]struct{}, len(cfg.Global.CDNOrigins)),
	}
	for _, origin := range cfg.Global.CDNOrigins {
		host := strings.ToLower(strings.TrimSpace(origin))
		if host == "" {
			continue
		}
		if _, exists := registry.cdn[host]; exists {
			continue
		}
		registry.cdn[host] = struct{}{}
		registry.ordered = append(registry.ordered, host)
	}
	sort.Strings(registry.ordered)
	return registry, nil
}

// Upstream 返回店面源站地址副本。
func (r *OriginRegistry) Upstream() *url.URL {
	clone := *r.upstream
	return &clone
}

// CDNOrigins 返回排序后的 CDN 白名单。
func (r *OriginRegistry) CDNOrigins() []string {
	return append([]string(nil), r.ordered...)
}

// IsCDN 判断 host 是否在 CDN 白名单中。
func (r *OriginRegistry) IsCDN(host string) bool {
	_, ok := r.cdn[strings.ToLower(host)]
	return ok
}

// Resolve 将请求路径与查询串解析为出站 Target；未知 CDN 主机返回 false。
func (r *OriginRegistry) Resolve(rawPath, rawQuery string) (*Target, bool) {
	if rawPath == "" {
		rawPath = "/"
	}
	if strings.HasPrefix(rawPath, CDNMountPrefix) {
		rest := strings.TrimPrefix(rawPath, CDNMountPrefix)
		host, remainder, _ := strings.Cut(rest, "/")
		host = strings.ToLower(host)
		if !r.IsCDN(host) {
			return nil, false
		}
		return &Target{
			Kind: OriginCDN,
			URL: &url.URL{
				Scheme:   "https",
				Host:     host,
				Path:     "/" + remainder,
				RawQuery: rawQuery,
			},
		}, true
	}

	clean := path.Clean("/" + rawPath)
	if strings.HasSuffix(rawPath, "/") && clean != "/" {
		clean += "/"
	}
	ref := &url.URL{Path: clean, RawQuery: rawQuery}
	return &Target{Kind: OriginUpstream, URL: r.upstream.ResolveReference(ref)}, true
}

// LocalPath 将指向白名单 CDN 的绝对地址改写为本地挂载路径；其他地址原样返回 false。
func (r *OriginRegistry) LocalPath(raw string) (string, bool) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw, false
	}
	if parsed.Host == "" || (parsed.Scheme != "" && parsed.Scheme != "https" && parsed.Scheme != "http") {
		return raw, false
	}
	host := strings.ToLower(parsed.Host)
	if !r.IsCDN(host) {
		return raw, false
	}
	local := CDNMountPrefix + host + parsed.EscapedPath()
	if parsed.EscapedPath() == "" {
		local += "/"
	}
	if parsed.RawQuery != "" {
		local += "?" + parsed.RawQuery
	}
	return local, true
}

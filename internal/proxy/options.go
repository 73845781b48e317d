package proxy

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/offline-hub/offline-hub/internal/config"
)

// Options 是注入到 Worker 的缓存与回退配置，取代全局常量。
type Options struct {
	Generation            string
	Upstream              *url.URL
	InstallList           []string
	CDNOrigins            []string
	StaticPrefix          string
	CacheableDestinations []string
	OfflinePath           string
	FallbackPrefixes      []string
	OfflineMessage        string
	SyncTag               string
}

// OptionsFromConfig 根据已校验的配置生成 Worker 选项。
func OptionsFromConfig(cfg *config.Config) Options {
	g := cfg.Global
	return Options{
		Generation:            g.CacheGeneration,
		Upstream:              cfg.UpstreamURL(),
		InstallList:           cfg.InstallList(),
		CDNOrigins:            append([]string(nil), g.CDNOrigins...),
		StaticPrefix:          g.StaticPrefix,
		CacheableDestinations: append([]string(nil), g.CacheableDestinations...),
		OfflinePath:           g.OfflinePath,
		FallbackPrefixes:      append([]string(nil), g.FallbackPrefixes...),
		OfflineMessage:        g.OfflineMessage,
		SyncTag:               cfg.Sync.Tag,
	}
}

// IsCacheable 判断一次成功响应是否值得写入缓存：CDN 源、静态资源前缀或资源类型命中其一即可。
func (o Options) IsCacheable(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	host := strings.ToLower(req.URL.Hostname())
	for _, origin := range o.CDNOrigins {
		if host == origin {
			return true
		}
	}
	if o.StaticPrefix != "" && strings.HasPrefix(req.URL.Path, o.StaticPrefix) {
		return true
	}
	dest := destination(req)
	for _, d := range o.CacheableDestinations {
		if dest != "" && dest == d {
			return true
		}
	}
	return false
}

// IsNavigation 判断请求是否为页面导航。
func IsNavigation(req *http.Request) bool {
	return destination(req) == "document" || strings.EqualFold(req.Header.Get("Sec-Fetch-Mode"), "navigate")
}

func (o Options) wantsJSONFallback(req *http.Request) bool {
	for _, prefix := range o.FallbackPrefixes {
		if strings.HasPrefix(req.URL.Path, prefix) {
			return true
		}
	}
	return false
}

func (o Options) offlinePageURL() string {
	if o.Upstream == nil {
		return o.OfflinePath
	}
	return o.Upstream.ResolveReference(&url.URL{Path: o.OfflinePath}).String()
}

func destination(req *http.Request) string {
	return strings.ToLower(strings.TrimSpace(req.Header.Get("Sec-Fetch-Dest")))
}

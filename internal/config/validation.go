package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if err := validateUpstream(g.Upstream); err != nil {
		return fmt.Errorf("Global.Upstream: %w", err)
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.ProbeInterval.DurationValue() <= 0 {
		return newFieldError("Global.ProbeInterval", "必须大于 0")
	}
	if g.ProbeTimeout.DurationValue() < 0 {
		return newFieldError("Global.ProbeTimeout", "不能为负数")
	}
	if g.NotificationTTL.DurationValue() <= 0 {
		return newFieldError("Global.NotificationTTL", "必须大于 0")
	}
	if g.CacheGeneration == "" {
		return newFieldError("Global.CacheGeneration", "不能为空")
	}
	if strings.ContainsAny(g.CacheGeneration, `/\ `) {
		return newFieldError("Global.CacheGeneration", "不允许包含路径分隔符或空格")
	}
	for i, item := range g.Precache {
		if err := validatePath(item); err != nil {
			return fmt.Errorf("%s: %w", listField("Global.Precache", i), err)
		}
	}
	for i, origin := range g.CDNOrigins {
		if err := validateOrigin(origin); err != nil {
			return fmt.Errorf("%s: %w", listField("Global.CDNOrigins", i), err)
		}
	}
	if err := validatePath(g.StaticPrefix); err != nil {
		return fmt.Errorf("Global.StaticPrefix: %w", err)
	}
	if err := validatePath(g.OfflinePath); err != nil {
		return fmt.Errorf("Global.OfflinePath: %w", err)
	}
	for i, prefix := range g.FallbackPrefixes {
		if err := validatePath(prefix); err != nil {
			return fmt.Errorf("%s: %w", listField("Global.FallbackPrefixes", i), err)
		}
	}
	if err := validatePath(g.ProbePath); err != nil {
		return fmt.Errorf("Global.ProbePath: %w", err)
	}

	s := c.Sync
	switch s.ClearPolicy {
	case ClearAlways, ClearAcknowledged:
	default:
		return newFieldError("Sync.ClearPolicy", "仅支持 always/acknowledged")
	}
	if err := validatePath(s.OrderEndpoint); err != nil {
		return fmt.Errorf("Sync.OrderEndpoint: %w", err)
	}
	if strings.TrimSpace(s.QueueSlot) == "" {
		return newFieldError("Sync.QueueSlot", "不能为空")
	}
	if strings.TrimSpace(s.Tag) == "" {
		return newFieldError("Sync.Tag", "不能为空")
	}
	if s.SubmitTimeout.DurationValue() < 0 {
		return newFieldError("Sync.SubmitTimeout", "不能为负数")
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少 Upstream")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("无效的 Upstream: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https Upstream: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("Upstream 缺少 Host: %s", raw)
	}
	return nil
}

func validateOrigin(origin string) error {
	if origin == "" {
		return errors.New("CDN 源不能为空")
	}
	if strings.Contains(origin, "://") {
		return errors.New("CDN 源只需填写主机名，不包含协议")
	}
	if strings.ContainsAny(origin, "/ ") {
		return errors.New("CDN 源不允许包含路径或空格")
	}
	return nil
}

func validatePath(p string) error {
	if p == "" {
		return errors.New("不能为空")
	}
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("必须以 / 开头: %s", p)
	}
	return nil
}

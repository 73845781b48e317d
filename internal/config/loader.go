package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

var (
	defaultPrecache = []string{
		"/",
		"/static/kakanin/style.css",
		"/static/kakanin/img/logo.png",
		"/static/kakanin/img/logo1.png",
		"/static/kakanin/img/kakanin.png",
		"/shop/",
		"/about/",
		"/contact/",
	}
	defaultCDNOrigins = []string{
		"cdn.tailwindcss.com",
		"cdnjs.cloudflare.com",
		"cdn.jsdelivr.net",
	}
	defaultDestinations     = []string{"style", "script", "font"}
	defaultFallbackPrefixes = []string{"/api/", "/shop/"}
)

const defaultOfflineMessage = "You are currently offline. Some features may be limited."

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applySyncDefaults(&cfg.Sync)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析存储目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage
	if cfg.Sync.QueuePath == "" {
		cfg.Sync.QueuePath = filepath.Join(absStorage, "localstore.db")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("CacheGeneration", "storefront-v3")
	v.SetDefault("Precache", defaultPrecache)
	v.SetDefault("CDNOrigins", defaultCDNOrigins)
	v.SetDefault("StaticPrefix", "/static/")
	v.SetDefault("CacheableDestinations", defaultDestinations)
	v.SetDefault("OfflinePath", "/offline/")
	v.SetDefault("FallbackPrefixes", defaultFallbackPrefixes)
	v.SetDefault("OfflineMessage", defaultOfflineMessage)
	v.SetDefault("ProbePath", "/")
	v.SetDefault("ProbeInterval", "15s")
	v.SetDefault("ProbeTimeout", "5s")
	v.SetDefault("NotificationTTL", "5s")
	v.SetDefault("MetricsEnabled", true)
	v.SetDefault("Sync.OrderEndpoint", "/api/orders/")
	v.SetDefault("Sync.QueueSlot", "offline_orders")
	v.SetDefault("Sync.Tag", "background-sync")
	v.SetDefault("Sync.ClearPolicy", string(ClearAlways))
	v.SetDefault("Sync.SubmitTimeout", "15s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.ProbeInterval.DurationValue() == 0 {
		g.ProbeInterval = Duration(15 * time.Second)
	}
	if g.ProbeTimeout.DurationValue() == 0 {
		g.ProbeTimeout = Duration(5 * time.Second)
	}
	if g.NotificationTTL.DurationValue() == 0 {
		g.NotificationTTL = Duration(5 * time.Second)
	}
	g.CacheGeneration = strings.TrimSpace(g.CacheGeneration)
	for i, origin := range g.CDNOrigins {
		g.CDNOrigins[i] = strings.ToLower(strings.TrimSpace(origin))
	}
	for i, dest := range g.CacheableDestinations {
		g.CacheableDestinations[i] = strings.ToLower(strings.TrimSpace(dest))
	}
	if g.OfflineMessage == "" {
		g.OfflineMessage = defaultOfflineMessage
	}
}

func applySyncDefaults(s *SyncConfig) {
	if s.ClearPolicy == "" {
		s.ClearPolicy = ClearAlways
	}
	s.ClearPolicy = ClearPolicy(strings.ToLower(strings.TrimSpace(string(s.ClearPolicy))))
	if s.OrderEndpoint == "" {
		s.OrderEndpoint = "/api/orders/"
	}
	if s.QueueSlot == "" {
		s.QueueSlot = "offline_orders"
	}
	if s.Tag == "" {
		s.Tag = "background-sync"
	}
	if s.SubmitTimeout.DurationValue() == 0 {
		s.SubmitTimeout = Duration(15 * time.Second)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

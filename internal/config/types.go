package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// ClearPolicy 决定重新提交离线订单后如何清理本地队列。
type ClearPolicy string

const (
	// ClearAlways 无论单笔提交是否成功都清空整个队列（保持原有行为，存在丢单风险）。
	ClearAlways ClearPolicy = "always"
	// ClearAcknowledged 仅移除上游确认成功的订单，失败的订单留待下次同步。
	ClearAcknowledged ClearPolicy = "acknowledged"
)

// GlobalConfig 描述全局运行时行为：监听端口、日志、缓存代数与回退策略。
type GlobalConfig struct {
	ListenPort            int      `mapstructure:"ListenPort"`
	LogLevel              string   `mapstructure:"LogLevel"`
	LogFilePath           string   `mapstructure:"LogFilePath"`
	LogMaxSize            int      `mapstructure:"LogMaxSize"`
	LogMaxBackups         int      `mapstructure:"LogMaxBackups"`
	LogCompress           bool     `mapstructure:"LogCompress"`
	StoragePath           string   `mapstructure:"StoragePath"`
	Upstream              string   `mapstructure:"Upstream"`
	UpstreamTimeout       Duration `mapstructure:"UpstreamTimeout"`
	CacheGeneration       string   `mapstructure:"CacheGeneration"`
	Precache              []string `mapstructure:"Precache"`
	CDNOrigins            []string `mapstructure:"CDNOrigins"`
	StaticPrefix          string   `mapstructure:"StaticPrefix"`
	CacheableDestinations []string `mapstructure:"CacheableDestinations"`
	OfflinePath           string   `mapstructure:"OfflinePath"`
	FallbackPrefixes      []string `mapstructure:"FallbackPrefixes"`
	OfflineMessage        string   `mapstructure:"OfflineMessage"`
	ProbePath             string   `mapstructure:"ProbePath"`
	ProbeInterval         Duration `mapstructure:"ProbeInterval"`
	ProbeTimeout          Duration `mapstructure:"ProbeTimeout"`
	NotificationTTL       Duration `mapstructure:"NotificationTTL"`
	MetricsEnabled        bool     `mapstructure:"MetricsEnabled"`
}

// SyncConfig 描述离线订单队列与重新提交行为。
type SyncConfig struct {
	OrderEndpoint string      `mapstructure:"OrderEndpoint"`
	QueueSlot     string      `mapstructure:"QueueSlot"`
	Tag           string      `mapstructure:"Tag"`
	ClearPolicy   ClearPolicy `mapstructure:"ClearPolicy"`
	QueuePath     string      `mapstructure:"QueuePath"`
	SubmitTimeout Duration    `mapstructure:"SubmitTimeout"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Sync   SyncConfig   `mapstructure:"Sync"`
}

// UpstreamURL 返回解析后的店面源站地址（假定 Validate 已经通过）。
func (c *Config) UpstreamURL() *url.URL {
	parsed, err := url.Parse(c.Global.Upstream)
	if err != nil {
		return nil
	}
	return parsed
}

// OrderEndpointURL 将订单接口路径解析为基于 Upstream 的绝对地址。
func (c *Config) OrderEndpointURL() string {
	base := c.UpstreamURL()
	if base == nil {
		return c.Sync.OrderEndpoint
	}
	ref, err := url.Parse(c.Sync.OrderEndpoint)
	if err != nil {
		return c.Sync.OrderEndpoint
	}
	return base.ResolveReference(ref).String()
}

// InstallList 返回安装阶段需要预缓存的路径，OfflinePath 总是包含在内，
// 否则导航失败时没有可替换的离线页面。
func (c *Config) InstallList() []string {
	seen := make(map[string]struct{}, len(c.Global.Precache)+1)
	list := make([]string, 0, len(c.Global.Precache)+1)
	for _, item := range append(append([]string(nil), c.Global.Precache...), c.Global.OfflinePath) {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		list = append(list, item)
	}
	return list
}

// CacheDir 返回响应缓存所在目录。
func (c *Config) CacheDir() string {
	return filepath.Join(c.Global.StoragePath, "cache")
}

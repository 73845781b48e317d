package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := fixturePath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ProbeInterval.DurationValue() != 15*time.Second {
		t.Fatalf("ProbeInterval 应该自动填充默认值，得到 %s", cfg.Global.ProbeInterval.DurationValue())
	}
	if cfg.Global.NotificationTTL.DurationValue() != 5*time.Second {
		t.Fatalf("NotificationTTL 应解析为 5s")
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应转换为绝对路径: %s", cfg.Global.StoragePath)
	}
	if cfg.Sync.QueuePath != filepath.Join(cfg.Global.StoragePath, "localstore.db") {
		t.Fatalf("QueuePath 默认应位于 StoragePath 下，得到 %s", cfg.Sync.QueuePath)
	}
	if len(cfg.Global.CDNOrigins) != 3 {
		t.Fatalf("未配置 CDNOrigins 时应使用默认列表: %v", cfg.Global.CDNOrigins)
	}
	if cfg.Sync.Tag != "background-sync" || cfg.Sync.QueueSlot != "offline_orders" {
		t.Fatalf("Sync 默认值不正确: %+v", cfg.Sync)
	}
	if cfg.Sync.ClearPolicy != ClearAlways {
		t.Fatalf("ClearPolicy 默认应为 always")
	}
	if cfg.Global.ProbeTimeout.DurationValue() != 5*time.Second || cfg.Sync.SubmitTimeout.DurationValue() != 15*time.Second {
		t.Fatalf("探测/提交超时默认值不正确: %s %s", cfg.Global.ProbeTimeout.DurationValue(), cfg.Sync.SubmitTimeout.DurationValue())
	}
}

func TestLoadNormalizesCustomValues(t *testing.T) {
	cfg, err := Load(fixturePath(t, "custom.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.CDNOrigins[0] != "cdn.example.com" {
		t.Fatalf("CDN 源应转为小写，得到 %s", cfg.Global.CDNOrigins[0])
	}
	if cfg.Sync.ClearPolicy != ClearAcknowledged {
		t.Fatalf("ClearPolicy 应规范化为 acknowledged，得到 %s", cfg.Sync.ClearPolicy)
	}
	if cfg.Sync.QueueSlot != "pending_orders" {
		t.Fatalf("QueueSlot 覆盖未生效")
	}
	if cfg.Global.ProbeInterval.DurationValue() != time.Minute {
		t.Fatalf("ProbeInterval 应为 1m")
	}
}

func TestValidateRejectsBadUpstream(t *testing.T) {
	cfgPath := fixturePath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("缺少 Upstream 的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateClearPolicy(t *testing.T) {
	testCases := []struct {
		name      string
		policy    ClearPolicy
		shouldErr bool
	}{
		{"always ok", ClearAlways, false},
		{"acknowledged ok", ClearAcknowledged, false},
		{"unknown", "sometimes", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Sync.ClearPolicy = tc.policy
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for policy %q", tc.policy)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for policy %q: %v", tc.policy, err)
			}
		})
	}
}

func TestValidateRejectsCDNOriginWithScheme(t *testing.T) {
	cfg := validConfig()
	cfg.Global.CDNOrigins = []string{"https://cdn.example.com"}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("带协议的 CDN 源应报错")
	}
}

func TestValidateRejectsRelativePrecache(t *testing.T) {
	cfg := validConfig()
	cfg.Global.Precache = []string{"/", "shop/"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("不以 / 开头的预缓存路径应报错")
	}
}

func TestInstallListAppendsOfflinePath(t *testing.T) {
	cfg := validConfig()
	cfg.Global.Precache = []string{"/", "/shop/", "/"}
	list := cfg.InstallList()
	expected := []string{"/", "/shop/", "/offline/"}
	if len(list) != len(expected) {
		t.Fatalf("unexpected install list: %v", list)
	}
	for i := range expected {
		if list[i] != expected[i] {
			t.Fatalf("install list mismatch at %d: %v", i, list)
		}
	}
}

func TestOrderEndpointURLResolvesAgainstUpstream(t *testing.T) {
	cfg := validConfig()
	if got := cfg.OrderEndpointURL(); got != "https://shop.example.com/api/orders/" {
		t.Fatalf("unexpected order endpoint: %s", got)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			StoragePath:     "./data",
			Upstream:        "https://shop.example.com",
			UpstreamTimeout: Duration(time.Second),
			CacheGeneration: "storefront-v3",
			Precache:        []string{"/"},
			CDNOrigins:      []string{"cdn.jsdelivr.net"},
			StaticPrefix:    "/static/",
			OfflinePath:     "/offline/",
			ProbePath:       "/",
			ProbeInterval:   Duration(time.Second),
			NotificationTTL: Duration(5 * time.Second),
		},
		Sync: SyncConfig{
			OrderEndpoint: "/api/orders/",
			QueueSlot:     "offline_orders",
			Tag:           "background-sync",
			ClearPolicy:   ClearAlways,
		},
	}
}

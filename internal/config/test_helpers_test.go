package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fixturePath 返回 testdata 下的夹具路径，夹具缺失时立即失败。
func fixturePath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("缺少测试夹具 %s: %v", name, err)
	}
	return path
}

// loadInline 将内联 TOML 写入临时目录再交给 Load；内容中的 {{storage}} 替换为该目录下的存储路径。
func loadInline(t *testing.T, content string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	content = strings.ReplaceAll(content, "{{storage}}", filepath.ToSlash(filepath.Join(dir, "storage")))
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return Load(path)
}

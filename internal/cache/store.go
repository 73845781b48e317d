package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// Store 负责管理按代划分的响应缓存。磁盘布局遵循：
//
//	<base>/<generation>/<host>/<path>.body       # 响应正文
//	<base>/<generation>/<host>/<path>.meta.json  # 状态码与响应头
//
// 仅 GET 请求参与缓存，键为完整请求 URL。
type Store interface {
	// Open 创建（若不存在）指定代的目录。
	Open(ctx context.Context, generation string) error

	// Match 返回可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Match(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 覆盖写入一个响应，正文与元数据都通过临时文件 + rename 保证原子性。
	Put(ctx context.Context, locator Locator, resp Response) (*Entry, error)

	// Generations 列出磁盘上现存的全部缓存代。
	Generations(ctx context.Context) ([]string, error)

	// DeleteGeneration 删除整个缓存代；不存在时视为成功。
	DeleteGeneration(ctx context.Context, generation string) error
}

// Locator 唯一定位一个缓存条目（代 + 方法 + 完整 URL）。
type Locator struct {
	Generation string
	Method     string
	URL        string
}

// Response 是待写入缓存的响应快照。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.Reader
}

// Entry 表示一次缓存命中结果，包含正文文件路径与元数据。
type Entry struct {
	Locator    Locator     `json:"locator"`
	FilePath   string      `json:"file_path"`
	SizeBytes  int64       `json:"size_bytes"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	StoredAt   time.Time   `json:"stored_at"`
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrNotCacheable 表示请求方法不允许写入缓存。
	ErrNotCacheable = errors.New("only GET requests are cacheable")
)

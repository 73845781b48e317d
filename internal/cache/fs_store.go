package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	bodySuffix = ".body"
	metaSuffix = ".meta.json"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
		now:      time.Now,
	}, nil
}

// fileStore 通过 entryLock 避免同一 Locator 并发写入，同时复用 basePath。
type fileStore struct {
	basePath string
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type entryMeta struct {
	Method     string      `json:"method"`
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	StoredAt   time.Time   `json:"stored_at"`
}

func (s *fileStore) Open(ctx context.Context, generation string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.generationDir(generation)
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *fileStore) Match(ctx context.Context, locator Locator) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if !isCacheableMethod(locator.Method) {
		return nil, ErrNotFound
	}

	bodyPath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}

	meta, err := readMeta(bodyPath + metaSuffix)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(bodyPath + bodySuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := os.Open(bodyPath + bodySuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &ReadResult{
		Entry: Entry{
			Locator:    locator,
			FilePath:   bodyPath + bodySuffix,
			SizeBytes:  info.Size(),
			StatusCode: meta.StatusCode,
			Header:     meta.Header,
			StoredAt:   meta.StoredAt,
		},
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, locator Locator, resp Response) (*Entry, error) {
	if !isCacheableMethod(locator.Method) {
		return nil, ErrNotCacheable
	}
	unlock := s.lockEntry(locator)
	defer unlock()

	bodyPath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(bodyPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	body := resp.Body
	if body == nil {
		body = http.NoBody
	}
	written, err := writeAtomic(dir, bodyPath+bodySuffix, func(w io.Writer) (int64, error) {
		return copyWithContext(ctx, w, body)
	})
	if err != nil {
		return nil, err
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	meta := entryMeta{
		Method:     http.MethodGet,
		URL:        locator.URL,
		StatusCode: status,
		Header:     resp.Header.Clone(),
		StoredAt:   s.now().UTC(),
	}
	if _, err := writeAtomic(dir, bodyPath+metaSuffix, func(w io.Writer) (int64, error) {
		return 0, json.NewEncoder(w).Encode(meta)
	}); err != nil {
		os.Remove(bodyPath + bodySuffix)
		return nil, err
	}

	return &Entry{
		Locator:    locator,
		FilePath:   bodyPath + bodySuffix,
		SizeBytes:  written,
		StatusCode: status,
		Header:     meta.Header,
		StoredAt:   meta.StoredAt,
	}, nil
}

func (s *fileStore) Generations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) DeleteGeneration(ctx context.Context, generation string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.generationDir(generation)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (s *fileStore) lockEntry(locator Locator) func() {
	key := locatorKey(locator)
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) generationDir(generation string) (string, error) {
	if generation == "" || generation == "." || generation == ".." || strings.ContainsAny(generation, `/\`) {
		return "", fmt.Errorf("invalid cache generation %q", generation)
	}
	return filepath.Join(s.basePath, generation), nil
}

// entryPath 返回不带后缀的条目路径；正文与元数据分别追加 .body/.meta.json。
func (s *fileStore) entryPath(locator Locator) (string, error) {
	genDir, err := s.generationDir(locator.Generation)
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(locator.URL)
	if err != nil {
		return "", fmt.Errorf("invalid cache url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	if host == "" {
		return "", errors.New("cache url must be absolute")
	}
	host = strings.ReplaceAll(host, ":", "_")

	rel := parsed.EscapedPath()
	trailing := rel == "" || strings.HasSuffix(rel, "/")
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	if trailing {
		rel = path.Join(rel, "__index")
	}
	if parsed.RawQuery != "" {
		sum := sha1.Sum([]byte(parsed.RawQuery))
		rel += "__q_" + hex.EncodeToString(sum[:8])
	}

	filePath := filepath.Join(genDir, host, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, filepath.Join(genDir, host)+string(filepath.Separator)) {
		return "", errors.New("invalid cache path")
	}
	return filePath, nil
}

func readMeta(metaPath string) (entryMeta, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entryMeta{}, ErrNotFound
		}
		return entryMeta{}, err
	}
	var meta entryMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return entryMeta{}, fmt.Errorf("decode cache meta: %w", err)
	}
	return meta, nil
}

func writeAtomic(dir, target string, write func(io.Writer) (int64, error)) (int64, error) {
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	written, err := write(tempFile)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}
	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	return written, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

func isCacheableMethod(method string) bool {
	return method == "" || method == http.MethodGet
}

func locatorKey(locator Locator) string {
	return locator.Generation + "::" + locator.URL
}

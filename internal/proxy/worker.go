package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/logging"
)

var (
	// ErrInstallFailed 表示预缓存清单中至少有一项未能取回。
	ErrInstallFailed = errors.New("install failed")
	// ErrNoResponse 表示网络失败且没有任何可替代的响应。
	ErrNoResponse = errors.New("no response available")
	// ErrNotActive 表示当前没有生效的缓存代。
	ErrNotActive = errors.New("no active cache generation")
)

// Source 标记一次 Fetch 的响应来源。
type Source string

const (
	SourceCache       Source = "cache"
	SourceNetwork     Source = "network"
	SourceOfflinePage Source = "offline_page"
	SourceOfflineJSON Source = "offline_json"
)

// Result 封装 Fetch 的响应以及其来源。
type Result struct {
	Response *http.Response
	Source   Source
}

// CacheHit 表示响应来自缓存（含离线页回退）。
func (r *Result) CacheHit() bool {
	return r != nil && (r.Source == SourceCache || r.Source == SourceOfflinePage)
}

// Recorder 接收缓存命中、回退与写缓存失败的观测事件。
type Recorder interface {
	CacheLookup(hit bool)
	Fallback(kind string)
	CacheStoreFailed()
}

// Reconciler 执行后台订单同步。
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// ReconcilerFunc 允许普通函数充当 Reconciler。
type ReconcilerFunc func(ctx context.Context) error

// Reconcile 调用函数本身。
func (f ReconcilerFunc) Reconcile(ctx context.Context) error {
	return f(ctx)
}

// Worker 实现缓存代的安装/激活、缓存优先的请求处理以及后台同步入口。
type Worker struct {
	opts       Options
	client     *http.Client
	store      cache.Store
	logger     *logrus.Logger
	recorder   Recorder
	reconciler Reconciler
	tasks      conc.WaitGroup

	mu     sync.RWMutex
	active string
}

// WorkerOptions 汇总构造 Worker 所需的依赖。
type WorkerOptions struct {
	Options    Options
	Client     *http.Client
	Store      cache.Store
	Logger     *logrus.Logger
	Recorder   Recorder
	Reconciler Reconciler
}

// NewWorker 构造 Worker；未提供的 Client/Logger 使用默认值。
func NewWorker(opts WorkerOptions) *Worker {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Worker{
		opts:       opts.Options,
		client:     client,
		store:      opts.Store,
		logger:     logger,
		recorder:   opts.Recorder,
		reconciler: opts.Reconciler,
		active:     opts.Options.Generation,
	}
}

// Options 返回 Worker 当前使用的配置。
func (w *Worker) Options() Options {
	return w.opts
}

// Generation 返回当前生效的缓存代；安装失败后可能仍是上一代，空字符串表示没有可用缓存。
func (w *Worker) Generation() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

// TargetGeneration 返回配置中期望安装的缓存代。
func (w *Worker) TargetGeneration() string {
	return w.opts.Generation
}

func (w *Worker) setActive(generation string) {
	w.mu.Lock()
	w.active = generation
	w.mu.Unlock()
}

type prefetched struct {
	url    string
	status int
	header http.Header
	body   []byte
}

// Install 预取安装清单中的全部资源并写入当前缓存代。
// 任一资源失败时不写入任何条目，并返回包装 ErrInstallFailed 的错误。
func (w *Worker) Install(ctx context.Context) error {
	fields := logrus.Fields{"action": "install", "generation": w.opts.Generation}
	fetched := make([]prefetched, 0, len(w.opts.InstallList))
	for _, target := range w.opts.InstallList {
		item, err := w.prefetch(ctx, target)
		if err != nil {
			w.logger.WithFields(fields).WithError(err).WithField("url", target).Error("预缓存失败")
			return fmt.Errorf("%w: %s: %v", ErrInstallFailed, target, err)
		}
		fetched = append(fetched, item)
	}

	if err := w.store.Open(ctx, w.opts.Generation); err != nil {
		return fmt.Errorf("%w: open generation: %v", ErrInstallFailed, err)
	}
	for _, item := range fetched {
		locator := cache.Locator{Generation: w.opts.Generation, Method: http.MethodGet, URL: item.url}
		_, err := w.store.Put(ctx, locator, cache.Response{
			StatusCode: item.status,
			Header:     item.header,
			Body:       bytes.NewReader(item.body),
		})
		if err != nil {
			if delErr := w.store.DeleteGeneration(ctx, w.opts.Generation); delErr != nil {
				w.logger.WithFields(fields).WithError(delErr).Warn("清理缓存代失败")
			}
			return fmt.Errorf("%w: store %s: %v", ErrInstallFailed, item.url, err)
		}
	}
	w.setActive(w.opts.Generation)
	w.logger.WithFields(fields).WithField("entries", len(fetched)).Info("缓存代安装完成")
	return nil
}

// Resume 在 Install 失败后选出磁盘上已有的缓存代继续服务。
// 目标代若已完整存在则直接沿用；否则取剩余代中排序最后的一个；
// 磁盘上没有任何缓存代时返回空字符串，此时既不查缓存也不写缓存。
func (w *Worker) Resume(ctx context.Context) (string, error) {
	if w.store == nil {
		w.setActive("")
		return "", nil
	}
	generations, err := w.store.Generations(ctx)
	if err != nil {
		return w.Generation(), err
	}
	chosen := ""
	for _, gen := range generations {
		if gen == w.opts.Generation {
			chosen = gen
			break
		}
		chosen = gen
	}
	w.setActive(chosen)
	w.logger.WithFields(logrus.Fields{
		"action":     "resume",
		"target":     w.opts.Generation,
		"generation": chosen,
	}).Warn("沿用已有缓存代")
	return chosen, nil
}

func (w *Worker) prefetch(ctx context.Context, target string) (prefetched, error) {
	resolved := w.resolve(target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, http.NoBody)
	if err != nil {
		return prefetched{}, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return prefetched{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return prefetched{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return prefetched{}, err
	}
	return prefetched{url: resolved, status: resp.StatusCode, header: resp.Header.Clone(), body: body}, nil
}

func (w *Worker) resolve(target string) string {
	parsed, err := url.Parse(target)
	if err != nil || parsed.IsAbs() || w.opts.Upstream == nil {
		return target
	}
	return w.opts.Upstream.ResolveReference(parsed).String()
}

// Activate 删除除当前生效代以外的全部缓存代，返回被删除的代名称。
// 仅应在 Install 成功后调用；没有生效代时返回 ErrNotActive 且不删除任何内容。
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	current := w.Generation()
	if current == "" {
		return nil, ErrNotActive
	}
	generations, err := w.store.Generations(ctx)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, gen := range generations {
		if gen == current {
			continue
		}
		if err := w.store.DeleteGeneration(ctx, gen); err != nil {
			return removed, err
		}
		w.logger.WithFields(logrus.Fields{"action": "activate", "generation": gen}).Info("删除旧缓存代")
		removed = append(removed, gen)
	}
	return removed, nil
}

// Fetch 以缓存优先策略处理一次出站请求：命中即返回缓存，否则回源；
// 网络失败时导航请求回退到离线页，API/商店路径回退到离线 JSON，其余返回 ErrNoResponse。
func (w *Worker) Fetch(ctx context.Context, req *http.Request) (*Result, error) {
	if req.Method == "" || req.Method == http.MethodGet {
		if result := w.matchCache(ctx, req); result != nil {
			return result, nil
		}
	}

	resp, err := w.client.Do(req.WithContext(ctx))
	if err != nil {
		return w.fallback(ctx, req, err)
	}
	if resp.StatusCode != http.StatusOK || !w.shouldStore(req) {
		return &Result{Response: resp, Source: SourceNetwork}, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return w.fallback(ctx, req, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	w.storeAsync(req.URL.String(), resp.StatusCode, resp.Header.Clone(), body)
	return &Result{Response: resp, Source: SourceNetwork}, nil
}

func (w *Worker) shouldStore(req *http.Request) bool {
	if req.Method != "" && req.Method != http.MethodGet {
		return false
	}
	return w.opts.IsCacheable(req)
}

func (w *Worker) matchCache(ctx context.Context, req *http.Request) *Result {
	result, err := w.lookup(ctx, req.URL.String())
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			w.logger.WithError(err).WithField("url", req.URL.String()).Warn("cache_get_failed")
		}
		w.record(func(r Recorder) { r.CacheLookup(false) })
		return nil
	}
	w.record(func(r Recorder) { r.CacheLookup(true) })
	return &Result{Response: cachedResponse(result, req), Source: SourceCache}
}

func (w *Worker) lookup(ctx context.Context, target string) (*cache.ReadResult, error) {
	generation := w.Generation()
	if w.store == nil || generation == "" {
		return nil, cache.ErrNotFound
	}
	return w.store.Match(ctx, cache.Locator{Generation: generation, Method: http.MethodGet, URL: target})
}

func (w *Worker) storeAsync(target string, status int, header http.Header, body []byte) {
	generation := w.Generation()
	if w.store == nil || generation == "" {
		return
	}
	w.tasks.Go(func() {
		locator := cache.Locator{Generation: generation, Method: http.MethodGet, URL: target}
		_, err := w.store.Put(context.Background(), locator, cache.Response{
			StatusCode: status,
			Header:     header,
			Body:       bytes.NewReader(body),
		})
		if err != nil {
			w.record(func(r Recorder) { r.CacheStoreFailed() })
			w.logger.WithError(err).WithField("url", target).Warn("cache_write_failed")
		}
	})
}

func (w *Worker) fallback(ctx context.Context, req *http.Request, cause error) (*Result, error) {
	fields := logrus.Fields{"action": "fallback", "url": req.URL.String(), "cause": cause.Error()}
	switch {
	case IsNavigation(req):
		result, err := w.lookup(ctx, w.opts.offlinePageURL())
		if err != nil {
			w.logger.WithFields(fields).Warn("离线页未缓存")
			return nil, fmt.Errorf("%w: %v", ErrNoResponse, cause)
		}
		w.record(func(r Recorder) { r.Fallback(string(SourceOfflinePage)) })
		w.logger.WithFields(fields).Info("返回离线页")
		return &Result{Response: cachedResponse(result, req), Source: SourceOfflinePage}, nil
	case w.opts.wantsJSONFallback(req):
		w.record(func(r Recorder) { r.Fallback(string(SourceOfflineJSON)) })
		w.logger.WithFields(fields).Info("返回离线 JSON")
		return &Result{Response: w.offlineJSON(req), Source: SourceOfflineJSON}, nil
	default:
		w.logger.WithFields(fields).Debug("无可替代响应")
		return nil, fmt.Errorf("%w: %v", ErrNoResponse, cause)
	}
}

func (w *Worker) offlineJSON(req *http.Request) *http.Response {
	payload := fmt.Sprintf(`{"offline":true,"message":%s}`, strconv.Quote(w.opts.OfflineMessage))
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return syntheticResponse(req, http.StatusOK, header, []byte(payload))
}

func syntheticResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func cachedResponse(result *cache.ReadResult, req *http.Request) *http.Response {
	header := result.Entry.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	status := result.Entry.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          result.Reader,
		ContentLength: result.Entry.SizeBytes,
		Request:       req,
	}
}

// HandleSync 处理后台同步事件；tag 不匹配时直接忽略并返回 false。
func (w *Worker) HandleSync(ctx context.Context, tag string) (bool, error) {
	if tag != w.opts.SyncTag {
		return false, nil
	}
	if w.reconciler == nil {
		return true, nil
	}
	started := time.Now()
	err := w.reconciler.Reconcile(ctx)
	fields := logrus.Fields{"action": "sync", "tag": tag, "elapsed_ms": time.Since(started).Milliseconds()}
	if err != nil {
		w.logger.WithFields(fields).WithError(err).Error("后台同步失败")
		return true, err
	}
	w.logger.WithFields(fields).Info("后台同步完成")
	return true, nil
}

// Wait 等待所有异步缓存写入完成。
func (w *Worker) Wait() {
	w.tasks.Wait()
}

func (w *Worker) record(fn func(Recorder)) {
	if w.recorder != nil {
		fn(w.recorder)
	}
}

package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/logging"
)

// Listener 在连通性切换时被调用；任一回调可以为空。
type Listener struct {
	OnOnline  func(ctx context.Context)
	OnOffline func(ctx context.Context)
}

// Gauge 接收在线状态，通常由 metrics.Metrics 实现。
type Gauge interface {
	SetOnline(online bool)
}

// Monitor 定期探测上游并在状态切换时通知监听者。
type Monitor struct {
	state    *State
	client   *http.Client
	probeURL string
	interval time.Duration
	logger   *logrus.Entry
	gauge    Gauge

	mu        sync.Mutex
	listeners []Listener

	// reportMu 串行化 Set 与监听者回调，保证回调期间状态等于本次事件。
	reportMu sync.Mutex
}

// MonitorOptions 汇总 Monitor 依赖。
type MonitorOptions struct {
	State    *State
	Client   *http.Client
	ProbeURL string
	Interval time.Duration
	Logger   *logrus.Logger
	Gauge    Gauge
}

// NewMonitor 创建 Monitor；State 为空时默认在线。
func NewMonitor(opts MonitorOptions) *Monitor {
	state := opts.State
	if state == nil {
		state = NewState(true)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		state:    state,
		client:   client,
		probeURL: opts.ProbeURL,
		interval: interval,
		logger:   logging.Component(opts.Logger, "connectivity"),
		gauge:    opts.Gauge,
	}
}

// State 返回被监控的状态。
func (m *Monitor) State() *State {
	return m.state
}

// Subscribe 注册监听者。
func (m *Monitor) Subscribe(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Report 接收一次连通性事件（探测结果或页面上报），仅在状态切换时通知监听者。
// 并发的 Report 依次执行；监听者不得在回调中同步调用 Report。
func (m *Monitor) Report(ctx context.Context, online bool) bool {
	m.reportMu.Lock()
	defer m.reportMu.Unlock()

	changed := m.state.Set(online)
	if m.gauge != nil {
		m.gauge.SetOnline(online)
	}
	if !changed {
		return false
	}

	m.logger.WithFields(logrus.Fields{
		"action": "connectivity_change",
		"online": online,
	}).Info("连通性状态切换")

	m.mu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		if online && l.OnOnline != nil {
			l.OnOnline(ctx)
		}
		if !online && l.OnOffline != nil {
			l.OnOffline(ctx)
		}
	}
	return true
}

// Probe 对上游发送 HEAD 请求，任何响应（包括错误状态码）都视为可达。
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.probeURL == "" {
		return m.state.Online()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"action": "connectivity_probe",
			"url":    m.probeURL,
		}).WithError(err).Debug("探测失败")
		return false
	}
	resp.Body.Close()
	return true
}

// Start 先同步执行一次探测以读取当前状态，然后在后台按间隔持续探测，直到 ctx 结束。
func (m *Monitor) Start(ctx context.Context) {
	m.Report(ctx, m.Probe(ctx))

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Report(ctx, m.Probe(ctx))
			}
		}
	}()
}

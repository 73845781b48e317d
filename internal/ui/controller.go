package ui

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"golang.org/x/net/html"

	"github.com/offline-hub/offline-hub/internal/connectivity"
	"github.com/offline-hub/offline-hub/internal/logging"
	"github.com/offline-hub/offline-hub/internal/orders"
)

const (
	statusIndicatorID = "connection-status"
	offlineOnlyClass  = "offline-only"
	onlineOnlyClass   = "online-only"
	csrfFieldName     = "csrfmiddlewaretoken"

	onlineIndicator  = `<i class="fas fa-wifi"></i> Online`
	offlineIndicator = `<i class="fas fa-wifi-slash"></i> Offline`

	msgBackOnline = "You are back online!"
	msgOffline    = "You are offline. Limited functionality available."
)

const defaultPage = `<!DOCTYPE html><html><head></head><body>` +
	`<div id="connection-status" class="connection-status"></div></body></html>`

// Subscriber 是连通性事件的来源，通常为 connectivity.Monitor。
type Subscriber interface {
	Subscribe(l connectivity.Listener)
}

// Options 汇总 Controller 依赖。
type Options struct {
	State           *connectivity.State
	Syncer          *orders.Syncer
	Page            *Document
	NotificationTTL time.Duration
	Logger          *logrus.Logger
}

// Controller 维护页面上的连通性指示、提示通知以及离线订单的重新提交。
type Controller struct {
	state  *connectivity.State
	syncer *orders.Syncer
	page   *Document
	ttl    time.Duration
	logger *logrus.Entry

	afterFunc func(time.Duration, func()) stopper
	now       func() time.Time
	newID     func() string

	mu            sync.Mutex
	notifications map[string]*Notification
	csrfToken     string

	tasks conc.WaitGroup
}

// NewController 创建控制器；未提供 Page 时使用仅含状态指示器的空白页面。
func NewController(opts Options) (*Controller, error) {
	if opts.State == nil {
		return nil, errors.New("connectivity state is required")
	}
	if opts.Syncer == nil {
		return nil, errors.New("order syncer is required")
	}
	page := opts.Page
	if page == nil {
		var err error
		page, err = ParseString(defaultPage)
		if err != nil {
			return nil, err
		}
	}
	ttl := opts.NotificationTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Controller{
		state:  opts.State,
		syncer: opts.Syncer,
		page:   page,
		ttl:    ttl,
		logger: logging.Component(opts.Logger, "ui"),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		now:           time.Now,
		newID:         uuid.NewString,
		notifications: make(map[string]*Notification),
	}, nil
}

// Page 返回控制器持有的页面。
func (c *Controller) Page() *Document {
	return c.page
}

// Online 返回当前连通性。
func (c *Controller) Online() bool {
	return c.state.Online()
}

// Init 订阅连通性事件并完成首次界面刷新。
func (c *Controller) Init(source Subscriber) {
	if source != nil {
		source.Subscribe(connectivity.Listener{
			OnOnline:  c.wentOnline,
			OnOffline: func(context.Context) { c.wentOffline() },
		})
	}
	c.rememberToken(c.page)
	c.UpdateConnectionStatus()
}

// HandleOnline 切换到在线：刷新界面、后台重新提交排队订单并提示用户。
// 经 Init 订阅的 Monitor 已经写入状态，回调只刷新界面，不会再次 Set。
func (c *Controller) HandleOnline(ctx context.Context) {
	c.state.Set(true)
	c.wentOnline(ctx)
}

func (c *Controller) wentOnline(ctx context.Context) {
	c.UpdateConnectionStatus()

	bg := context.WithoutCancel(ctx)
	c.tasks.Go(func() {
		if _, err := c.SyncOfflineData(bg); err != nil {
			c.logger.WithField("action", "order_sync").WithError(err).Error("离线订单同步失败")
		}
	})

	c.ShowNotification(msgBackOnline, SeveritySuccess)
}

// HandleOffline 切换到离线：刷新界面并提示功能受限。
func (c *Controller) HandleOffline() {
	c.state.Set(false)
	c.wentOffline()
}

func (c *Controller) wentOffline() {
	c.UpdateConnectionStatus()
	c.ShowNotification(msgOffline, SeverityWarning)
}

// Wait 等待 HandleOnline 触发的后台同步结束。
func (c *Controller) Wait() {
	c.tasks.Wait()
}

// UpdateConnectionStatus 按当前状态刷新控制器页面。
func (c *Controller) UpdateConnectionStatus() {
	applyConnectionStatus(c.page, c.state.Online())
}

// Decorate 将当前连通性状态与未过期通知应用到一份即将返回给浏览器的页面，
// 同时记录页面内嵌的 CSRF token 供订单重新提交使用。
func (c *Controller) Decorate(doc *Document) {
	c.rememberToken(doc)
	applyConnectionStatus(doc, c.state.Online())

	active := c.Notifications()
	if len(active) == 0 {
		return
	}
	doc.Update(func(root *html.Node) {
		target := body(root)
		if target == nil {
			return
		}
		for _, n := range active {
			if _, err := appendHTML(target, n.markup()); err != nil {
				c.logger.WithField("action", "decorate").WithError(err).Warn("通知渲染失败")
			}
		}
	})
}

// DecorateHTML 解析一份 HTML 正文，执行 Decorate 后重新渲染。
func (c *Controller) DecorateHTML(raw []byte) ([]byte, error) {
	doc, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c.Decorate(doc)
	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func applyConnectionStatus(doc *Document, online bool) {
	doc.Update(func(root *html.Node) {
		if indicator := findByID(root, statusIndicatorID); indicator != nil {
			if online {
				setAttr(indicator, "class", "connection-status online")
				_ = setInnerHTML(indicator, onlineIndicator)
			} else {
				setAttr(indicator, "class", "connection-status offline")
				_ = setInnerHTML(indicator, offlineIndicator)
			}
		}

		offlineDisplay, onlineDisplay := "none", "block"
		if !online {
			offlineDisplay, onlineDisplay = "block", "none"
		}
		for _, el := range findAll(root, func(n *html.Node) bool { return hasClass(n, offlineOnlyClass) }) {
			setStyleDisplay(el, offlineDisplay)
		}
		for _, el := range findAll(root, func(n *html.Node) bool { return hasClass(n, onlineOnlyClass) }) {
			setStyleDisplay(el, onlineDisplay)
		}
	})
}

// ShowNotification 在页面追加一条提示，ttl 到期后自动移除，也可通过 Dismiss 提前关闭。
func (c *Controller) ShowNotification(message string, severity Severity) *Notification {
	if severity == "" {
		severity = SeverityInfo
	}
	now := c.now()
	n := &Notification{
		ID:        c.newID(),
		Message:   message,
		Severity:  severity,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.page.Update(func(root *html.Node) {
		if target := body(root); target != nil {
			_, _ = appendHTML(target, n.markup())
		}
	})

	c.mu.Lock()
	c.notifications[n.ID] = n
	n.timer = c.afterFunc(c.ttl, func() { c.Dismiss(n.ID) })
	c.mu.Unlock()
	return n
}

// Dismiss 移除一条通知；通知已不存在时返回 false。
func (c *Controller) Dismiss(id string) bool {
	c.mu.Lock()
	n, ok := c.notifications[id]
	if ok {
		delete(c.notifications, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if n.timer != nil {
		n.timer.Stop()
	}

	c.page.Update(func(root *html.Node) {
		for _, el := range findAll(root, func(node *html.Node) bool { return attr(node, "data-notification-id") == id }) {
			removeNode(el)
		}
	})
	return true
}

// Notifications 返回按创建时间排序的未过期通知。
func (c *Controller) Notifications() []*Notification {
	c.mu.Lock()
	list := make([]*Notification, 0, len(c.notifications))
	for _, n := range c.notifications {
		list = append(list, n)
	}
	c.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list
}

// SaveOfflineOrder 在提交因离线失败时调用，把订单追加到本地队列。
func (c *Controller) SaveOfflineOrder(ctx context.Context, fields map[string]any) (orders.Record, error) {
	rec, err := c.syncer.Queue().Append(ctx, fields)
	if err != nil {
		c.logger.WithFields(logging.OrderFields("order_save", c.syncer.Queue().Slot(), "")).
			WithError(err).Error("保存离线订单失败")
		return orders.Record{}, err
	}
	c.logger.WithFields(logging.OrderFields("order_save", c.syncer.Queue().Slot(), rec.ID)).Info("离线订单已排队")
	return rec, nil
}

// SyncOfflineData 读取排队订单并全部重新提交。
func (c *Controller) SyncOfflineData(ctx context.Context) (orders.Report, error) {
	return c.syncer.Sync(ctx, c.CSRFToken())
}

// SubmitOfflineOrders 重新提交一份已读取的队列快照。
func (c *Controller) SubmitOfflineOrders(ctx context.Context, snap orders.Snapshot) (orders.Report, error) {
	return c.syncer.Submit(ctx, snap, c.CSRFToken())
}

// CSRFToken 返回最近一次页面中 name=csrfmiddlewaretoken 字段的值，没有时为空串。
func (c *Controller) CSRFToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.csrfToken
}

func (c *Controller) rememberToken(doc *Document) {
	token, ok := csrfTokenFrom(doc)
	if !ok {
		return
	}
	c.mu.Lock()
	c.csrfToken = token
	c.mu.Unlock()
}

func csrfTokenFrom(doc *Document) (string, bool) {
	var (
		token string
		found bool
	)
	doc.Update(func(root *html.Node) {
		field := findFirst(root, func(n *html.Node) bool { return attr(n, "name") == csrfFieldName })
		if field != nil {
			token, found = attr(field, "value"), true
		}
	})
	return token, found
}

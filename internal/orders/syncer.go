package orders

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/offline-hub/offline-hub/internal/config"
	"github.com/offline-hub/offline-hub/internal/logging"
)

// Recorder 接收单笔提交结果，通常由 metrics.Metrics 实现。
type Recorder interface {
	OrderSubmission(ok bool)
}

// Report 汇总一次同步的结果。
type Report struct {
	Queued    int `json:"queued"`
	Submitted int `json:"submitted"`
	Failed    int `json:"failed"`
	Cleared   int `json:"cleared"`
}

// Syncer 读取整个队列、逐条提交，然后按清理策略清空队列。
// 页面控制器与后台对账共用同一个实例，mu 保证两者的周期不会交错。
type Syncer struct {
	queue     *Queue
	submitter Submitter
	policy    config.ClearPolicy
	logger    *logrus.Logger
	recorder  Recorder

	mu sync.Mutex
}

// SyncerOptions 汇总 Syncer 依赖。
type SyncerOptions struct {
	Queue     *Queue
	Submitter Submitter
	Policy    config.ClearPolicy
	Logger    *logrus.Logger
	Recorder  Recorder
}

// NewSyncer 创建 Syncer，未指定策略时保持 always 语义。
func NewSyncer(opts SyncerOptions) *Syncer {
	policy := opts.Policy
	if policy == "" {
		policy = config.ClearAlways
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Syncer{
		queue:     opts.Queue,
		submitter: opts.Submitter,
		policy:    policy,
		logger:    logger,
		recorder:  opts.Recorder,
	}
}

// Queue 返回底层队列。
func (s *Syncer) Queue() *Queue {
	return s.queue
}

// Sync 读取队列并重新提交全部订单；队列为空时直接返回。
func (s *Syncer) Sync(ctx context.Context, csrfToken string) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.queue.Load(ctx)
	if err != nil {
		return Report{}, err
	}
	if snap.Empty() {
		return Report{}, nil
	}
	return s.submitLocked(ctx, snap, csrfToken)
}

// Submit 重新提交给定快照中的订单，然后按策略清理队列。
// 快照在锁外读取，期间可能已被另一次同步处理，因此只提交仍在队列中的订单。
func (s *Syncer) Submit(ctx context.Context, snap Snapshot, csrfToken string) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.queue.Load(ctx)
	if err != nil {
		return Report{}, err
	}
	present := make(map[string]struct{}, len(current.Records))
	for _, rec := range current.Records {
		present[rec.ID] = struct{}{}
	}
	pending := Snapshot{Revision: current.Revision}
	for _, rec := range snap.Records {
		if _, ok := present[rec.ID]; ok {
			pending.Records = append(pending.Records, rec)
		}
	}
	if pending.Empty() {
		return Report{}, nil
	}
	if len(pending.Records) != len(current.Records) {
		// 队列中还有快照之外的订单，整体清空会误删它们，强制走按 ID 移除的路径。
		pending.Revision = -1
	}
	return s.submitLocked(ctx, pending, csrfToken)
}

func (s *Syncer) submitLocked(ctx context.Context, snap Snapshot, csrfToken string) (Report, error) {
	report := Report{Queued: len(snap.Records)}

	var (
		wg     conc.WaitGroup
		mu     sync.Mutex
		acked  = make([]string, 0, len(snap.Records))
		failed int
	)
	for _, rec := range snap.Records {
		rec := rec
		wg.Go(func() {
			data, err := s.submitter.Submit(ctx, rec, csrfToken)
			fields := logging.OrderFields("order_sync", s.queue.Slot(), rec.ID)
			if s.recorder != nil {
				s.recorder.OrderSubmission(err == nil)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				s.logger.WithFields(fields).WithError(err).Error("离线订单同步失败")
				return
			}
			acked = append(acked, rec.ID)
			if len(data) > 0 {
				fields["response"] = string(data)
			}
			s.logger.WithFields(fields).Info("离线订单已同步")
		})
	}
	wg.Wait()

	report.Submitted = len(acked)
	report.Failed = failed

	var clearErr error
	switch s.policy {
	case config.ClearAcknowledged:
		clearErr = s.queue.Remove(ctx, acked)
		report.Cleared = len(acked)
	default:
		// 与原有行为一致：无论单笔是否成功都清空本次读取到的订单。
		clearErr = s.queue.CompareAndClear(ctx, snap)
		report.Cleared = len(snap.Records)
	}
	if clearErr != nil {
		report.Cleared = 0
		s.logger.WithFields(logging.OrderFields("order_queue_clear", s.queue.Slot(), "")).
			WithError(clearErr).Error("清理离线订单队列失败")
		return report, clearErr
	}

	s.logger.WithFields(logrus.Fields{
		"action":    "order_sync_complete",
		"slot":      s.queue.Slot(),
		"policy":    string(s.policy),
		"queued":    report.Queued,
		"submitted": report.Submitted,
		"failed":    report.Failed,
		"cleared":   report.Cleared,
	}).Info("离线订单同步完成")
	return report, nil
}

package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/offline-hub/offline-hub/internal/storage"
)

// maxConflictRetries 限制 revision 冲突时的读改写重试次数。
const maxConflictRetries = 5

// SlotStore 抽象本地存储中单个命名槽位的读写。
type SlotStore interface {
	Get(ctx context.Context, name string) (storage.Slot, error)
	Put(ctx context.Context, name string, value []byte, expectRev int64) (int64, error)
	Delete(ctx context.Context, name string, expectRev int64) (int64, error)
}

// Snapshot 是某一时刻读取到的完整队列以及对应 revision。
type Snapshot struct {
	Records  []Record
	Revision int64
}

// IDs 返回快照内所有订单的队列 ID。
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.Records))
	for _, rec := range s.Records {
		ids = append(ids, rec.ID)
	}
	return ids
}

// Queue 将离线订单按顺序保存在一个命名槽位中。
type Queue struct {
	store SlotStore
	slot  string
	now   func() time.Time
	newID func() string
}

// NewQueue 基于槽位存储创建队列。
func NewQueue(store SlotStore, slot string) *Queue {
	return &Queue{
		store: store,
		slot:  slot,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Slot 返回队列所在槽位名。
func (q *Queue) Slot() string {
	return q.slot
}

// Append 追加一条订单，自动附带毫秒时间戳与 offline 标记。
func (q *Queue) Append(ctx context.Context, fields map[string]any) (Record, error) {
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		switch key {
		case fieldTimestamp, fieldOffline, fieldQueueID:
			continue
		}
		copied[key] = value
	}
	rec := Record{
		ID:        q.newID(),
		Fields:    copied,
		Timestamp: q.now().UnixMilli(),
		Offline:   true,
	}

	err := q.update(ctx, func(records []Record) []Record {
		return append(records, rec)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Load 读取整个队列。
func (q *Queue) Load(ctx context.Context) (Snapshot, error) {
	slot, err := q.store.Get(ctx, q.slot)
	if err != nil {
		return Snapshot{}, err
	}
	records, err := decodeRecords(slot.Value)
	if err != nil {
		return Snapshot{}, fmt.Errorf("decode slot %s: %w", q.slot, err)
	}
	return Snapshot{Records: records, Revision: slot.Revision}, nil
}

// Clear 无条件清空队列。
func (q *Queue) Clear(ctx context.Context) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		slot, err := q.store.Get(ctx, q.slot)
		if err != nil {
			return err
		}
		if slot.Value == nil {
			return nil
		}
		if _, err := q.store.Delete(ctx, q.slot, slot.Revision); err == nil {
			return nil
		} else if !errors.Is(err, storage.ErrConflict) {
			return err
		}
	}
	return storage.ErrConflict
}

// CompareAndClear 仅当队列自 snap 读取后未被修改时整体清空；
// 否则只移除 snap 中的订单，保留期间新追加的订单。
func (q *Queue) CompareAndClear(ctx context.Context, snap Snapshot) error {
	if len(snap.Records) == 0 {
		return nil
	}
	_, err := q.store.Delete(ctx, q.slot, snap.Revision)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrConflict) {
		return err
	}
	return q.Remove(ctx, snap.IDs())
}

// Remove 从队列中移除指定 ID 的订单。
func (q *Queue) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	return q.update(ctx, func(records []Record) []Record {
		kept := records[:0]
		for _, rec := range records {
			if _, ok := drop[rec.ID]; ok {
				continue
			}
			kept = append(kept, rec)
		}
		return kept
	})
}

func (q *Queue) update(ctx context.Context, mutate func([]Record) []Record) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		snap, err := q.Load(ctx)
		if err != nil {
			return err
		}
		next := mutate(snap.Records)
		if len(next) == 0 {
			if !snap.Empty() {
				_, err = q.store.Delete(ctx, q.slot, snap.Revision)
			}
		} else {
			var payload []byte
			payload, err = json.Marshal(next)
			if err != nil {
				return fmt.Errorf("encode slot %s: %w", q.slot, err)
			}
			_, err = q.store.Put(ctx, q.slot, payload, snap.Revision)
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return err
		}
	}
	return storage.ErrConflict
}

// Empty 表示快照中没有排队订单。
func (s Snapshot) Empty() bool {
	return len(s.Records) == 0
}

func decodeRecords(raw []byte) ([]Record, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	return records, nil
}

package orders

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	fieldTimestamp = "timestamp"
	fieldOffline   = "offline"
	fieldQueueID   = "_queue_id"
)

// Record 是排队中的离线订单：任意提交字段 + 创建时间（毫秒）+ 离线标记。
// 序列化后字段与元数据平铺在同一个 JSON 对象中。
type Record struct {
	ID        string
	Fields    map[string]any
	Timestamp int64
	Offline   bool
}

// MarshalJSON 输出平铺对象，队列 ID 以 _queue_id 保存。
func (r Record) MarshalJSON() ([]byte, error) {
	flat := r.payload()
	if r.ID != "" {
		flat[fieldQueueID] = r.ID
	}
	return json.Marshal(flat)
}

// ErrNotObject 表示订单内容不是 JSON 对象。
var ErrNotObject = errors.New("order record must be a JSON object")

// DecodeFields 解析订单 JSON 对象；数字保留为 json.Number，重新提交时原样输出。
func DecodeFields(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var flat map[string]any
	if err := dec.Decode(&flat); err != nil {
		return nil, err
	}
	if flat == nil {
		return nil, ErrNotObject
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after order object")
	}
	return flat, nil
}

// UnmarshalJSON 从平铺对象中拆出元数据字段。
func (r *Record) UnmarshalJSON(data []byte) error {
	flat, err := DecodeFields(data)
	if err != nil {
		return err
	}

	rec := Record{Fields: make(map[string]any, len(flat))}
	for key, value := range flat {
		switch key {
		case fieldQueueID:
			rec.ID, _ = value.(string)
		case fieldTimestamp:
			if n, ok := value.(json.Number); ok {
				rec.Timestamp, _ = n.Int64()
			}
		case fieldOffline:
			rec.Offline, _ = value.(bool)
		default:
			rec.Fields[key] = value
		}
	}
	*r = rec
	return nil
}

// SubmissionBody 返回提交到订单接口的 JSON：原始字段 + timestamp + offline，不含队列 ID。
func (r Record) SubmissionBody() ([]byte, error) {
	return json.Marshal(r.payload())
}

func (r Record) payload() map[string]any {
	flat := make(map[string]any, len(r.Fields)+3)
	for key, value := range r.Fields {
		flat[key] = value
	}
	flat[fieldTimestamp] = r.Timestamp
	flat[fieldOffline] = r.Offline
	return flat
}

package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Submitter 负责把单条排队订单提交到订单创建接口。
type Submitter interface {
	Submit(ctx context.Context, rec Record, csrfToken string) (json.RawMessage, error)
}

// HTTPSubmitter 以 JSON POST 调用订单接口，并携带 X-CSRFToken。
type HTTPSubmitter struct {
	client   *http.Client
	endpoint string
}

// NewHTTPSubmitter 创建提交器，endpoint 需为绝对地址。
func NewHTTPSubmitter(client *http.Client, endpoint string) *HTTPSubmitter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSubmitter{client: client, endpoint: endpoint}
}

// Submit 发送单条订单；非 2xx 状态视为失败。响应体若为 JSON 则原样返回便于记录。
func (s *HTTPSubmitter) Submit(ctx context.Context, rec Record, csrfToken string) (json.RawMessage, error) {
	body, err := rec.SubmissionBody()
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRFToken", csrfToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read order response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("order endpoint returned %d", resp.StatusCode)
	}
	if !json.Valid(data) {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

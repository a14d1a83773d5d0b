package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Verdict 外部检测器的结论
type Verdict struct {
	Spam   bool   `json:"spam"`
	Reason string `json:"reason"`
}

// Detector 可插拔的垃圾评论检测器，失败时视为无信号
type Detector interface {
	Detect(ctx context.Context, body string) (Verdict, error)
}

// NopDetector 永远返回非垃圾
type NopDetector struct{}

// Detect 实现 Detector
func (NopDetector) Detect(context.Context, string) (Verdict, error) {
	return Verdict{}, nil
}

// FuncDetector 函数适配器
type FuncDetector func(ctx context.Context, body string) (Verdict, error)

// Detect 实现 Detector
func (f FuncDetector) Detect(ctx context.Context, body string) (Verdict, error) {
	return f(ctx, body)
}

// HTTPDetector 调用外部检测服务：POST {"content": ...}，返回 {"spam": bool, "reason": string}
type HTTPDetector struct {
	url    string
	client *http.Client
}

// NewHTTPDetector 创建HTTP检测器
func NewHTTPDetector(url string, timeout time.Duration) *HTTPDetector {
	return &HTTPDetector{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Detect 实现 Detector
func (d *HTTPDetector) Detect(ctx context.Context, body string) (Verdict, error) {
	payload, err := json.Marshal(map[string]string{"content": body})
	if err != nil {
		return Verdict{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Verdict{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Verdict{}, fmt.Errorf("detector returned %d: %s", resp.StatusCode, snippet)
	}

	var v Verdict
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&v); err != nil {
		return Verdict{}, fmt.Errorf("decode detector response: %w", err)
	}
	return v, nil
}

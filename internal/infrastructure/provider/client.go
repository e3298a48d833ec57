// Package provider 封装外部推理提供商的 REST API 调用
package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"z-pixel-ai-api/internal/config"
	"z-pixel-ai-api/internal/domain/service"
)

var tracer = otel.Tracer("provider")

// Client 推理提供商客户端。单次调用失败即为最终失败，
// 不做任何自动重试。
type Client struct {
	baseURL    string
	apiKey     string
	imageModel string
	videoModel string

	imageTimeout time.Duration
	videoTimeout time.Duration
	pollInterval time.Duration
	videoCount   int
	videoDir     string

	httpClient *http.Client

	// 时间源可注入，测试用模拟时钟推进轮询
	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
}

// NewClient 创建提供商客户端
func NewClient(cfg *config.ProviderConfig) *Client {
	videoCount := cfg.NumberOfVideos
	if videoCount <= 0 {
		videoCount = 1
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		imageModel:   cfg.ImageModel,
		videoModel:   cfg.VideoModel,
		imageTimeout: cfg.ImageTimeout,
		videoTimeout: cfg.VideoTimeout,
		pollInterval: cfg.VideoPollInterval,
		videoCount:   videoCount,
		videoDir:     cfg.VideoDir,
		// 超时由每次调用的 context 控制
		httpClient: &http.Client{},
		now:        time.Now,
		after:      time.After,
	}
}

// errorEnvelope 提供商错误响应 {error: {code, status, message}}
type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseAPIError 将错误响应体翻译为用户可读的错误。
// 无法解析的响应原文透传。
func parseAPIError(statusCode int, body []byte) error {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Message == "" && envelope.Error.Status == "" {
		return &service.UnknownError{Raw: fmt.Sprintf("provider returned status %d: %s", statusCode, strings.TrimSpace(string(body)))}
	}

	switch {
	case envelope.Error.Status == "RESOURCE_EXHAUSTED":
		return &service.ExternalServiceError{
			Message: "provider quota exhausted, please try again later",
		}
	case envelope.Error.Status == "SAFETY":
		return &service.ExternalServiceError{
			Message: "request blocked by safety filters",
		}
	case envelope.Error.Code == 500, envelope.Error.Status == "UNKNOWN", envelope.Error.Status == "INTERNAL":
		return &service.ExternalServiceError{
			Message: "provider internal error, please try again later",
		}
	default:
		return &service.ExternalServiceError{Message: envelope.Error.Message}
	}
}

// doJSON 发送 JSON 请求并解析响应，非 2xx 走错误翻译
func (c *Client) doJSON(req *http.Request, out interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}

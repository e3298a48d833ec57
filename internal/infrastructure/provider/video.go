package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-pixel-ai-api/internal/domain/service"
	"z-pixel-ai-api/pkg/metrics"
)

type videoInstance struct {
	Prompt string         `json:"prompt"`
	Image  *inlinePayload `json:"image,omitempty"`
}

type videoParameters struct {
	AspectRatio    string `json:"aspectRatio,omitempty"`
	NumberOfVideos int    `json:"numberOfVideos"`
}

type predictLongRunningRequest struct {
	Instances  []videoInstance `json:"instances"`
	Parameters videoParameters `json:"parameters"`
}

type videoOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

// GenerateVideo 提交视频任务并每隔 pollInterval 轮询一次，
// 直到完成、出错或整体超时。超时触发后不再发出状态查询。
func (c *Client) GenerateVideo(ctx context.Context, in service.VideoInput, progress func(string)) (*service.VideoHandle, error) {
	ctx, span := tracer.Start(ctx, "provider.GenerateVideo",
		trace.WithAttributes(attribute.String("provider.model", c.videoModel)))
	defer span.End()

	start := c.now()
	report := func(msg string) {
		if progress != nil {
			progress(msg)
		}
	}

	operationName, err := c.submitVideo(ctx, in)
	if err != nil {
		metrics.ProviderCallTotal.WithLabelValues("video_generate", "error").Inc()
		span.RecordError(err)
		return nil, translateTransportError(err)
	}
	report("video task submitted")

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.after(c.pollInterval):
		}

		elapsed := c.now().Sub(start)
		if elapsed >= c.videoTimeout {
			metrics.ProviderCallTotal.WithLabelValues("video_generate", "timeout").Inc()
			return nil, &service.TimeoutError{Stage: "video", Elapsed: elapsed}
		}
		report(fmt.Sprintf("waiting for video result (%s elapsed)", elapsed.Round(time.Second)))

		op, err := c.pollOperation(ctx, operationName)
		if err != nil {
			metrics.ProviderCallTotal.WithLabelValues("video_generate", "error").Inc()
			span.RecordError(err)
			return nil, translateTransportError(err)
		}
		if !op.Done {
			continue
		}

		if op.Error != nil {
			metrics.ProviderCallTotal.WithLabelValues("video_generate", "error").Inc()
			return nil, &service.ExternalServiceError{
				Message: fmt.Sprintf("video generation failed: %s", op.Error.Message),
			}
		}

		uri := firstVideoURI(op)
		if uri == "" {
			metrics.ProviderCallTotal.WithLabelValues("video_generate", "error").Inc()
			return nil, &service.UnknownError{Raw: "video operation finished without an artifact"}
		}

		report("downloading video")
		handle, err := c.downloadVideo(ctx, uri)
		if err != nil {
			metrics.ProviderCallTotal.WithLabelValues("video_generate", "error").Inc()
			span.RecordError(err)
			return nil, translateTransportError(err)
		}

		metrics.ProviderCallTotal.WithLabelValues("video_generate", "success").Inc()
		metrics.ProviderCallDuration.WithLabelValues("video_generate").Observe(c.now().Sub(start).Seconds())
		return handle, nil
	}
}

func (c *Client) submitVideo(ctx context.Context, in service.VideoInput) (string, error) {
	instance := videoInstance{Prompt: in.Prompt}
	if in.Reference != nil {
		instance.Image = inlineOf(in.Reference)
	}

	body, err := json.Marshal(&predictLongRunningRequest{
		Instances: []videoInstance{instance},
		Parameters: videoParameters{
			AspectRatio:    in.AspectRatio,
			NumberOfVideos: c.videoCount,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal video request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:predictLongRunning", c.baseURL, c.videoModel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create video request: %w", err)
	}

	var op videoOperation
	if err := c.doJSON(req, &op); err != nil {
		return "", err
	}
	if op.Name == "" {
		return "", &service.UnknownError{Raw: "provider returned no operation name"}
	}
	return op.Name, nil
}

func (c *Client) pollOperation(ctx context.Context, name string) (*videoOperation, error) {
	metrics.VideoPollsTotal.Inc()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+name, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}

	var op videoOperation
	if err := c.doJSON(req, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// downloadVideo 将视频产物落到临时文件，调用方通过 Release 清理
func (c *Client) downloadVideo(ctx context.Context, uri string) (*service.VideoHandle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, parseAPIError(resp.StatusCode, body)
	}

	file, err := os.CreateTemp(c.videoDir, "generation-*.mp4")
	if err != nil {
		return nil, fmt.Errorf("failed to create video temp file: %w", err)
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("failed to write video file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return nil, fmt.Errorf("failed to close video file: %w", err)
	}

	return &service.VideoHandle{Path: file.Name()}, nil
}

func firstVideoURI(op *videoOperation) string {
	if op.Response == nil {
		return ""
	}
	samples := op.Response.GenerateVideoResponse.GeneratedSamples
	if len(samples) == 0 {
		return ""
	}
	return samples[0].Video.URI
}

package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-pixel-ai-api/internal/domain/entity"
	"z-pixel-ai-api/internal/domain/service"
	"z-pixel-ai-api/pkg/metrics"
	"z-pixel-ai-api/pkg/utils"
)

// maskPromptPrefix 有遮罩时改写提示词，把编辑限制在遮罩区域内
const maskPromptPrefix = "Apply the requested edit strictly inside the masked region " +
	"and keep every pixel outside the mask unchanged. Edit: "

type inlinePayload struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type contentPart struct {
	Text       string         `json:"text,omitempty"`
	InlineData *inlinePayload `json:"inlineData,omitempty"`
}

type requestContent struct {
	Parts []contentPart `json:"parts"`
}

type generateContentRequest struct {
	Contents []requestContent `json:"contents"`
}

type safetyRating struct {
	Category string `json:"category"`
	Blocked  bool   `json:"blocked"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content       requestContent `json:"content"`
		FinishReason  string         `json:"finishReason"`
		SafetyRatings []safetyRating `json:"safetyRatings"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason   string         `json:"blockReason"`
		SafetyRatings []safetyRating `json:"safetyRatings"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// EditImage 执行一次图像编辑调用
func (c *Client) EditImage(ctx context.Context, in service.ImageEditInput) (*service.ImageResult, error) {
	ctx, span := tracer.Start(ctx, "provider.EditImage",
		trace.WithAttributes(attribute.String("provider.model", c.imageModel)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.imageTimeout)
	defer cancel()

	prompt := in.Prompt
	if in.Mask != nil {
		prompt = maskPromptPrefix + prompt
	}

	// 载荷顺序：主图、遮罩、参考图、提示词
	parts := []contentPart{{InlineData: inlineOf(&in.Primary)}}
	if in.Mask != nil {
		parts = append(parts, contentPart{InlineData: inlineOf(in.Mask)})
	}
	if in.Secondary != nil {
		parts = append(parts, contentPart{InlineData: inlineOf(in.Secondary)})
	}
	parts = append(parts, contentPart{Text: prompt})

	body, err := json.Marshal(&generateContentRequest{
		Contents: []requestContent{{Parts: parts}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.imageModel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}

	start := c.now()
	var resp generateContentResponse
	if err := c.doJSON(req, &resp); err != nil {
		metrics.ProviderCallTotal.WithLabelValues("image_edit", "error").Inc()
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &service.TimeoutError{Stage: "image", Elapsed: c.imageTimeout}
		}
		return nil, translateTransportError(err)
	}
	metrics.ProviderCallTotal.WithLabelValues("image_edit", "success").Inc()
	metrics.ProviderCallDuration.WithLabelValues("image_edit").Observe(c.now().Sub(start).Seconds())

	result, err := parseImageResponse(&resp)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	metrics.ProviderTokensUsed.WithLabelValues("image_edit").Add(float64(result.TokensUsed))
	return result, nil
}

func parseImageResponse(resp *generateContentResponse) (*service.ImageResult, error) {
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return nil, &service.ExternalServiceError{
			Message:          "request blocked by safety filters",
			SafetyCategories: blockedCategories(fb.SafetyRatings),
		}
	}
	if len(resp.Candidates) == 0 {
		return nil, &service.UnknownError{Raw: "provider returned no candidates"}
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == "SAFETY" {
		return nil, &service.ExternalServiceError{
			Message:          "response blocked by safety filters",
			SafetyCategories: blockedCategories(candidate.SafetyRatings),
		}
	}

	var texts []string
	var imageURL string
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
		if imageURL == "" && part.InlineData != nil {
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to decode image part: %w", err)
			}
			imageURL = utils.EncodeDataURI(part.InlineData.MimeType, data)
		}
	}

	text := strings.Join(texts, "\n")
	if imageURL == "" {
		// 提供商没产出图像时用文本合成错误，保留模型给出的原因
		msg := "provider returned no image"
		if text != "" {
			msg = "provider returned no image: " + text
		}
		return nil, &service.ExternalServiceError{Message: msg}
	}

	return &service.ImageResult{
		ImageURL:   imageURL,
		Text:       text,
		TokensUsed: resp.UsageMetadata.TotalTokenCount,
	}, nil
}

func inlineOf(img *entity.ImageData) *inlinePayload {
	return &inlinePayload{
		MimeType: img.MimeType,
		Data:     base64.StdEncoding.EncodeToString(img.Data),
	}
}

func blockedCategories(ratings []safetyRating) []string {
	var categories []string
	for _, r := range ratings {
		if r.Blocked {
			categories = append(categories, r.Category)
		}
	}
	return categories
}

// translateTransportError 保持已归类的错误不变，其余归入 UnknownError
func translateTransportError(err error) error {
	var extErr *service.ExternalServiceError
	var unkErr *service.UnknownError
	if errors.As(err, &extErr) || errors.As(err, &unkErr) {
		return err
	}
	return &service.UnknownError{Raw: err.Error()}
}

package dto

import (
	"time"

	"github.com/google/uuid"

	"z-pixel-ai-api/internal/domain/entity"
)

// ImagePayload 内联图像，Data 为 base64（JSON []byte 默认编码）
type ImagePayload struct {
	MimeType string `json:"mime_type" binding:"required"`
	Data     []byte `json:"data" binding:"required"`
}

// GenerateRequest 生成请求
type GenerateRequest struct {
	Kind           string        `json:"kind" binding:"required"`
	Prompt         string        `json:"prompt"`
	AspectRatio    string        `json:"aspect_ratio"`
	PrimaryImage   *ImagePayload `json:"primary_image"`
	SecondaryImage *ImagePayload `json:"secondary_image"`
	MaskImage      *ImagePayload `json:"mask_image"`
}

// ToEntity 转换为领域请求
func (r *GenerateRequest) ToEntity(userID, sessionID string) *entity.GenerationRequest {
	return &entity.GenerationRequest{
		ID:             uuid.New().String(),
		UserID:         userID,
		SessionID:      sessionID,
		Kind:           entity.TransformationKind(r.Kind),
		PrimaryImage:   r.PrimaryImage.toEntity(),
		SecondaryImage: r.SecondaryImage.toEntity(),
		MaskImage:      r.MaskImage.toEntity(),
		Prompt:         r.Prompt,
		AspectRatio:    r.AspectRatio,
		SubmittedAt:    time.Now(),
	}
}

func (p *ImagePayload) toEntity() *entity.ImageData {
	if p == nil {
		return nil
	}
	return &entity.ImageData{MimeType: p.MimeType, Data: p.Data}
}

// GenerationResponse 生成结果
type GenerationResponse struct {
	ID                   string `json:"id"`
	Kind                 string `json:"kind"`
	ImageURL             string `json:"image_url,omitempty"`
	Text                 string `json:"text,omitempty"`
	VideoURL             string `json:"video_url,omitempty"`
	IntermediateImageURL string `json:"intermediate_image_url,omitempty"`
	TokensUsed           int    `json:"tokens_used,omitempty"`
	ElapsedMs            int    `json:"elapsed_ms"`
	CreatedAt            string `json:"created_at"`
}

// FromResult 从领域结果构建响应
func FromResult(result *entity.GenerationResult) GenerationResponse {
	return GenerationResponse{
		ID:                   result.ID,
		Kind:                 string(result.Kind),
		ImageURL:             result.ImageURL,
		Text:                 result.Text,
		VideoURL:             result.VideoURL,
		IntermediateImageURL: result.IntermediateImageURL,
		TokensUsed:           result.TokensUsed,
		ElapsedMs:            result.ElapsedMs,
		CreatedAt:            result.CreatedAt.Format(time.RFC3339),
	}
}

// HistoryResponse 会话历史
type HistoryResponse struct {
	SessionID string               `json:"session_id"`
	Results   []GenerationResponse `json:"results"`
}

// Package entity 定义领域实体
package entity

import "time"

// TransformationKind 生成变换类型
type TransformationKind string

const (
	// KindImageEdit 单图编辑（可带遮罩），需要用户自定义提示词
	KindImageEdit TransformationKind = "image_edit"
	// KindMultiImageCompose 多图合成，需要第二张参考图
	KindMultiImageCompose TransformationKind = "multi_image_compose"
	// KindFigurine 手办化风格变换，内置提示词
	KindFigurine TransformationKind = "figurine"
	// KindLineArtRender 两步管线：先提取线稿，再按线稿渲染成品
	KindLineArtRender TransformationKind = "line_art_render"
	// KindVideoAnimate 参考图驱动的视频生成
	KindVideoAnimate TransformationKind = "video_animate"
)

// SecondaryImageMode 第二张图的约束
type SecondaryImageMode int

const (
	SecondaryNone SecondaryImageMode = iota
	SecondaryOptional
	SecondaryRequired
)

// KindSpec 变换类型的静态特征
type KindSpec struct {
	Kind           TransformationKind
	TwoStep        bool
	Video          bool
	Secondary      SecondaryImageMode
	RequiresPrompt bool
	// BasePrompt 内置提示词，RequiresPrompt 为 false 时使用
	BasePrompt string
	Operation  OperationKind
}

var kindSpecs = map[TransformationKind]KindSpec{
	KindImageEdit: {
		Kind:           KindImageEdit,
		Secondary:      SecondaryOptional,
		RequiresPrompt: true,
		Operation:      OperationImageEdit,
	},
	KindMultiImageCompose: {
		Kind:           KindMultiImageCompose,
		Secondary:      SecondaryRequired,
		RequiresPrompt: true,
		Operation:      OperationImageEdit,
	},
	KindFigurine: {
		Kind:      KindFigurine,
		Secondary: SecondaryNone,
		BasePrompt: "Turn this photo into a collectible figurine on a desk, " +
			"with a product box showing the original artwork behind it.",
		Operation: OperationImageEdit,
	},
	KindLineArtRender: {
		Kind:      KindLineArtRender,
		TwoStep:   true,
		Secondary: SecondaryOptional,
		BasePrompt: "Render this line art into a fully colored illustration, " +
			"keeping every contour exactly where it is.",
		Operation: OperationImageEdit,
	},
	KindVideoAnimate: {
		Kind:           KindVideoAnimate,
		Video:          true,
		Secondary:      SecondaryNone,
		RequiresPrompt: true,
		Operation:      OperationVideoGeneration,
	},
}

// SpecFor 查找变换类型特征
func SpecFor(kind TransformationKind) (KindSpec, bool) {
	s, ok := kindSpecs[kind]
	return s, ok
}

// ImageData 内联图像数据
type ImageData struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// GenerationRequest 一次生成请求，提交后不可变
type GenerationRequest struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	SessionID      string             `json:"session_id"`
	Kind           TransformationKind `json:"kind"`
	PrimaryImage   *ImageData         `json:"primary_image,omitempty"`
	SecondaryImage *ImageData         `json:"secondary_image,omitempty"`
	MaskImage      *ImageData         `json:"mask_image,omitempty"`
	Prompt         string             `json:"prompt"`
	AspectRatio    string             `json:"aspect_ratio,omitempty"`
	SubmittedAt    time.Time          `json:"submitted_at"`
}

// GenerationResult 一次生成的产出
type GenerationResult struct {
	ID   string             `json:"id"`
	Kind TransformationKind `json:"kind"`

	// ImageURL 最终图像（data URI），视频请求时为空
	ImageURL string `json:"image_url,omitempty"`
	// Text 提供商返回的文本说明
	Text string `json:"text,omitempty"`
	// VideoURL 本地视频文件引用，调用方负责释放
	VideoURL string `json:"video_url,omitempty"`
	// IntermediateImageURL 两步管线的第一步产出（线稿）
	IntermediateImageURL string `json:"intermediate_image_url,omitempty"`

	TokensUsed int       `json:"tokens_used,omitempty"`
	ElapsedMs  int       `json:"elapsed_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

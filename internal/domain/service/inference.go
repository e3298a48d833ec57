// Package service 定义跨层稳定契约（port）
package service

import (
	"context"
	"os"

	"z-pixel-ai-api/internal/domain/entity"
)

// ImageEditInput 一次图像编辑调用的输入。
// 载荷顺序约定：主图、可选遮罩、可选参考图、提示词。
type ImageEditInput struct {
	Primary   entity.ImageData
	Mask      *entity.ImageData
	Secondary *entity.ImageData
	Prompt    string
}

// ImageResult 图像编辑产出
type ImageResult struct {
	// ImageURL data URI 形式的结果图像
	ImageURL string
	// Text 提供商返回的文本部分（换行拼接）
	Text       string
	TokensUsed int
}

// VideoInput 一次视频生成调用的输入
type VideoInput struct {
	Prompt      string
	Reference   *entity.ImageData
	AspectRatio string
}

// VideoHandle 本地持有的视频产物。包装临时文件句柄，
// 不再展示时必须显式 Release，不依赖垃圾回收。
type VideoHandle struct {
	Path       string
	TokensUsed int
}

// Release 删除底层临时文件
func (h *VideoHandle) Release() error {
	if h == nil || h.Path == "" {
		return nil
	}
	return os.Remove(h.Path)
}

// InferenceProvider 外部推理提供商端口。
// 实现不做任何自动重试，单次失败即为最终失败。
type InferenceProvider interface {
	// EditImage 执行一次图像编辑，受 5 分钟超时约束
	EditImage(ctx context.Context, in ImageEditInput) (*ImageResult, error)

	// GenerateVideo 提交视频任务并轮询至终态，整体受 15 分钟超时约束。
	// progress 为阶段提示回调，可为 nil。
	GenerateVideo(ctx context.Context, in VideoInput, progress func(string)) (*VideoHandle, error)
}

// Package generation 编排一次生成请求的完整生命周期
package generation

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"z-pixel-ai-api/internal/application/budget"
	"z-pixel-ai-api/internal/application/ratelimit"
	"z-pixel-ai-api/internal/domain/entity"
	"z-pixel-ai-api/internal/domain/service"
	"z-pixel-ai-api/pkg/logger"
	"z-pixel-ai-api/pkg/metrics"
	"z-pixel-ai-api/pkg/utils"
)

// ErrSessionBusy 同一会话已有请求在处理中
var ErrSessionBusy = errors.New("a generation is already in flight for this session")

// globalScopeKey 全局限流作用域的共享标识符
const globalScopeKey = "all"

// lineArtPrompt 两步管线第一步：提取线稿
const lineArtPrompt = "Extract clean black-and-white line art from this image, " +
	"preserving every structural contour and dropping all color and shading."

// Options 编排器行为配置
type Options struct {
	WatermarkEnabled bool
	WatermarkLabel   string
	HistoryCapacity  int
}

// Orchestrator 生成编排器。状态推进顺序固定：
// 校验 -> 限流 -> 预算 -> 调用提供商 ->（视频轮询）-> 后处理 -> 完成，
// 任一环节失败即进入 Failed，后续环节不再执行。
type Orchestrator struct {
	limiter  *ratelimit.Limiter
	budget   *budget.Controller
	provider service.InferenceProvider
	history  *History
	opts     Options

	mu       sync.Mutex
	inflight map[string]struct{}

	now func() time.Time
}

// NewOrchestrator 创建生成编排器
func NewOrchestrator(limiter *ratelimit.Limiter, controller *budget.Controller, provider service.InferenceProvider, opts Options) *Orchestrator {
	return &Orchestrator{
		limiter:  limiter,
		budget:   controller,
		provider: provider,
		history:  NewHistory(opts.HistoryCapacity),
		opts:     opts,
		inflight: make(map[string]struct{}),
		now:      time.Now,
	}
}

// Run 执行一次生成。events 可为 nil；非 nil 时阶段事件以
// 非阻塞方式推送，消费跟不上只会丢事件，不会拖慢生成。
// 同一会话并发调用时后到者立即返回 ErrSessionBusy。
func (o *Orchestrator) Run(ctx context.Context, req *entity.GenerationRequest, events chan<- StageEvent) (*entity.GenerationResult, error) {
	if !o.acquire(req.SessionID) {
		return nil, ErrSessionBusy
	}
	defer o.release(req.SessionID)

	metrics.ActiveGenerations.Inc()
	defer metrics.ActiveGenerations.Dec()

	start := o.now()
	result, err := o.run(ctx, req, events, start)
	elapsed := o.now().Sub(start)

	kind := string(req.Kind)
	if err != nil {
		o.emit(events, StageFailed, err.Error())
		metrics.GenerationTotal.WithLabelValues(kind, "failed").Inc()
		return nil, err
	}

	o.emit(events, StageDone, "")
	metrics.GenerationTotal.WithLabelValues(kind, "success").Inc()
	metrics.GenerationDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, req *entity.GenerationRequest, events chan<- StageEvent, start time.Time) (*entity.GenerationResult, error) {
	o.emit(events, StageValidating, "")
	spec, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	// 限流先于预算：限流拒绝不应消耗预算检查的存储往返
	o.emit(events, StageRateLimitCheck, "")
	if err := o.admit(ctx, req.UserID); err != nil {
		return nil, err
	}

	o.emit(events, StageBudgetCheck, "")
	estimated := entity.EstimatedCost(spec.Operation)
	decision, err := o.budget.CheckBudget(ctx, req.UserID, spec.Operation, estimated)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &service.BudgetExceededError{Reason: decision.Reason, Stats: decision.Stats}
	}

	tokens := 0
	defer func() {
		// 调用方取消时保留预留流水不再结算，预估值即为终值
		if ctx.Err() != nil {
			return
		}
		elapsedMs := int(o.now().Sub(start).Milliseconds())
		if recErr := o.budget.RecordCost(context.WithoutCancel(ctx), decision.Record, 0, tokens, elapsedMs); recErr != nil {
			logger.Warn(ctx, "failed to settle cost record",
				"record_id", decision.Record.ID, "error", recErr.Error())
		}
	}()

	result := &entity.GenerationResult{ID: req.ID, Kind: req.Kind}

	if spec.Video {
		o.emit(events, StageInvoking, "submitting video task")
		handle, err := o.provider.GenerateVideo(ctx, service.VideoInput{
			Prompt:      req.Prompt,
			Reference:   req.PrimaryImage,
			AspectRatio: req.AspectRatio,
		}, func(msg string) {
			o.emit(events, StagePolling, msg)
		})
		if err != nil {
			return nil, err
		}
		tokens = handle.TokensUsed
		result.VideoURL = handle.Path
	} else {
		o.emit(events, StageInvoking, "")
		imageResult, used, err := o.invokeImage(ctx, req, spec, events)
		if err != nil {
			return nil, err
		}
		tokens = used
		result.ImageURL = imageResult.ImageURL
		result.Text = imageResult.Text
		result.IntermediateImageURL = imageResult.IntermediateImageURL
	}

	o.emit(events, StagePostProcessing, "")
	if result.ImageURL != "" && o.opts.WatermarkEnabled {
		watermarked, err := applyWatermark(result.ImageURL, o.opts.WatermarkLabel)
		if err != nil {
			// 水印失败不推翻已成功的生成
			logger.Warn(ctx, "failed to apply watermark", "request_id", req.ID, "error", err.Error())
		} else {
			result.ImageURL = watermarked
		}
	}

	result.TokensUsed = tokens
	result.ElapsedMs = int(o.now().Sub(start).Milliseconds())
	result.CreatedAt = o.now()

	releaseResults(o.history.Append(req.SessionID, result))
	return result, nil
}

type imageOutcome struct {
	ImageURL             string
	Text                 string
	IntermediateImageURL string
}

// invokeImage 执行图像路径：单步直接调用，两步管线先提取线稿
// 再渲染，第一步无图像产出时立即失败，不进入第二步。
func (o *Orchestrator) invokeImage(ctx context.Context, req *entity.GenerationRequest, spec entity.KindSpec, events chan<- StageEvent) (imageOutcome, int, error) {
	prompt := buildPrompt(spec, req.Prompt)

	if !spec.TwoStep {
		res, err := o.provider.EditImage(ctx, service.ImageEditInput{
			Primary:   *req.PrimaryImage,
			Mask:      req.MaskImage,
			Secondary: req.SecondaryImage,
			Prompt:    prompt,
		})
		if err != nil {
			return imageOutcome{}, 0, err
		}
		if res.ImageURL == "" {
			return imageOutcome{}, res.TokensUsed, &service.ExternalServiceError{
				Message: "provider returned no image: " + res.Text,
			}
		}
		return imageOutcome{ImageURL: res.ImageURL, Text: res.Text}, res.TokensUsed, nil
	}

	step1, err := o.provider.EditImage(ctx, service.ImageEditInput{
		Primary: *req.PrimaryImage,
		Prompt:  lineArtPrompt,
	})
	if err != nil {
		return imageOutcome{}, 0, err
	}
	if step1.ImageURL == "" {
		return imageOutcome{}, step1.TokensUsed, &service.ExternalServiceError{
			Message: "line art extraction produced no image",
		}
	}

	mimeType, data, err := decodeIntermediate(step1.ImageURL)
	if err != nil {
		return imageOutcome{}, step1.TokensUsed, err
	}
	intermediate := &entity.ImageData{MimeType: mimeType, Data: data}

	secondary := req.SecondaryImage
	if secondary != nil {
		resized, err := resizeToMatch(secondary, intermediate)
		if err != nil {
			return imageOutcome{}, step1.TokensUsed, &service.ValidationError{
				Field: "secondary_image", Message: err.Error(),
			}
		}
		secondary = resized
	}

	o.emit(events, StageInvoking, "rendering line art")
	step2, err := o.provider.EditImage(ctx, service.ImageEditInput{
		Primary:   *intermediate,
		Secondary: secondary,
		Prompt:    prompt,
	})
	if err != nil {
		return imageOutcome{}, step1.TokensUsed, err
	}
	tokens := step1.TokensUsed + step2.TokensUsed
	if step2.ImageURL == "" {
		return imageOutcome{}, tokens, &service.ExternalServiceError{
			Message: "line art rendering produced no image: " + step2.Text,
		}
	}

	return imageOutcome{
		ImageURL:             step2.ImageURL,
		Text:                 step2.Text,
		IntermediateImageURL: step1.ImageURL,
	}, tokens, nil
}

// admit 依次通过全局、用户、生成三个限流作用域
func (o *Orchestrator) admit(ctx context.Context, userID string) error {
	checks := []struct {
		scope      ratelimit.Scope
		identifier string
	}{
		{ratelimit.ScopeGlobal, globalScopeKey},
		{ratelimit.ScopeUser, userID},
		{ratelimit.ScopeGeneration, userID},
	}
	for _, c := range checks {
		decision, err := o.limiter.Admit(ctx, c.scope, c.identifier)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return &service.RateLimitedError{
				Scope:             strings.TrimPrefix(c.scope.KeyPrefix, "rl:"),
				RetryAfterSeconds: decision.RetryAfterSeconds,
			}
		}
	}
	return nil
}

// SessionHistory 返回会话历史的快照
func (o *Orchestrator) SessionHistory(sessionID string) []*entity.GenerationResult {
	return o.history.List(sessionID)
}

// ClearSessionHistory 清空会话历史并释放视频临时文件
func (o *Orchestrator) ClearSessionHistory(sessionID string) {
	releaseResults(o.history.Clear(sessionID))
}

func (o *Orchestrator) acquire(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[sessionID]; busy {
		return false
	}
	o.inflight[sessionID] = struct{}{}
	return true
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, sessionID)
}

func (o *Orchestrator) emit(events chan<- StageEvent, stage Stage, msg string) {
	metrics.GenerationStageTotal.WithLabelValues(string(stage)).Inc()
	if events == nil {
		return
	}
	select {
	case events <- StageEvent{Stage: stage, Message: msg, At: o.now()}:
	default:
	}
}

// buildPrompt 选择提示词：自定义类型用用户输入，内置类型以
// 内置提示词为基底，用户补充追加在后
func buildPrompt(spec entity.KindSpec, userPrompt string) string {
	userPrompt = strings.TrimSpace(userPrompt)
	if spec.RequiresPrompt {
		return userPrompt
	}
	if userPrompt == "" {
		return spec.BasePrompt
	}
	return spec.BasePrompt + "\n" + userPrompt
}

func decodeIntermediate(imageURL string) (string, []byte, error) {
	mimeType, data, err := utils.DecodeDataURI(imageURL)
	if err != nil {
		return "", nil, &service.UnknownError{Raw: "intermediate image unreadable: " + err.Error()}
	}
	return mimeType, data, nil
}

// releaseResults 释放被逐出历史的结果占用的视频临时文件
func releaseResults(results []*entity.GenerationResult) {
	for _, r := range results {
		if r.VideoURL != "" {
			_ = os.Remove(r.VideoURL)
		}
	}
}

package handler

import (
	"io"

	"github.com/gin-gonic/gin"

	"z-pixel-ai-api/internal/application/generation"
	"z-pixel-ai-api/internal/interfaces/http/dto"
)

// GenerationHandler 生成请求处理器
type GenerationHandler struct {
	orchestrator *generation.Orchestrator
}

// NewGenerationHandler 创建生成处理器
func NewGenerationHandler(orchestrator *generation.Orchestrator) *GenerationHandler {
	return &GenerationHandler{orchestrator: orchestrator}
}

// Generate 同步生成：阻塞到终态后一次性返回结果
func (h *GenerationHandler) Generate(c *gin.Context) {
	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	entityReq := req.ToEntity(c.GetString("user_id"), c.GetString("session_id"))
	result, err := h.orchestrator.Run(c.Request.Context(), entityReq, nil)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	dto.Success(c, dto.FromResult(result))
}

// GenerateStream SSE 流式生成：推送阶段事件，终态时推送结果或错误
func (h *GenerationHandler) GenerateStream(c *gin.Context) {
	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	entityReq := req.ToEntity(c.GetString("user_id"), c.GetString("session_id"))
	events := make(chan generation.StageEvent, 32)

	type outcome struct {
		result *dto.GenerationResponse
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer close(events)
		result, err := h.orchestrator.Run(c.Request.Context(), entityReq, events)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		resp := dto.FromResult(result)
		done <- outcome{result: &resp}
	}()

	c.Stream(func(w io.Writer) bool {
		event, ok := <-events
		if !ok {
			final := <-done
			if final.err != nil {
				c.SSEvent("error", gin.H{"message": final.err.Error()})
			} else {
				c.SSEvent("result", final.result)
			}
			return false
		}
		c.SSEvent("stage", event)
		return true
	})
}

// History 返回当前会话的生成历史
func (h *GenerationHandler) History(c *gin.Context) {
	sessionID := c.GetString("session_id")
	results := h.orchestrator.SessionHistory(sessionID)

	resp := dto.HistoryResponse{
		SessionID: sessionID,
		Results:   make([]dto.GenerationResponse, 0, len(results)),
	}
	for _, r := range results {
		resp.Results = append(resp.Results, dto.FromResult(r))
	}
	dto.Success(c, resp)
}

// ClearHistory 清空当前会话历史并释放附属资源
func (h *GenerationHandler) ClearHistory(c *gin.Context) {
	h.orchestrator.ClearSessionHistory(c.GetString("session_id"))
	dto.NoContent(c)
}

// Package handler 提供 HTTP 请求处理器
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"z-pixel-ai-api/internal/application/generation"
	"z-pixel-ai-api/internal/domain/service"
	"z-pixel-ai-api/internal/interfaces/http/dto"
	apperrors "z-pixel-ai-api/pkg/errors"
	"z-pixel-ai-api/pkg/logger"
)

// respondEngineError 把引擎的类型化错误翻译为 HTTP 响应。
// 校验、限流、预算拒绝是常规结果，原样透出且不记错误日志。
func respondEngineError(c *gin.Context, err error) {
	var (
		vErr   *service.ValidationError
		rlErr  *service.RateLimitedError
		bErr   *service.BudgetExceededError
		extErr *service.ExternalServiceError
		toErr  *service.TimeoutError
		unkErr *service.UnknownError
	)

	switch {
	case errors.Is(err, generation.ErrSessionBusy):
		respondAppError(c, apperrors.ErrGenerationInFlight, nil)

	case errors.As(err, &vErr):
		respondAppError(c, apperrors.New(apperrors.CodeValidationFailed, vErr.Error()), nil)

	case errors.As(err, &rlErr):
		c.Header("Retry-After", strconv.Itoa(rlErr.RetryAfterSeconds))
		respondAppError(c, apperrors.New(apperrors.CodeRateLimited, rlErr.Error()), &dto.ErrorDetail{
			RetryAfterSeconds: rlErr.RetryAfterSeconds,
		})

	case errors.As(err, &bErr):
		detail := &dto.ErrorDetail{}
		if bErr.Stats != nil {
			detail.Stats = dto.FromUserStats(bErr.Stats)
		}
		respondAppError(c, apperrors.New(apperrors.CodeBudgetExceeded, bErr.Error()), detail)

	case errors.As(err, &toErr):
		respondAppError(c, apperrors.New(apperrors.CodeGenerationTimeout, toErr.Error()), nil)

	case errors.As(err, &extErr):
		code := apperrors.CodeProviderError
		if len(extErr.SafetyCategories) > 0 {
			code = apperrors.CodeSafetyBlocked
		}
		respondAppError(c, apperrors.New(code, extErr.Error()), &dto.ErrorDetail{
			Details: strings.Join(extErr.SafetyCategories, ", "),
		})

	case errors.As(err, &unkErr):
		logger.Error(c.Request.Context(), "generation failed", err)
		respondAppError(c, apperrors.New(apperrors.CodeGenerationFailed, "generation failed"), nil)

	default:
		logger.Error(c.Request.Context(), "unexpected error", err)
		dto.InternalError(c, "internal server error")
	}
}

func respondAppError(c *gin.Context, appErr *apperrors.AppError, detail *dto.ErrorDetail) {
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if detail == nil {
		detail = &dto.ErrorDetail{}
	}
	detail.ErrorCode = string(appErr.Code)
	dto.ErrorWithDetail(c, status, appErr.Message, detail)
}

package generation

import "time"

// Stage 生成流程阶段
type Stage string

const (
	StageValidating     Stage = "validating"
	StageRateLimitCheck Stage = "rate_limit_check"
	StageBudgetCheck    Stage = "budget_check"
	StageInvoking       Stage = "invoking"
	StagePolling        Stage = "polling"
	StagePostProcessing Stage = "post_processing"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

// StageEvent 阶段事件，通过进度通道推送给调用方
type StageEvent struct {
	Stage   Stage     `json:"stage"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

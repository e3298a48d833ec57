// Package budget 提供成本台账与预算控制
package budget

import (
	"context"
	"fmt"
	"time"

	"z-pixel-ai-api/internal/domain/entity"
	"z-pixel-ai-api/internal/domain/repository"
	"z-pixel-ai-api/internal/domain/service"
	"z-pixel-ai-api/pkg/logger"
	"z-pixel-ai-api/pkg/metrics"
)

// Decision 预算判定结果
type Decision struct {
	Allowed bool                  `json:"allowed"`
	Reason  string                `json:"reason,omitempty"`
	Stats   *entity.UserCostStats `json:"stats,omitempty"`
	// Record 放行时的预留流水，操作完成后据此结算
	Record *entity.CostRecord `json:"-"`
}

// Controller 预算控制器。
// 放行即预留：在仓储事务内原子检查并插入流水，避免并发请求
// 各自读到未更新的累计值而双双放行的竞态。
type Controller struct {
	costRepo repository.CostRecordRepository
	profiles service.ProfileStore
	notifier service.BudgetNotifier

	// alertThreshold 预算告警阈值（已用比例）
	alertThreshold float64
	now            func() time.Time
}

// NewController 创建预算控制器
func NewController(costRepo repository.CostRecordRepository, profiles service.ProfileStore, notifier service.BudgetNotifier, alertThreshold float64) *Controller {
	if alertThreshold <= 0 || alertThreshold >= 1 {
		alertThreshold = 0.8
	}
	return &Controller{
		costRepo:       costRepo,
		profiles:       profiles,
		notifier:       notifier,
		alertThreshold: alertThreshold,
		now:            time.Now,
	}
}

// periodStarts 返回本地日历日与日历月的起点
func (c *Controller) periodStarts() (dayStart, monthStart time.Time) {
	now := c.now()
	dayStart = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return dayStart, monthStart
}

// CheckBudget 预算判定。检查顺序：
// 1. 单次请求成本上限（与累计用量无关的硬上限）
// 2. 当日累计 + 预估 <= 日限额
// 3. 当月累计 + 预估 <= 月限额
// 通过后原子预留一条流水。
func (c *Controller) CheckBudget(ctx context.Context, userID string, kind entity.OperationKind, estimatedCost float64) (Decision, error) {
	tier, err := c.profiles.TierFor(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to resolve user tier: %w", err)
	}

	tierBudget, err := entity.BudgetForTier(tier)
	if err != nil {
		metrics.BudgetChecksTotal.WithLabelValues(string(tier), "denied").Inc()
		return Decision{Allowed: false, Reason: "invalid tier"}, nil
	}

	if estimatedCost > tierBudget.MaxSingleRequestCost {
		metrics.BudgetChecksTotal.WithLabelValues(string(tier), "denied").Inc()
		return Decision{
			Allowed: false,
			Reason: fmt.Sprintf("estimated cost $%.2f exceeds per-request limit $%.2f for tier %s",
				estimatedCost, tierBudget.MaxSingleRequestCost, tier),
		}, nil
	}

	stats, err := c.statsFor(ctx, userID, tierBudget)
	if err != nil {
		return Decision{}, err
	}

	if stats.DailyCost+estimatedCost > tierBudget.DailyLimit {
		metrics.BudgetChecksTotal.WithLabelValues(string(tier), "denied").Inc()
		return Decision{
			Allowed: false,
			Reason: fmt.Sprintf("daily budget exceeded: $%.2f + $%.2f > $%.2f",
				stats.DailyCost, estimatedCost, tierBudget.DailyLimit),
			Stats: stats,
		}, nil
	}

	if stats.MonthlyCost+estimatedCost > tierBudget.MonthlyLimit {
		metrics.BudgetChecksTotal.WithLabelValues(string(tier), "denied").Inc()
		return Decision{
			Allowed: false,
			Reason: fmt.Sprintf("monthly budget exceeded: $%.2f + $%.2f > $%.2f",
				stats.MonthlyCost, estimatedCost, tierBudget.MonthlyLimit),
			Stats: stats,
		}, nil
	}

	// 原子预留：事务内重新汇总并插入，并发时只有限额内的请求成功
	record := entity.NewCostRecord(userID, kind, estimatedCost)
	dayStart, monthStart := c.periodStarts()
	reserved, err := c.costRepo.Reserve(ctx, record, tierBudget.DailyLimit, tierBudget.MonthlyLimit, dayStart, monthStart)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to reserve cost record: %w", err)
	}
	if !reserved {
		metrics.BudgetChecksTotal.WithLabelValues(string(tier), "denied").Inc()
		return Decision{
			Allowed: false,
			Reason:  "budget exhausted by a concurrent request",
			Stats:   stats,
		}, nil
	}

	c.maybeAlert(ctx, userID, tier, tierBudget, stats, estimatedCost)

	metrics.BudgetChecksTotal.WithLabelValues(string(tier), "allowed").Inc()
	return Decision{Allowed: true, Stats: stats, Record: record}, nil
}

// RecordCost 结算流水：写入实际成本（提供商未报告用量时回落到预估）。
// 操作无论成败都要结算，已产生的调用已经计费。
func (c *Controller) RecordCost(ctx context.Context, record *entity.CostRecord, actualCost float64, tokensUsed, durationMs int) error {
	if record == nil {
		return nil
	}
	if actualCost <= 0 {
		actualCost = record.EstimatedCost
	}
	if err := c.costRepo.Settle(ctx, record.ID, actualCost, tokensUsed, durationMs); err != nil {
		return fmt.Errorf("failed to settle cost record: %w", err)
	}
	metrics.BudgetCostTotal.WithLabelValues(string(record.OperationKind)).Add(actualCost)
	return nil
}

// GetUserStats 用户成本统计（按需投影，重复调用结果一致）
func (c *Controller) GetUserStats(ctx context.Context, userID string, tier entity.Tier) (*entity.UserCostStats, error) {
	tierBudget, err := entity.BudgetForTier(tier)
	if err != nil {
		return nil, err
	}
	return c.statsFor(ctx, userID, tierBudget)
}

// GetSystemStats 系统级成本统计
func (c *Controller) GetSystemStats(ctx context.Context) (*entity.SystemCostStats, error) {
	dayStart, monthStart := c.periodStarts()
	stats, err := c.costRepo.SystemStats(ctx, dayStart, monthStart)
	if err != nil {
		return nil, fmt.Errorf("failed to compute system stats: %w", err)
	}
	if stats.ActiveUserCount > 0 {
		stats.AverageCostPerUser = stats.TotalDailyCost / float64(stats.ActiveUserCount)
	}
	return stats, nil
}

func (c *Controller) statsFor(ctx context.Context, userID string, tierBudget entity.TierBudget) (*entity.UserCostStats, error) {
	dayStart, monthStart := c.periodStarts()
	end := c.now().Add(time.Second)

	dailyCost, err := c.costRepo.SumRange(ctx, userID, dayStart, end)
	if err != nil {
		return nil, fmt.Errorf("failed to sum daily cost: %w", err)
	}
	monthlyCost, err := c.costRepo.SumRange(ctx, userID, monthStart, end)
	if err != nil {
		return nil, fmt.Errorf("failed to sum monthly cost: %w", err)
	}

	remainingDaily := tierBudget.DailyLimit - dailyCost
	if remainingDaily < 0 {
		remainingDaily = 0
	}
	remainingMonthly := tierBudget.MonthlyLimit - monthlyCost
	if remainingMonthly < 0 {
		remainingMonthly = 0
	}

	return &entity.UserCostStats{
		UserID:           userID,
		Tier:             tierBudget.Tier,
		DailyCost:        dailyCost,
		MonthlyCost:      monthlyCost,
		DailyLimit:       tierBudget.DailyLimit,
		MonthlyLimit:     tierBudget.MonthlyLimit,
		CanMakeRequest:   dailyCost < tierBudget.DailyLimit && monthlyCost < tierBudget.MonthlyLimit,
		RemainingDaily:   remainingDaily,
		RemainingMonthly: remainingMonthly,
	}, nil
}

// maybeAlert 预算使用率越过阈值时发出告警。仅通知，从不阻断。
func (c *Controller) maybeAlert(ctx context.Context, userID string, tier entity.Tier, tierBudget entity.TierBudget, stats *entity.UserCostStats, estimatedCost float64) {
	if c.notifier == nil {
		return
	}

	check := func(period string, before, limit float64) {
		if limit <= 0 {
			return
		}
		after := before + estimatedCost
		if before/limit < c.alertThreshold && after/limit >= c.alertThreshold {
			alert := service.BudgetAlert{
				UserID: userID,
				Tier:   string(tier),
				Period: period,
				Used:   after,
				Limit:  limit,
				Ratio:  after / limit,
			}
			metrics.BudgetAlertsTotal.WithLabelValues(period).Inc()
			if err := c.notifier.Notify(ctx, alert); err != nil {
				logger.Warn(ctx, "budget alert delivery failed",
					"user_id", userID, "period", period, "error", err.Error())
			}
		}
	}

	check("daily", stats.DailyCost, tierBudget.DailyLimit)
	check("monthly", stats.MonthlyCost, tierBudget.MonthlyLimit)
}

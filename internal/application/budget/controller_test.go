package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-pixel-ai-api/internal/domain/entity"
	"z-pixel-ai-api/internal/domain/service"
)

// memLedger 内存台账，复刻仓储的预留语义
type memLedger struct {
	records []*entity.CostRecord
}

func (l *memLedger) Reserve(_ context.Context, record *entity.CostRecord, dailyLimit, monthlyLimit float64, dayStart, monthStart time.Time) (bool, error) {
	var daily, monthly float64
	for _, r := range l.records {
		if r.UserID != record.UserID {
			continue
		}
		if !r.CreatedAt.Before(dayStart) {
			daily += r.ActualCost
		}
		if !r.CreatedAt.Before(monthStart) {
			monthly += r.ActualCost
		}
	}
	if daily+record.EstimatedCost > dailyLimit || monthly+record.EstimatedCost > monthlyLimit {
		return false, nil
	}
	record.ID = uuid.New().String()
	record.CreatedAt = time.Now()
	l.records = append(l.records, record)
	return true, nil
}

func (l *memLedger) Settle(_ context.Context, recordID string, actualCost float64, tokensUsed, durationMs int) error {
	for _, r := range l.records {
		if r.ID == recordID {
			r.ActualCost = actualCost
			r.TokensUsed = tokensUsed
			r.DurationMs = durationMs
			return nil
		}
	}
	return errors.New("record not found")
}

func (l *memLedger) SumRange(_ context.Context, userID string, start, end time.Time) (float64, error) {
	var sum float64
	for _, r := range l.records {
		if r.UserID == userID && !r.CreatedAt.Before(start) && r.CreatedAt.Before(end) {
			sum += r.ActualCost
		}
	}
	return sum, nil
}

func (l *memLedger) SystemStats(_ context.Context, dayStart, monthStart time.Time) (*entity.SystemCostStats, error) {
	stats := &entity.SystemCostStats{}
	users := map[string]bool{}
	for _, r := range l.records {
		if !r.CreatedAt.Before(dayStart) {
			stats.TotalDailyCost += r.ActualCost
			users[r.UserID] = true
		}
		if !r.CreatedAt.Before(monthStart) {
			stats.TotalMonthlyCost += r.ActualCost
		}
	}
	stats.ActiveUserCount = int64(len(users))
	return stats, nil
}

type staticProfiles struct {
	tier entity.Tier
	err  error
}

func (p staticProfiles) TierFor(context.Context, string) (entity.Tier, error) {
	return p.tier, p.err
}

type capturingNotifier struct {
	alerts []service.BudgetAlert
}

func (n *capturingNotifier) Notify(_ context.Context, alert service.BudgetAlert) error {
	n.alerts = append(n.alerts, alert)
	return nil
}

func newTestController(tier entity.Tier) (*Controller, *memLedger, *capturingNotifier) {
	ledger := &memLedger{}
	notifier := &capturingNotifier{}
	c := NewController(ledger, staticProfiles{tier: tier}, notifier, 0.8)
	return c, ledger, notifier
}

func TestCheckBudget_SingleRequestCeiling(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(entity.TierFree)

	// 累计为零也必须拒绝超过单次上限的请求
	d, err := c.CheckBudget(ctx, "user-1", entity.OperationVideoGeneration, 0.10)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "per-request limit")
}

func TestCheckBudget_FreeTierExhaustion(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(entity.TierFree)

	// 免费档：日限额 $0.10，单次上限 $0.05
	d1, err := c.CheckBudget(ctx, "user-1", entity.OperationImageEdit, 0.05)
	require.NoError(t, err)
	require.True(t, d1.Allowed)
	require.NoError(t, c.RecordCost(ctx, d1.Record, 0, 0, 1200))

	d2, err := c.CheckBudget(ctx, "user-1", entity.OperationImageEdit, 0.05)
	require.NoError(t, err)
	require.True(t, d2.Allowed)
	require.NoError(t, c.RecordCost(ctx, d2.Record, 0, 0, 1100))

	d3, err := c.CheckBudget(ctx, "user-1", entity.OperationImageEdit, 0.05)
	require.NoError(t, err)
	assert.False(t, d3.Allowed)
	assert.Contains(t, d3.Reason, "$0.10 + $0.05 > $0.10")
}

func TestCheckBudget_InvalidTierDenied(t *testing.T) {
	ctx := context.Background()
	ledger := &memLedger{}
	c := NewController(ledger, staticProfiles{tier: entity.Tier("platinum")}, nil, 0.8)

	d, err := c.CheckBudget(ctx, "user-1", entity.OperationImageEdit, 0.01)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "invalid tier", d.Reason)
}

func TestRecordCost_ActualFallsBackToEstimate(t *testing.T) {
	ctx := context.Background()
	c, ledger, _ := newTestController(entity.TierStandard)

	d, err := c.CheckBudget(ctx, "user-1", entity.OperationImageEdit, 0.05)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// 提供商未报告实际成本，按预估结算
	require.NoError(t, c.RecordCost(ctx, d.Record, 0, 0, 900))
	assert.InDelta(t, 0.05, ledger.records[0].ActualCost, 1e-9)
}

func TestGetUserStats_SumsSettledCosts(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(entity.TierStandard)

	costs := []float64{0.04, 0.03, 0.05}
	var want float64
	for _, cost := range costs {
		d, err := c.CheckBudget(ctx, "user-1", entity.OperationImageEdit, 0.05)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.NoError(t, c.RecordCost(ctx, d.Record, cost, 100, 800))
		want += cost
	}

	stats, err := c.GetUserStats(ctx, "user-1", entity.TierStandard)
	require.NoError(t, err)
	assert.InDelta(t, want, stats.DailyCost, 1e-9)
	assert.True(t, stats.CanMakeRequest)
}

func TestGetUserStats_Idempotent(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(entity.TierStandard)

	d, err := c.CheckBudget(ctx, "user-1", entity.OperationImageEdit, 0.05)
	require.NoError(t, err)
	require.NoError(t, c.RecordCost(ctx, d.Record, 0.04, 0, 700))

	first, err := c.GetUserStats(ctx, "user-1", entity.TierStandard)
	require.NoError(t, err)
	second, err := c.GetUserStats(ctx, "user-1", entity.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCheckBudget_AlertOnThresholdCrossing(t *testing.T) {
	ctx := context.Background()
	c, _, notifier := newTestController(entity.TierFree)

	// 第一次 $0.05 把日使用率推到 50%，不告警
	d1, err := c.CheckBudget(ctx, "user-1", entity.OperationImageEdit, 0.05)
	require.NoError(t, err)
	require.True(t, d1.Allowed)
	require.NoError(t, c.RecordCost(ctx, d1.Record, 0, 0, 500))
	assert.Empty(t, notifier.alerts)

	// 第二次越过 80% 阈值
	d2, err := c.CheckBudget(ctx, "user-1", entity.OperationImageEdit, 0.05)
	require.NoError(t, err)
	require.True(t, d2.Allowed)
	require.NotEmpty(t, notifier.alerts)
	assert.Equal(t, "daily", notifier.alerts[0].Period)
}

func TestGetSystemStats_AveragesOverActiveUsers(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(entity.TierStandard)

	for _, user := range []string{"user-1", "user-2"} {
		d, err := c.CheckBudget(ctx, user, entity.OperationImageEdit, 0.05)
		require.NoError(t, err)
		require.NoError(t, c.RecordCost(ctx, d.Record, 0.05, 0, 600))
	}

	stats, err := c.GetSystemStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.ActiveUserCount)
	assert.InDelta(t, 0.05, stats.AverageCostPerUser, 1e-9)
}

package replay

import (
	"context"

	"promptback/internal/decision"
	"promptback/internal/store/model"

	"github.com/shopspring/decimal"
)

// Summary 任务级结果汇总，仅作展示，不回写任何状态。
type Summary struct {
	TaskID         uint `json:"task_id"`
	TotalCount     int  `json:"total_count"`
	CompletedCount int  `json:"completed_count"`
	FailedCount    int  `json:"failed_count"`
	ChangedCount   int  `json:"changed_count"`
	UnchangedCount int  `json:"unchanged_count"`

	// 原为开仓、回放改为 hold 的条目按历史已实现盈亏归类：
	// 亏损记为规避亏损，盈利记为错失盈利。金额用十进制累加避免浮点误差。
	AvoidedLossCount   int     `json:"avoided_loss_count"`
	AvoidedLossAmount  float64 `json:"avoided_loss_amount"`
	MissedProfitCount  int     `json:"missed_profit_count"`
	MissedProfitAmount float64 `json:"missed_profit_amount"`
}

// ComputeSummary 读取任务与全部条目并汇总。
func (s *Service) ComputeSummary(ctx context.Context, taskID uint) (Summary, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return Summary{}, err
	}
	items, err := s.store.ListItems(ctx, taskID)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{
		TaskID:         task.ID,
		TotalCount:     task.TotalCount,
		CompletedCount: task.CompletedCount,
		FailedCount:    task.FailedCount,
	}
	avoided := decimal.Zero
	missed := decimal.Zero
	for _, it := range items {
		if it.Status != model.ItemStatusCompleted {
			continue
		}
		if it.DecisionChanged != nil && *it.DecisionChanged {
			sum.ChangedCount++
		} else {
			sum.UnchangedCount++
		}
		pnl := decimal.NewFromFloat(it.OriginalRealizedPnL)
		switch decision.ClassifyOutcome(it.OriginalOperation, it.NewOperation, it.OriginalRealizedPnL) {
		case decision.OutcomeAvoidedLoss:
			sum.AvoidedLossCount++
			avoided = avoided.Add(pnl.Abs())
		case decision.OutcomeMissedProfit:
			sum.MissedProfitCount++
			missed = missed.Add(pnl)
		}
	}
	sum.AvoidedLossAmount, _ = avoided.Float64()
	sum.MissedProfitAmount, _ = missed.Float64()
	return sum, nil
}

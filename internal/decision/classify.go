package decision

import "strings"

// Classify 比较原决策与新决策的操作，给出变化标志与迁移标签。
// 比较按小写进行；未变化时标签为空串。
func Classify(originalOp, newOp string) (changed bool, changeType string) {
	orig := strings.ToLower(strings.TrimSpace(originalOp))
	next := strings.ToLower(strings.TrimSpace(newOp))
	if orig == next {
		return false, ""
	}
	return true, orig + "_to_" + next
}

// entryOps 开仓类操作；与 hold 的组合决定规避亏损/错失盈利归类。
var entryOps = map[string]bool{"buy": true, "sell": true}

// Outcome 汇总层使用的变化归类。
type Outcome int

const (
	OutcomeNeutral Outcome = iota
	OutcomeAvoidedLoss
	OutcomeMissedProfit
)

// ClassifyOutcome 原操作为开仓、新操作为 hold 时按历史已实现盈亏归类：
// 亏损视为规避亏损，盈利视为错失盈利。仅作信息展示，不影响落库。
func ClassifyOutcome(originalOp, newOp string, realizedPnL float64) Outcome {
	orig := strings.ToLower(strings.TrimSpace(originalOp))
	next := strings.ToLower(strings.TrimSpace(newOp))
	if !entryOps[orig] || next != "hold" {
		return OutcomeNeutral
	}
	switch {
	case realizedPnL < 0:
		return OutcomeAvoidedLoss
	case realizedPnL > 0:
		return OutcomeMissedProfit
	default:
		return OutcomeNeutral
	}
}

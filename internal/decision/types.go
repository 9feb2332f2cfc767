package decision

// Decision 从模型响应中解析出的归一化交易决策。
// 每次调用即时生成，不做缓存。
type Decision struct {
	Operation     string  `json:"operation"`
	Symbol        string  `json:"symbol"`
	TargetPortion float64 `json:"target_portion_of_balance"`

	// RawJSON 解析命中的决策对象原文，用于落库对照。
	RawJSON string `json:"-"`
	// FallbackReasoning 原始正文前 2000 字符，在供应商未单独给出
	// 思维链时作为 reasoning 兜底。
	FallbackReasoning string `json:"-"`
}

package model

import "gorm.io/datatypes"

// 中文说明：
// 回放服务的持久化模型。时间戳统一用毫秒 Unix 整数落库。

// 任务/条目状态取值。
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"

	ItemStatusPending   = "pending"
	ItemStatusCompleted = "completed"
	ItemStatusFailed    = "failed"
)

// AccountModel 模型调用账户（API 凭据 + 默认模型）。
type AccountModel struct {
	ID            uint   `gorm:"column:id;primaryKey"`
	Name          string `gorm:"column:name"`
	APIKey        string `gorm:"column:api_key"`
	BaseURL       string `gorm:"column:base_url"`
	Model         string `gorm:"column:model"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
}

func (AccountModel) TableName() string { return "accounts" }

// PromptTemplateModel 系统提示词模板。
type PromptTemplateModel struct {
	ID            uint   `gorm:"column:id;primaryKey"`
	Name          string `gorm:"column:name"`
	SystemText    string `gorm:"column:system_template_text"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
}

func (PromptTemplateModel) TableName() string { return "prompt_templates" }

// AccountPromptBindingModel 账户与模板的绑定关系（每账户至多一条生效）。
type AccountPromptBindingModel struct {
	ID               uint  `gorm:"column:id;primaryKey"`
	AccountID        uint  `gorm:"column:account_id;index"`
	PromptTemplateID *uint `gorm:"column:prompt_template_id"`
	CreatedAtUnix    int64 `gorm:"column:created_at"`
}

func (AccountPromptBindingModel) TableName() string { return "account_prompt_bindings" }

// DecisionLogModel 历史 AI 决策记录（回放输入的数据源）。
type DecisionLogModel struct {
	ID                uint           `gorm:"column:id;primaryKey"`
	WalletAddress     string         `gorm:"column:wallet_address;index"`
	Environment       string         `gorm:"column:environment"`
	Operation         string         `gorm:"column:operation"`
	Symbol            string         `gorm:"column:symbol"`
	TargetPortion     float64        `gorm:"column:target_portion"`
	ReasoningSnapshot string         `gorm:"column:reasoning_snapshot"`
	DecisionSnapshot  datatypes.JSON `gorm:"column:decision_snapshot;type:TEXT"`
	RealizedPnL       float64        `gorm:"column:realized_pnl"`
	DecisionTimeUnix  int64          `gorm:"column:decision_time"`
	PromptTemplateID  *uint          `gorm:"column:prompt_template_id"`
	CreatedAtUnix     int64          `gorm:"column:created_at"`
}

func (DecisionLogModel) TableName() string { return "ai_decision_logs" }

// BacktestTaskModel 一次提示词回放任务。
// 不变量：completed_count + failed_count <= total_count；
// 计数只允许存储层原子自增，禁止读改写。
type BacktestTaskModel struct {
	ID             uint           `gorm:"column:id;primaryKey"`
	AccountID      uint           `gorm:"column:account_id;index"`
	WalletAddress  string         `gorm:"column:wallet_address"`
	Environment    string         `gorm:"column:environment"`
	Name           string         `gorm:"column:name"`
	Status         string         `gorm:"column:status;index"`
	TotalCount     int            `gorm:"column:total_count"`
	CompletedCount int            `gorm:"column:completed_count"`
	FailedCount    int            `gorm:"column:failed_count"`
	ReplaceRules   datatypes.JSON `gorm:"column:replace_rules;type:TEXT"`
	ErrorMessage   string         `gorm:"column:error_message"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	StartedAtUnix  *int64         `gorm:"column:started_at"`
	FinishedAtUnix *int64         `gorm:"column:finished_at"`
}

func (BacktestTaskModel) TableName() string { return "prompt_backtest_tasks" }

// BacktestItemModel 单条回放条目：创建时冻结原始决策快照，结果字段由唯一的
// worker 恰好写一次。
type BacktestItemModel struct {
	ID                    uint           `gorm:"column:id;primaryKey"`
	TaskID                uint           `gorm:"column:task_id;index"`
	OriginalDecisionLogID uint           `gorm:"column:original_decision_log_id"`
	Status                string         `gorm:"column:status;index"`

	OriginalOperation          string         `gorm:"column:original_operation"`
	OriginalSymbol             string         `gorm:"column:original_symbol"`
	OriginalTargetPortion      float64        `gorm:"column:original_target_portion"`
	OriginalReasoning          string         `gorm:"column:original_reasoning"`
	OriginalDecisionJSON       datatypes.JSON `gorm:"column:original_decision_json;type:TEXT"`
	OriginalRealizedPnL        float64        `gorm:"column:original_realized_pnl"`
	OriginalDecisionTimeUnix   int64          `gorm:"column:original_decision_time"`
	OriginalPromptTemplateName string         `gorm:"column:original_prompt_template_name"`
	ModifiedPrompt             string         `gorm:"column:modified_prompt"`

	NewOperation     string         `gorm:"column:new_operation"`
	NewSymbol        string         `gorm:"column:new_symbol"`
	NewTargetPortion *float64       `gorm:"column:new_target_portion"`
	NewReasoning     string         `gorm:"column:new_reasoning"`
	NewDecisionJSON  datatypes.JSON `gorm:"column:new_decision_json;type:TEXT"`
	DecisionChanged  *bool          `gorm:"column:decision_changed"`
	ChangeType       string         `gorm:"column:change_type"`
	ErrorMessage     string         `gorm:"column:error_message"`
}

func (BacktestItemModel) TableName() string { return "prompt_backtest_items" }

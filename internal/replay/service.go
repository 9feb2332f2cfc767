package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"promptback/internal/llm"
	"promptback/internal/logger"
	"promptback/internal/pkg/text"
	"promptback/internal/store/gormstore"
	"promptback/internal/store/model"
	"promptback/internal/template"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// 中文说明：
// Service 是回放任务的协调器：建任务、异步执行、失败重试。
// 执行前把条目输入与账户配置快照成纯数据，worker 之间不共享可变状态。

// 哨兵错误，HTTP 层据此区分响应码。
var (
	ErrNothingToRetry = errors.New("没有可重试的失败条目")
	ErrTaskRunning    = errors.New("任务正在运行")
	ErrNoValidItems   = errors.New("没有可用的历史决策条目")
)

// Config 协调器配置（显式传入，不依赖包级可变状态）。
type Config struct {
	MaxWorkers          int
	DefaultSystemPrompt string
}

// Store 协调器依赖的持久化能力，由 gormstore.Store 实现。
type Store interface {
	GetAccount(ctx context.Context, id uint) (model.AccountModel, error)
	GetDecisionLog(ctx context.Context, id uint) (model.DecisionLogModel, error)
	CreateDecisionLog(ctx context.Context, log *model.DecisionLogModel) error
	GetPromptTemplate(ctx context.Context, id uint) (model.PromptTemplateModel, error)
	SystemPromptForAccount(ctx context.Context, accountID uint) (string, bool, error)
	CreateTaskWithItems(ctx context.Context, task *model.BacktestTaskModel, items []model.BacktestItemModel) error
	GetTask(ctx context.Context, id uint) (model.BacktestTaskModel, error)
	TryStartTask(ctx context.Context, id uint) (bool, error)
	FinishTask(ctx context.Context, id uint) error
	FailTask(ctx context.Context, id uint, message string) error
	ListItems(ctx context.Context, taskID uint) ([]model.BacktestItemModel, error)
	ListItemsByStatus(ctx context.Context, taskID uint, status string) ([]model.BacktestItemModel, error)
	SaveItemSuccess(ctx context.Context, res gormstore.ItemSuccess) error
	SaveItemFailure(ctx context.Context, itemID, taskID uint, errMsg, rawResponse string) error
	ResetFailedItems(ctx context.Context, taskID uint) (int64, error)
}

type Service struct {
	store     Store
	invoker   *llm.Invoker
	templates *template.Registry // 可为 nil，仅用于信息性校验
	cfg       Config
}

func NewService(store Store, invoker *llm.Invoker, templates *template.Registry, cfg Config) *Service {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 20
	}
	return &Service{store: store, invoker: invoker, templates: templates, cfg: cfg}
}

// ItemInput 创建任务时的单条输入。
type ItemInput struct {
	DecisionLogID  uint   `json:"source_decision_id"`
	ModifiedPrompt string `json:"modified_prompt"`
}

// ReplaceRule 按序应用到每条 modified_prompt 的文本替换规则。
type ReplaceRule struct {
	Find    string `json:"find"`
	Replace string `json:"replace"`
}

// CreateTaskRequest 建任务请求。
type CreateTaskRequest struct {
	AccountID    uint          `json:"account_id"`
	Name         string        `json:"name"`
	Items        []ItemInput   `json:"items"`
	ReplaceRules []ReplaceRule `json:"replace_rules"`
}

// CreateTask 校验账户、冻结历史决策快照、落库并调度异步执行。
// 引用不存在历史决策的输入打告警后跳过，不算失败。
func (s *Service) CreateTask(ctx context.Context, req CreateTaskRequest) (uint, error) {
	if req.AccountID == 0 {
		return 0, fmt.Errorf("account_id 不能为空")
	}
	if len(req.Items) == 0 {
		return 0, fmt.Errorf("items 不能为空")
	}
	if _, err := s.store.GetAccount(ctx, req.AccountID); err != nil {
		return 0, fmt.Errorf("账户 %d 不存在: %w", req.AccountID, err)
	}

	items := make([]model.BacktestItemModel, 0, len(req.Items))
	var walletAddress, environment string
	for _, in := range req.Items {
		log, err := s.store.GetDecisionLog(ctx, in.DecisionLogID)
		if err != nil {
			logger.Warnf("[replay] 跳过无效的历史决策引用 id=%d: %v", in.DecisionLogID, err)
			continue
		}
		if walletAddress == "" {
			walletAddress = log.WalletAddress
			environment = log.Environment
		}
		prompt := applyReplaceRules(in.ModifiedPrompt, req.ReplaceRules)
		items = append(items, model.BacktestItemModel{
			OriginalDecisionLogID:      log.ID,
			Status:                     model.ItemStatusPending,
			OriginalOperation:          log.Operation,
			OriginalSymbol:             log.Symbol,
			OriginalTargetPortion:      log.TargetPortion,
			OriginalReasoning:          log.ReasoningSnapshot,
			OriginalDecisionJSON:       log.DecisionSnapshot,
			OriginalRealizedPnL:        log.RealizedPnL,
			OriginalDecisionTimeUnix:   log.DecisionTimeUnix,
			OriginalPromptTemplateName: s.templateName(ctx, log.PromptTemplateID),
			ModifiedPrompt:             prompt,
		})
	}
	if len(items) == 0 {
		return 0, ErrNoValidItems
	}

	task := model.BacktestTaskModel{
		AccountID:     req.AccountID,
		WalletAddress: walletAddress,
		Environment:   environment,
		Name:          strings.TrimSpace(req.Name),
		Status:        model.TaskStatusPending,
		TotalCount:    len(items),
		ReplaceRules:  marshalRules(req.ReplaceRules),
	}
	if err := s.store.CreateTaskWithItems(ctx, &task, items); err != nil {
		return 0, err
	}
	logger.Infof("[replay] 任务 %d 创建完成: %d 条有效 / %d 条输入", task.ID, len(items), len(req.Items))

	go s.Execute(context.Background(), task.ID)
	return task.ID, nil
}

// Execute 执行完整的派发-收尾流程。状态跃迁是单条条件 UPDATE，
// 并发重复调用只有一个会真正开跑。
func (s *Service) Execute(ctx context.Context, taskID uint) {
	runID := uuid.NewString()[:8]
	started, err := s.store.TryStartTask(ctx, taskID)
	if err != nil {
		logger.Errorf("[replay:%s] 任务 %d 启动失败: %v", runID, taskID, err)
		return
	}
	if !started {
		logger.Warnf("[replay:%s] 任务 %d 不在可启动状态，跳过", runID, taskID)
		return
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		logger.Errorf("[replay:%s] 读取任务 %d 失败: %v", runID, taskID, err)
		_ = s.store.FailTask(ctx, taskID, text.Clip(err.Error(), 500))
		return
	}
	acct, err := s.store.GetAccount(ctx, task.AccountID)
	if err != nil {
		logger.Errorf("[replay:%s] 任务 %d 账户缺失: %v", runID, taskID, err)
		_ = s.store.FailTask(ctx, taskID, text.Clip(fmt.Sprintf("账户 %d 不存在", task.AccountID), 500))
		return
	}

	systemPrompt := s.resolveSystemPrompt(ctx, task.AccountID)
	acctCfg := llm.AccountConfig{APIKey: acct.APIKey, BaseURL: acct.BaseURL, Model: acct.Model}

	pending, err := s.store.ListItemsByStatus(ctx, taskID, model.ItemStatusPending)
	if err != nil {
		logger.Errorf("[replay:%s] 读取任务 %d 待处理条目失败: %v", runID, taskID, err)
		_ = s.store.FailTask(ctx, taskID, text.Clip(err.Error(), 500))
		return
	}

	// 快照成纯数据再派发，worker 不持有 gorm 会话或模型指针。
	inputs := make([]itemInput, 0, len(pending))
	for _, it := range pending {
		inputs = append(inputs, itemInput{
			ItemID:             it.ID,
			TaskID:             it.TaskID,
			ModifiedPrompt:     it.ModifiedPrompt,
			OriginalOperation:  it.OriginalOperation,
			PromptTemplateName: it.OriginalPromptTemplateName,
		})
	}

	logger.Infof("[replay:%s] 任务 %d 开始执行: %d 条待处理, model=%s, workers=%d",
		runID, taskID, len(inputs), acct.Model, s.cfg.MaxWorkers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxWorkers)
	for _, in := range inputs {
		in := in
		g.Go(func() error {
			s.processItem(gctx, in, acctCfg, systemPrompt)
			return nil
		})
	}
	_ = g.Wait()

	if err := s.store.FinishTask(ctx, taskID); err != nil {
		logger.Errorf("[replay:%s] 任务 %d 收尾失败: %v", runID, taskID, err)
		return
	}
	final, err := s.store.GetTask(ctx, taskID)
	if err == nil {
		logger.Infof("[replay:%s] 任务 %d 执行结束: completed=%d failed=%d total=%d",
			runID, taskID, final.CompletedCount, final.FailedCount, final.TotalCount)
	}
}

// RetryFailed 重置失败条目并重新调度执行；返回重新排队的条目数。
func (s *Service) RetryFailed(ctx context.Context, taskID uint) (int64, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if task.Status == model.TaskStatusRunning {
		return 0, ErrTaskRunning
	}
	count, err := s.store.ResetFailedItems(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, ErrNothingToRetry
	}
	logger.Infof("[replay] 任务 %d 重试: %d 条失败条目重新排队", taskID, count)
	go s.Execute(context.Background(), taskID)
	return count, nil
}

// resolveSystemPrompt 优先账户绑定模板，其次配置缺省。
func (s *Service) resolveSystemPrompt(ctx context.Context, accountID uint) string {
	prompt, ok, err := s.store.SystemPromptForAccount(ctx, accountID)
	if err != nil {
		logger.Warnf("[replay] 读取账户 %d 模板绑定失败: %v", accountID, err)
	}
	if ok {
		return prompt
	}
	return s.cfg.DefaultSystemPrompt
}

func (s *Service) templateName(ctx context.Context, templateID *uint) string {
	if templateID == nil {
		return ""
	}
	tpl, err := s.store.GetPromptTemplate(ctx, *templateID)
	if err != nil {
		return ""
	}
	return tpl.Name
}

func applyReplaceRules(prompt string, rules []ReplaceRule) string {
	for _, rule := range rules {
		if rule.Find == "" {
			continue
		}
		prompt = strings.ReplaceAll(prompt, rule.Find, rule.Replace)
	}
	return prompt
}

func marshalRules(rules []ReplaceRule) datatypes.JSON {
	if len(rules) == 0 {
		return nil
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

package replay

import (
	"context"
	"fmt"

	"promptback/internal/decision"
	"promptback/internal/llm"
	"promptback/internal/logger"
	"promptback/internal/pkg/text"
	"promptback/internal/store/gormstore"
)

// 中文说明：
// 单条目处理：调模型 -> 归一化 -> 解析 -> 分类 -> 落库。
// worker 边界兜底 recover，单条目故障绝不拖垮同任务的其余条目。

const (
	errMsgLimit      = 500
	rawResponseLimit = 2000

	msgNoResponse   = "LLM call failed - no response"
	msgEmptyContent = "LLM call failed - empty content"
	msgParseFailed  = "Failed to parse decision"
)

// itemInput 派发前冻结的条目输入，纯数据。
type itemInput struct {
	ItemID             uint
	TaskID             uint
	ModifiedPrompt     string
	OriginalOperation  string
	PromptTemplateName string
}

func (s *Service) processItem(ctx context.Context, in itemInput, acct llm.AccountConfig, systemPrompt string) {
	// content 提前声明，recover 分支也能带上已提取的正文做诊断。
	var content string
	defer func() {
		if r := recover(); r != nil {
			msg := text.Clip(fmt.Sprintf("%v", r), errMsgLimit)
			logger.Errorf("[replay] 条目 %d 处理 panic: %v", in.ItemID, r)
			s.failItem(ctx, in, msg, text.Clip(content, rawResponseLimit))
		}
	}()

	resp, err := s.invoker.ChatCompletion(ctx, acct, systemPrompt, in.ModifiedPrompt)
	if err != nil || resp == nil {
		if err != nil {
			logger.Warnf("[replay] 条目 %d 模型调用失败: %v", in.ItemID, err)
		}
		s.failItem(ctx, in, msgNoResponse, "")
		return
	}

	content = resp.Content()
	if content == "" {
		s.failItem(ctx, in, msgEmptyContent, text.Clip(resp.Raw(), rawResponseLimit))
		return
	}

	dec, err := decision.Parse(content)
	if err != nil {
		logger.Warnf("[replay] 条目 %d 决策解析失败: %v", in.ItemID, err)
		s.failItem(ctx, in, msgParseFailed, text.Clip(content, rawResponseLimit))
		return
	}

	// 供应商单独给出的思维链优先，没有才用正文兜底。
	reasoning := resp.Reasoning()
	if reasoning == "" {
		reasoning = dec.FallbackReasoning
	}

	changed, changeType := decision.Classify(in.OriginalOperation, dec.Operation)

	s.validateAgainstTemplate(in, dec.RawJSON)

	res := gormstore.ItemSuccess{
		ItemID:          in.ItemID,
		TaskID:          in.TaskID,
		Operation:       dec.Operation,
		Symbol:          dec.Symbol,
		TargetPortion:   dec.TargetPortion,
		Reasoning:       reasoning,
		DecisionJSON:    dec.RawJSON,
		DecisionChanged: changed,
		ChangeType:      changeType,
	}
	if err := s.store.SaveItemSuccess(ctx, res); err != nil {
		// 成功结果写不进去也要走失败路径，保证计数最终对得上总数。
		logger.Errorf("[replay] 条目 %d 结果落库失败: %v", in.ItemID, err)
		s.failItem(ctx, in, text.Clip(err.Error(), errMsgLimit), text.Clip(content, rawResponseLimit))
	}
}

func (s *Service) failItem(ctx context.Context, in itemInput, msg, rawResponse string) {
	if err := s.store.SaveItemFailure(ctx, in.ItemID, in.TaskID, text.Clip(msg, errMsgLimit), rawResponse); err != nil {
		logger.Errorf("[replay] 条目 %d 失败信息落库失败: %v", in.ItemID, err)
	}
}

// validateAgainstTemplate 用模板 schema 做信息性校验，只打日志不判失败。
func (s *Service) validateAgainstTemplate(in itemInput, rawJSON string) {
	if s.templates == nil || in.PromptTemplateName == "" || rawJSON == "" {
		return
	}
	tpl, ok := s.templates.Template(in.PromptTemplateName)
	if !ok {
		return
	}
	if err := tpl.ValidateDecision(rawJSON); err != nil {
		logger.Warnf("[replay] 条目 %d 决策不符合模板 %s 的 schema: %v", in.ItemID, in.PromptTemplateName, err)
	}
}

package replay

import (
	"context"

	"promptback/internal/logger"
	"promptback/internal/store/decisionlog"
)

// ImportDecisionLogs 从实盘机器人的 SQLite 库只读导入历史决策，
// 返回导入条数。单条写入失败跳过该条，不中断整批。
func (s *Service) ImportDecisionLogs(ctx context.Context, sourcePath string, q decisionlog.Query) (int, error) {
	im, err := decisionlog.Open(sourcePath)
	if err != nil {
		return 0, err
	}
	defer im.Close()

	records, err := im.Fetch(ctx, q)
	if err != nil {
		return 0, err
	}
	imported := 0
	for i := range records {
		if err := s.store.CreateDecisionLog(ctx, &records[i]); err != nil {
			logger.Warnf("[replay] 导入历史决策失败 (%s %s): %v",
				records[i].Symbol, records[i].Operation, err)
			continue
		}
		imported++
	}
	logger.Infof("[replay] 从 %s 导入 %d/%d 条历史决策", sourcePath, imported, len(records))
	return imported, nil
}

package decisionlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"promptback/internal/store/model"

	_ "modernc.org/sqlite"
)

// 中文说明：
// Importer 以只读方式打开实盘机器人落的 SQLite 库，把历史 AI 决策
// 批量搬进回放库。实盘库可能仍在写入，这里不开写事务、不改任何数据。

// Query 过滤导入范围。
type Query struct {
	WalletAddress string
	Environment   string
	SinceUnix     int64 // 毫秒，0 表示不限
	Limit         int
}

// Importer 只读访问实盘决策库。
type Importer struct {
	db   *sql.DB
	path string
}

// Open 打开源数据库。文件不存在直接报错，不会创建空库。
func Open(path string) (*Importer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decision log 源路径不能为空")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("decision log 源不存在: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Importer{db: db, path: path}, nil
}

// Close 关闭底层 DB。
func (im *Importer) Close() error {
	if im == nil || im.db == nil {
		return nil
	}
	err := im.db.Close()
	im.db = nil
	return err
}

// Fetch 按条件读取源库的 ai_decision_logs。
func (im *Importer) Fetch(ctx context.Context, q Query) ([]model.DecisionLogModel, error) {
	if im == nil || im.db == nil {
		return nil, fmt.Errorf("importer 未初始化")
	}
	limit := q.Limit
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	var args []interface{}
	var sb strings.Builder
	sb.WriteString(`SELECT wallet_address, environment, operation, symbol, target_portion,
		reasoning_snapshot, decision_snapshot, realized_pnl, decision_time
		FROM ai_decision_logs WHERE 1=1`)
	if q.WalletAddress != "" {
		sb.WriteString(" AND wallet_address=?")
		args = append(args, q.WalletAddress)
	}
	if q.Environment != "" {
		sb.WriteString(" AND environment=?")
		args = append(args, q.Environment)
	}
	if q.SinceUnix > 0 {
		sb.WriteString(" AND decision_time>=?")
		args = append(args, q.SinceUnix)
	}
	sb.WriteString(" ORDER BY decision_time DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := im.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DecisionLogModel
	for rows.Next() {
		var (
			rec       model.DecisionLogModel
			wallet    sql.NullString
			env       sql.NullString
			operation sql.NullString
			symbol    sql.NullString
			portion   sql.NullFloat64
			reasoning sql.NullString
			snapshot  sql.NullString
			pnl       sql.NullFloat64
			decidedAt sql.NullInt64
		)
		if err := rows.Scan(&wallet, &env, &operation, &symbol, &portion,
			&reasoning, &snapshot, &pnl, &decidedAt); err != nil {
			return nil, err
		}
		rec.WalletAddress = wallet.String
		rec.Environment = env.String
		rec.Operation = operation.String
		rec.Symbol = symbol.String
		rec.TargetPortion = portion.Float64
		rec.ReasoningSnapshot = reasoning.String
		if s := strings.TrimSpace(snapshot.String); s != "" {
			rec.DecisionSnapshot = []byte(s)
		}
		rec.RealizedPnL = pnl.Float64
		rec.DecisionTimeUnix = decidedAt.Int64
		out = append(out, rec)
	}
	return out, rows.Err()
}

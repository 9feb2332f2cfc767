package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"promptback/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 中文说明：
// Store 基于 Gorm + SQLite 实现回放任务的全部持久化。
// 任务计数器只通过 UpdateColumn + gorm.Expr 原子自增，
// 状态跃迁用条件 UPDATE（RowsAffected 判定）避免并发竞态。

type Store struct {
	db *gorm.DB
}

// NewStore 打开（或创建）数据库并迁移表结构。
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := path
	if !strings.HasPrefix(path, "file:") {
		dsn = fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000&_journal_mode=WAL", path)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&model.AccountModel{},
		&model.PromptTemplateModel{},
		&model.AccountPromptBindingModel{},
		&model.DecisionLogModel{},
		&model.BacktestTaskModel{},
		&model.BacktestItemModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：少量并行度即可支撑 20 个 worker 的短写事务。
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(4)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store 未初始化")
	}
	return nil
}

// --------------------- 账户 / 模板 -------------------------

func (s *Store) GetAccount(ctx context.Context, id uint) (model.AccountModel, error) {
	if err := s.ready(); err != nil {
		return model.AccountModel{}, err
	}
	var acct model.AccountModel
	err := s.db.WithContext(ctx).First(&acct, "id = ?", id).Error
	return acct, err
}

func (s *Store) CreateAccount(ctx context.Context, acct *model.AccountModel) error {
	if err := s.ready(); err != nil {
		return err
	}
	if acct.CreatedAtUnix == 0 {
		acct.CreatedAtUnix = time.Now().UnixMilli()
	}
	return s.db.WithContext(ctx).Create(acct).Error
}

// SystemPromptForAccount 返回账户绑定模板的系统提示词；无绑定或模板为空时
// 第二个返回值为 false。
func (s *Store) SystemPromptForAccount(ctx context.Context, accountID uint) (string, bool, error) {
	if err := s.ready(); err != nil {
		return "", false, err
	}
	var binding model.AccountPromptBindingModel
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&binding).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if binding.PromptTemplateID == nil {
		return "", false, nil
	}
	var tpl model.PromptTemplateModel
	if err := s.db.WithContext(ctx).First(&tpl, "id = ?", *binding.PromptTemplateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if strings.TrimSpace(tpl.SystemText) == "" {
		return "", false, nil
	}
	return tpl.SystemText, true, nil
}

func (s *Store) GetPromptTemplate(ctx context.Context, id uint) (model.PromptTemplateModel, error) {
	if err := s.ready(); err != nil {
		return model.PromptTemplateModel{}, err
	}
	var tpl model.PromptTemplateModel
	err := s.db.WithContext(ctx).First(&tpl, "id = ?", id).Error
	return tpl, err
}

func (s *Store) CreatePromptTemplate(ctx context.Context, tpl *model.PromptTemplateModel) error {
	if err := s.ready(); err != nil {
		return err
	}
	if tpl.CreatedAtUnix == 0 {
		tpl.CreatedAtUnix = time.Now().UnixMilli()
	}
	return s.db.WithContext(ctx).Create(tpl).Error
}

func (s *Store) BindAccountTemplate(ctx context.Context, accountID uint, templateID *uint) error {
	if err := s.ready(); err != nil {
		return err
	}
	var binding model.AccountPromptBindingModel
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&binding).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		binding = model.AccountPromptBindingModel{
			AccountID:        accountID,
			PromptTemplateID: templateID,
			CreatedAtUnix:    time.Now().UnixMilli(),
		}
		return s.db.WithContext(ctx).Create(&binding).Error
	case err != nil:
		return err
	}
	return s.db.WithContext(ctx).Model(&binding).
		Update("prompt_template_id", templateID).Error
}

// --------------------- 历史决策 -------------------------

func (s *Store) GetDecisionLog(ctx context.Context, id uint) (model.DecisionLogModel, error) {
	if err := s.ready(); err != nil {
		return model.DecisionLogModel{}, err
	}
	var log model.DecisionLogModel
	err := s.db.WithContext(ctx).First(&log, "id = ?", id).Error
	return log, err
}

func (s *Store) CreateDecisionLog(ctx context.Context, log *model.DecisionLogModel) error {
	if err := s.ready(); err != nil {
		return err
	}
	if log.CreatedAtUnix == 0 {
		log.CreatedAtUnix = time.Now().UnixMilli()
	}
	return s.db.WithContext(ctx).Create(log).Error
}

// --------------------- 任务 -------------------------

// CreateTaskWithItems 在一个事务里写入任务与全部条目。
func (s *Store) CreateTaskWithItems(ctx context.Context, task *model.BacktestTaskModel, items []model.BacktestItemModel) error {
	if err := s.ready(); err != nil {
		return err
	}
	if task.Status == "" {
		task.Status = model.TaskStatusPending
	}
	if task.CreatedAtUnix == 0 {
		task.CreatedAtUnix = time.Now().UnixMilli()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(task).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		for i := range items {
			items[i].TaskID = task.ID
			if items[i].Status == "" {
				items[i].Status = model.ItemStatusPending
			}
		}
		return tx.Create(&items).Error
	})
}

func (s *Store) GetTask(ctx context.Context, id uint) (model.BacktestTaskModel, error) {
	if err := s.ready(); err != nil {
		return model.BacktestTaskModel{}, err
	}
	var task model.BacktestTaskModel
	err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error
	return task, err
}

func (s *Store) ListTasks(ctx context.Context, accountID uint, limit int) ([]model.BacktestTaskModel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	query := s.db.WithContext(ctx).Model(&model.BacktestTaskModel{}).
		Order("created_at DESC, id DESC").Limit(limit)
	if accountID > 0 {
		query = query.Where("account_id = ?", accountID)
	}
	var tasks []model.BacktestTaskModel
	err := query.Find(&tasks).Error
	return tasks, err
}

// DeleteTask 级联删除任务与条目。
func (s *Store) DeleteTask(ctx context.Context, id uint) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", id).Delete(&model.BacktestItemModel{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.BacktestTaskModel{}, "id = ?", id).Error
	})
}

// TryStartTask 以单条条件 UPDATE 完成 pending|completed|failed -> running 的
// 状态跃迁；返回 false 表示任务不存在或已在运行。
func (s *Store) TryStartTask(ctx context.Context, id uint) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	now := time.Now().UnixMilli()
	res := s.db.WithContext(ctx).Model(&model.BacktestTaskModel{}).
		Where("id = ? AND status IN ?", id, []string{
			model.TaskStatusPending, model.TaskStatusCompleted, model.TaskStatusFailed,
		}).
		Updates(map[string]interface{}{
			"status":        model.TaskStatusRunning,
			"started_at":    now,
			"error_message": "",
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FinishTask 标记任务完成并记录结束时间。
func (s *Store) FinishTask(ctx context.Context, id uint) error {
	if err := s.ready(); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	return s.db.WithContext(ctx).Model(&model.BacktestTaskModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      model.TaskStatusCompleted,
			"finished_at": now,
		}).Error
}

// FailTask 结构性失败：任务直接进入 failed 终态。
func (s *Store) FailTask(ctx context.Context, id uint, message string) error {
	if err := s.ready(); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	return s.db.WithContext(ctx).Model(&model.BacktestTaskModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.TaskStatusFailed,
			"error_message": message,
			"finished_at":   now,
		}).Error
}

// --------------------- 条目 -------------------------

func (s *Store) GetItem(ctx context.Context, id uint) (model.BacktestItemModel, error) {
	if err := s.ready(); err != nil {
		return model.BacktestItemModel{}, err
	}
	var item model.BacktestItemModel
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	return item, err
}

func (s *Store) ListItems(ctx context.Context, taskID uint) ([]model.BacktestItemModel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var items []model.BacktestItemModel
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("original_decision_time DESC, id ASC").
		Find(&items).Error
	return items, err
}

func (s *Store) ListItemsByStatus(ctx context.Context, taskID uint, status string) ([]model.BacktestItemModel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var items []model.BacktestItemModel
	err := s.db.WithContext(ctx).
		Where("task_id = ? AND status = ?", taskID, status).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

// ItemSuccess 条目成功结果（字段由调用方截断到落库长度）。
type ItemSuccess struct {
	ItemID          uint
	TaskID          uint
	Operation       string
	Symbol          string
	TargetPortion   float64
	Reasoning       string
	DecisionJSON    string
	DecisionChanged bool
	ChangeType      string
}

// SaveItemSuccess 写入条目结果并原子自增 completed_count。
func (s *Store) SaveItemSuccess(ctx context.Context, res ItemSuccess) error {
	if err := s.ready(); err != nil {
		return err
	}
	changed := res.DecisionChanged
	portion := res.TargetPortion
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&model.BacktestItemModel{}).
			Where("id = ?", res.ItemID).
			Updates(map[string]interface{}{
				"status":             model.ItemStatusCompleted,
				"new_operation":      res.Operation,
				"new_symbol":         res.Symbol,
				"new_target_portion": portion,
				"new_reasoning":      res.Reasoning,
				"new_decision_json":  res.DecisionJSON,
				"decision_changed":   changed,
				"change_type":        res.ChangeType,
				"error_message":      "",
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&model.BacktestTaskModel{}).
			Where("id = ?", res.TaskID).
			UpdateColumn("completed_count", gorm.Expr("completed_count + 1")).Error
	})
}

// SaveItemFailure 写入失败信息并原子自增 failed_count。
// rawResponse 非空时作为诊断信息写入 new_reasoning。
func (s *Store) SaveItemFailure(ctx context.Context, itemID, taskID uint, errMsg, rawResponse string) error {
	if err := s.ready(); err != nil {
		return err
	}
	fields := map[string]interface{}{
		"status":        model.ItemStatusFailed,
		"error_message": errMsg,
	}
	if strings.TrimSpace(rawResponse) != "" {
		fields["new_reasoning"] = rawResponse
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&model.BacktestItemModel{}).
			Where("id = ?", itemID).
			Updates(fields)
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&model.BacktestTaskModel{}).
			Where("id = ?", taskID).
			UpdateColumn("failed_count", gorm.Expr("failed_count + 1")).Error
	})
}

// ResetFailedItems 将 failed 条目重置为 pending 并清空结果字段；
// 任务 failed_count 归零、结束时间清空、状态回到 pending。
// 没有 failed 条目时不做任何修改，返回 0。
func (s *Store) ResetFailedItems(ctx context.Context, taskID uint) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var count int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.BacktestItemModel{}).
			Where("task_id = ? AND status = ?", taskID, model.ItemStatusFailed).
			Updates(map[string]interface{}{
				"status":             model.ItemStatusPending,
				"error_message":      "",
				"new_operation":      "",
				"new_symbol":         "",
				"new_target_portion": nil,
				"new_reasoning":      "",
				"new_decision_json":  nil,
				"decision_changed":   nil,
				"change_type":        "",
			})
		if res.Error != nil {
			return res.Error
		}
		count = res.RowsAffected
		if count == 0 {
			return nil
		}
		return tx.Model(&model.BacktestTaskModel{}).
			Where("id = ?", taskID).
			Updates(map[string]interface{}{
				"status":       model.TaskStatusPending,
				"failed_count": 0,
				"finished_at":  nil,
			}).Error
	})
	return count, err
}

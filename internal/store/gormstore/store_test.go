package gormstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"promptback/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedTask(t *testing.T, s *Store, itemCount int) model.BacktestTaskModel {
	t.Helper()
	ctx := context.Background()
	items := make([]model.BacktestItemModel, 0, itemCount)
	for i := 0; i < itemCount; i++ {
		items = append(items, model.BacktestItemModel{
			OriginalDecisionLogID: uint(i + 1),
			OriginalOperation:     "buy",
			ModifiedPrompt:        "prompt",
		})
	}
	task := model.BacktestTaskModel{AccountID: 1, Name: "t", TotalCount: itemCount}
	require.NoError(t, s.CreateTaskWithItems(ctx, &task, items))
	return task
}

func TestCreateTaskWithItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := seedTask(t, s, 3)
	assert.Equal(t, model.TaskStatusPending, task.Status)

	items, err := s.ListItems(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, task.ID, it.TaskID)
		assert.Equal(t, model.ItemStatusPending, it.Status)
	}
}

func TestTryStartTask_Transitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, 1)

	started, err := s.TryStartTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, started)

	// running 状态再次启动被拒绝。
	started, err = s.TryStartTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, started)

	require.NoError(t, s.FinishTask(ctx, task.ID))
	started, err = s.TryStartTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, started)

	// 不存在的任务。
	started, err = s.TryStartTask(ctx, 99999)
	require.NoError(t, err)
	assert.False(t, started)
}

func TestCounters_ConcurrentIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const n = 50
	task := seedTask(t, s, n)

	items, err := s.ListItems(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, items, n)

	var wg sync.WaitGroup
	for i, it := range items {
		wg.Add(1)
		go func(idx int, itemID uint) {
			defer wg.Done()
			if idx%5 == 0 {
				assert.NoError(t, s.SaveItemFailure(ctx, itemID, task.ID, "boom", ""))
				return
			}
			assert.NoError(t, s.SaveItemSuccess(ctx, ItemSuccess{
				ItemID: itemID, TaskID: task.ID,
				Operation: "hold", DecisionChanged: true, ChangeType: "buy_to_hold",
			}))
		}(i, it.ID)
	}
	wg.Wait()

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.CompletedCount+got.FailedCount)
	assert.Equal(t, 10, got.FailedCount)
	assert.LessOrEqual(t, got.CompletedCount+got.FailedCount, got.TotalCount)
}

func TestResetFailedItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, 3)

	items, err := s.ListItems(ctx, task.ID)
	require.NoError(t, err)

	require.NoError(t, s.SaveItemSuccess(ctx, ItemSuccess{
		ItemID: items[0].ID, TaskID: task.ID,
		Operation: "hold", Reasoning: "kept", DecisionChanged: true, ChangeType: "buy_to_hold",
	}))
	require.NoError(t, s.SaveItemFailure(ctx, items[1].ID, task.ID, "boom", "raw text"))
	require.NoError(t, s.SaveItemFailure(ctx, items[2].ID, task.ID, "boom", ""))
	require.NoError(t, s.FinishTask(ctx, task.ID))

	count, err := s.ResetFailedItems(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// 失败条目回到 pending 且结果字段清空；完成条目不受影响。
	reloaded, err := s.GetItem(ctx, items[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemStatusPending, reloaded.Status)
	assert.Empty(t, reloaded.ErrorMessage)
	assert.Empty(t, reloaded.NewReasoning)
	assert.Nil(t, reloaded.DecisionChanged)

	kept, err := s.GetItem(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemStatusCompleted, kept.Status)
	assert.Equal(t, "kept", kept.NewReasoning)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, got.Status)
	assert.Equal(t, 0, got.FailedCount)
	assert.Nil(t, got.FinishedAtUnix)

	// 没有失败条目时不做任何修改。
	count, err = s.ResetFailedItems(ctx, task.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSystemPromptForAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acct := model.AccountModel{Name: "a", Model: "gpt-4o"}
	require.NoError(t, s.CreateAccount(ctx, &acct))

	// 无绑定。
	_, ok, err := s.SystemPromptForAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	tpl := model.PromptTemplateModel{Name: "tpl", SystemText: "be careful"}
	require.NoError(t, s.CreatePromptTemplate(ctx, &tpl))
	require.NoError(t, s.BindAccountTemplate(ctx, acct.ID, &tpl.ID))

	prompt, ok, err := s.SystemPromptForAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "be careful", prompt)

	// 解绑后回到无绑定。
	require.NoError(t, s.BindAccountTemplate(ctx, acct.ID, nil))
	_, ok, err = s.SystemPromptForAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteTask_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, 2)

	require.NoError(t, s.DeleteTask(ctx, task.ID))

	_, err := s.GetTask(ctx, task.ID)
	assert.Error(t, err)
	items, err := s.ListItems(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

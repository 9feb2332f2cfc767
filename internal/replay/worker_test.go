package replay

import (
	"context"
	"errors"
	"testing"

	"promptback/internal/store/gormstore"
	"promptback/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore 包装真实存储，把成功结果的写入换成指定故障。
type flakyStore struct {
	*gormstore.Store
	mode string // "error" | "panic"
}

func (f *flakyStore) SaveItemSuccess(ctx context.Context, res gormstore.ItemSuccess) error {
	switch f.mode {
	case "error":
		return errors.New("disk I/O error")
	case "panic":
		panic("unexpected storage fault")
	}
	return f.Store.SaveItemSuccess(ctx, res)
}

func seedFlakyRig(t *testing.T, mode string) (*Service, *gormstore.Store, uint) {
	t.Helper()
	svcOK, store, failing, acctID := newTestRig(t)
	failing.Store(false)

	ids := seedLogs(t, store, 1)
	ctx := context.Background()
	task := model.BacktestTaskModel{AccountID: acctID, TotalCount: 1}
	items := []model.BacktestItemModel{{
		OriginalDecisionLogID: ids[0],
		OriginalOperation:     "buy",
		ModifiedPrompt:        "analyze",
	}}
	require.NoError(t, store.CreateTaskWithItems(ctx, &task, items))

	flaky := &flakyStore{Store: store, mode: mode}
	svc := NewService(flaky, svcOK.invoker, nil, Config{MaxWorkers: 1})
	return svc, store, task.ID
}

// 成功结果落库失败时条目必须转入失败路径，计数仍与总数对齐。
func TestExecute_SuccessWriteFailureCountsAsFailed(t *testing.T) {
	svc, store, taskID := seedFlakyRig(t, "error")
	ctx := context.Background()

	svc.Execute(ctx, taskID)

	task, err := store.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
	assert.Equal(t, task.TotalCount, task.CompletedCount+task.FailedCount)
	assert.Equal(t, 1, task.FailedCount)
	assert.Zero(t, task.CompletedCount)

	items, err := store.ListItems(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.ItemStatusFailed, items[0].Status)
	assert.Contains(t, items[0].ErrorMessage, "disk I/O error")
}

// panic 兜底要带上已提取的正文做诊断。
func TestExecute_PanicKeepsExtractedContent(t *testing.T) {
	svc, store, taskID := seedFlakyRig(t, "panic")
	ctx := context.Background()

	svc.Execute(ctx, taskID)

	task, err := store.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
	assert.Equal(t, 1, task.FailedCount)

	items, err := store.ListItems(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.ItemStatusFailed, items[0].Status)
	assert.Contains(t, items[0].ErrorMessage, "unexpected storage fault")
	// new_reasoning 保留正文片段。
	assert.Contains(t, items[0].NewReasoning, "hold")
}

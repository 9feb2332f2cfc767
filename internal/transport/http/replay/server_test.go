package replayhttp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"promptback/internal/replay"
	"promptback/internal/store/gormstore"
	"promptback/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestServer(t *testing.T) (*Server, *gormstore.Store) {
	t.Helper()
	store, err := gormstore.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := replay.NewService(store, nil, nil, replay.Config{MaxWorkers: 1})
	srv, err := NewServer(Config{Addr: ":0", Svc: svc, Store: store})
	require.NoError(t, err)
	return srv, store
}

func doRequest(srv *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	srv.router.ServeHTTP(w, req)
	return w
}

func TestTaskItems_ExportIncludesPrompt(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	task := model.BacktestTaskModel{AccountID: 1, TotalCount: 1}
	items := []model.BacktestItemModel{{
		OriginalDecisionLogID: 7,
		OriginalOperation:     "buy",
		OriginalReasoning:     "looked bullish at the time",
		ModifiedPrompt:        "THE-MODIFIED-PROMPT",
	}}
	require.NoError(t, store.CreateTaskWithItems(ctx, &task, items))

	w := doRequest(srv, http.MethodGet, fmt.Sprintf("/api/prompt-backtest/tasks/%d/items", task.ID))
	require.Equal(t, http.StatusOK, w.Code)

	body := gjson.Parse(w.Body.String())
	exported := body.Get("items").Array()
	require.Len(t, exported, 1)
	// 导出条目必须带 modified_prompt，否则没法拿去重建任务。
	assert.Equal(t, "THE-MODIFIED-PROMPT", exported[0].Get("modified_prompt").String())
	assert.Equal(t, "looked bullish at the time", exported[0].Get("original_reasoning").String())
	assert.Equal(t, "buy", exported[0].Get("original_operation").String())
}

func TestTaskDetail_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(srv, http.MethodGet, "/api/prompt-backtest/tasks/999")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskDelete_RejectsRunning(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	task := model.BacktestTaskModel{AccountID: 1, TotalCount: 1}
	require.NoError(t, store.CreateTaskWithItems(ctx, &task, []model.BacktestItemModel{{OriginalOperation: "buy"}}))
	started, err := store.TryStartTask(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, started)

	w := doRequest(srv, http.MethodDelete, fmt.Sprintf("/api/prompt-backtest/tasks/%d", task.ID))
	assert.Equal(t, http.StatusConflict, w.Code)
}

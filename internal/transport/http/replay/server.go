package replayhttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"promptback/internal/replay"
	"promptback/internal/store/decisionlog"
	"promptback/internal/store/gormstore"
	"promptback/internal/store/model"
	"promptback/internal/template"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Server 提供提示词回放的 HTTP API。
type Server struct {
	addr      string
	svc       *replay.Service
	store     *gormstore.Store
	templates *template.Registry
	router    *gin.Engine
}

// Config 描述回放 HTTP Server 的依赖。
type Config struct {
	Addr      string
	Svc       *replay.Service
	Store     *gormstore.Store
	Templates *template.Registry
}

// NewServer 构建回放 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Svc == nil {
		return nil, errors.New("service 不能为空")
	}
	if cfg.Store == nil {
		return nil, errors.New("store 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:      cfg.Addr,
		svc:       cfg.Svc,
		store:     cfg.Store,
		templates: cfg.Templates,
		router:    router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api/prompt-backtest")
	api.POST("/tasks", s.handleCreateTask)
	api.GET("/tasks", s.handleListTasks)
	api.GET("/tasks/:id", s.handleTaskDetail)
	api.GET("/tasks/:id/results", s.handleTaskResults)
	api.GET("/tasks/:id/items", s.handleTaskItems)
	api.POST("/tasks/:id/retry", s.handleTaskRetry)
	api.DELETE("/tasks/:id", s.handleTaskDelete)
	api.GET("/items/:id", s.handleItemDetail)
	api.GET("/templates", s.handleTemplates)
	api.POST("/decision-logs/import", s.handleImportDecisionLogs)
}

func (s *Server) handleImportDecisionLogs(c *gin.Context) {
	var req struct {
		SourcePath    string `json:"source_path" binding:"required"`
		WalletAddress string `json:"wallet_address"`
		Environment   string `json:"environment"`
		SinceUnix     int64  `json:"since"`
		Limit         int    `json:"limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	count, err := s.svc.ImportDecisionLogs(c.Request.Context(), req.SourcePath, decisionlog.Query{
		WalletAddress: req.WalletAddress,
		Environment:   req.Environment,
		SinceUnix:     req.SinceUnix,
		Limit:         req.Limit,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": count})
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req replay.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	taskID, err := s.svc.CreateTask(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

func (s *Server) handleListTasks(c *gin.Context) {
	accountID, _ := strconv.ParseUint(c.Query("account_id"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	tasks, err := s.store.ListTasks(c.Request.Context(), uint(accountID), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]gin.H, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, taskView(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": views})
}

func (s *Server) handleTaskDetail(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	task, err := s.store.GetTask(c.Request.Context(), id)
	if err != nil {
		notFoundOrFail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": taskView(task)})
}

func (s *Server) handleTaskResults(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	sum, err := s.svc.ComputeSummary(c.Request.Context(), id)
	if err != nil {
		notFoundOrFail(c, err)
		return
	}
	items, err := s.store.ListItems(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]gin.H, 0, len(items))
	for _, it := range items {
		views = append(views, itemView(it))
	}
	c.JSON(http.StatusOK, gin.H{"summary": sum, "items": views})
}

func (s *Server) handleTaskItems(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var (
		items []model.BacktestItemModel
		err   error
	)
	if status := c.Query("status"); status != "" {
		items, err = s.store.ListItemsByStatus(c.Request.Context(), id, status)
	} else {
		items, err = s.store.ListItems(c.Request.Context(), id)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// 导出用途：带上 modified_prompt 与原始快照，方便拿去重建任务。
	views := make([]gin.H, 0, len(items))
	for _, it := range items {
		views = append(views, itemDetailView(it))
	}
	c.JSON(http.StatusOK, gin.H{"items": views})
}

func (s *Server) handleTaskRetry(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	count, err := s.svc.RetryFailed(c.Request.Context(), id)
	switch {
	case errors.Is(err, replay.ErrTaskRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, replay.ErrNothingToRetry):
		c.JSON(http.StatusOK, gin.H{"requeued": 0, "message": "nothing to retry"})
		return
	case err != nil:
		notFoundOrFail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"requeued": count})
}

func (s *Server) handleTaskDelete(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	task, err := s.store.GetTask(c.Request.Context(), id)
	if err != nil {
		notFoundOrFail(c, err)
		return
	}
	if task.Status == model.TaskStatusRunning {
		c.JSON(http.StatusConflict, gin.H{"error": "任务正在运行，无法删除"})
		return
	}
	if err := s.store.DeleteTask(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) handleItemDetail(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	item, err := s.store.GetItem(c.Request.Context(), id)
	if err != nil {
		notFoundOrFail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": itemDetailView(item)})
}

func (s *Server) handleTemplates(c *gin.Context) {
	if s.templates == nil {
		c.JSON(http.StatusOK, gin.H{"templates": []gin.H{}})
		return
	}
	snap := s.templates.Snapshot()
	views := make([]gin.H, 0, len(snap.Templates))
	for _, tpl := range snap.Templates {
		views = append(views, gin.H{
			"id":          tpl.ID,
			"description": tpl.Description,
			"version":     tpl.Version,
			"system_text": tpl.SystemText,
		})
	}
	c.JSON(http.StatusOK, gin.H{"templates": views, "loaded_at": snap.LoadedAt})
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id 非法"})
		return 0, false
	}
	return uint(id), true
}

func notFoundOrFail(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func taskView(t model.BacktestTaskModel) gin.H {
	return gin.H{
		"id":              t.ID,
		"account_id":      t.AccountID,
		"wallet_address":  t.WalletAddress,
		"environment":     t.Environment,
		"name":            t.Name,
		"status":          t.Status,
		"total_count":     t.TotalCount,
		"completed_count": t.CompletedCount,
		"failed_count":    t.FailedCount,
		"error_message":   t.ErrorMessage,
		"created_at":      formatMilli(t.CreatedAtUnix),
		"started_at":      formatMilliPtr(t.StartedAtUnix),
		"finished_at":     formatMilliPtr(t.FinishedAtUnix),
	}
}

func itemView(it model.BacktestItemModel) gin.H {
	return gin.H{
		"id":                     it.ID,
		"task_id":                it.TaskID,
		"status":                 it.Status,
		"original_operation":     it.OriginalOperation,
		"original_symbol":        it.OriginalSymbol,
		"original_realized_pnl":  it.OriginalRealizedPnL,
		"original_decision_time": formatMilli(it.OriginalDecisionTimeUnix),
		"new_operation":          it.NewOperation,
		"new_symbol":             it.NewSymbol,
		"decision_changed":       it.DecisionChanged,
		"change_type":            it.ChangeType,
		"error_message":          it.ErrorMessage,
	}
}

func itemDetailView(it model.BacktestItemModel) gin.H {
	view := itemView(it)
	view["original_target_portion"] = it.OriginalTargetPortion
	view["original_reasoning"] = it.OriginalReasoning
	view["original_decision_json"] = it.OriginalDecisionJSON
	view["original_prompt_template_name"] = it.OriginalPromptTemplateName
	view["modified_prompt"] = it.ModifiedPrompt
	view["new_target_portion"] = it.NewTargetPortion
	view["new_reasoning"] = it.NewReasoning
	view["new_decision_json"] = it.NewDecisionJSON
	return view
}

func formatMilli(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func formatMilliPtr(ms *int64) string {
	if ms == nil {
		return ""
	}
	return formatMilli(*ms)
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

package handlers

import (
	"strconv"
	"time"

	"dbaudit/internal/audit"
	"dbaudit/internal/auth"
	"dbaudit/internal/common"
	"dbaudit/internal/sqlreview"

	"github.com/gin-gonic/gin"
)

// SQLReviewHandler SQL 上线工单接口
type SQLReviewHandler struct {
	service *sqlreview.Service
	cfg     audit.ReviewConfig
}

// NewSQLReviewHandler 创建工单接口
func NewSQLReviewHandler(service *sqlreview.Service, cfg audit.ReviewConfig) *SQLReviewHandler {
	return &SQLReviewHandler{service: service, cfg: cfg}
}

// SubmitWorkflowRequest 工单提交参数
type SubmitWorkflowRequest struct {
	WorkflowName string     `json:"workflowName" binding:"required"`
	GroupID      uint       `json:"groupId" binding:"required"`
	GroupName    string     `json:"groupName" binding:"required"`
	InstanceID   uint       `json:"instanceId" binding:"required"`
	DBName       string     `json:"dbName" binding:"required"`
	SQLContent   string     `json:"sqlContent" binding:"required"`
	Remark       string     `json:"remark"`
	IsBackup     bool       `json:"isBackup"`
	RunDateStart *time.Time `json:"runDateStart"`
	RunDateEnd   *time.Time `json:"runDateEnd"`
}

// Submit 提交 SQL 上线工单
func (h *SQLReviewHandler) Submit(c *gin.Context) {
	var req SubmitWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	user, _ := auth.CurrentUser(c)

	wf, err := h.service.SubmitWorkflow(c.Request.Context(), h.cfg, sqlreview.SubmitRequest{
		WorkflowName: req.WorkflowName,
		GroupID:      req.GroupID,
		GroupName:    req.GroupName,
		InstanceID:   req.InstanceID,
		DBName:       req.DBName,
		SQLContent:   req.SQLContent,
		Remark:       req.Remark,
		IsBackup:     req.IsBackup,
		RunDateStart: req.RunDateStart,
		RunDateEnd:   req.RunDateEnd,
	}, user)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, wf)
}

// OperateRequest 工单审核参数
type OperateRequest struct {
	Action string `json:"action" binding:"required"`
	Remark string `json:"remark"`
}

// Operate 审核通过/驳回/取消工单
func (h *SQLReviewHandler) Operate(c *gin.Context) {
	workflowID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "非法的工单标识")
		return
	}
	var req OperateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	user, _ := auth.CurrentUser(c)

	detail, err := h.service.OperateWorkflow(c.Request.Context(), h.cfg,
		uint(workflowID), audit.WorkflowAction(req.Action), user, req.Remark)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, detail)
}

// TimedExecutionRequest 定时上线参数
type TimedExecutionRequest struct {
	RunAt time.Time `json:"runAt" binding:"required"`
}

// SetTimedExecution 设置定时上线
func (h *SQLReviewHandler) SetTimedExecution(c *gin.Context) {
	workflowID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "非法的工单标识")
		return
	}
	var req TimedExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	user, _ := auth.CurrentUser(c)

	if err := h.service.SetTimedExecution(c.Request.Context(), h.cfg, uint(workflowID), req.RunAt, user); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}

// Execute 工单进入执行队列
func (h *SQLReviewHandler) Execute(c *gin.Context) {
	workflowID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "非法的工单标识")
		return
	}
	user, _ := auth.CurrentUser(c)

	if err := h.service.EnqueueExecution(c.Request.Context(), uint(workflowID), user); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}

// Get 工单详情，含 SQL 正文与审核结果
func (h *SQLReviewHandler) Get(c *gin.Context) {
	workflowID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "非法的工单标识")
		return
	}
	ctx := c.Request.Context()

	wf, err := h.service.GetWorkflow(ctx, uint(workflowID))
	if err != nil {
		respondError(c, err)
		return
	}
	content, err := h.service.GetContent(ctx, uint(workflowID))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{
		"workflow": wf,
		"content":  content,
	})
}

// List 工单列表
func (h *SQLReviewHandler) List(c *gin.Context) {
	page := common.DefaultPagination()
	if err := c.ShouldBindQuery(&page); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	user, _ := auth.CurrentUser(c)

	workflows, total, err := h.service.ListWorkflows(c.Request.Context(), user, page)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, common.NewListResponse(workflows, page.Page, page.GetPageSize(), total))
}

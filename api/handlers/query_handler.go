package handlers

import (
	"strconv"

	"dbaudit/internal/audit"
	"dbaudit/internal/auth"
	"dbaudit/internal/common"
	"dbaudit/internal/query"

	"github.com/gin-gonic/gin"
)

// QueryHandler 查询权限申请接口
type QueryHandler struct {
	service *query.Service
	cfg     audit.ReviewConfig
}

// NewQueryHandler 创建查询权限接口
func NewQueryHandler(service *query.Service, cfg audit.ReviewConfig) *QueryHandler {
	return &QueryHandler{service: service, cfg: cfg}
}

// SubmitApplyRequest 权限申请参数
type SubmitApplyRequest struct {
	Title      string   `json:"title" binding:"required"`
	InstanceID uint     `json:"instanceId" binding:"required"`
	GroupID    uint     `json:"groupId" binding:"required"`
	PrivType   int      `json:"privType" binding:"required"`
	DBList     []string `json:"dbList"`
	TableList  []string `json:"tableList"`
	LimitNum   int      `json:"limitNum"`
	ValidDays  int      `json:"validDays"`
	Remark     string   `json:"remark"`
}

// Submit 提交查询权限申请
func (h *QueryHandler) Submit(c *gin.Context) {
	var req SubmitApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	user, _ := auth.CurrentUser(c)

	apply, err := h.service.SubmitApply(c.Request.Context(), h.cfg, query.SubmitRequest{
		Title:      req.Title,
		InstanceID: req.InstanceID,
		GroupID:    req.GroupID,
		PrivType:   req.PrivType,
		DBList:     req.DBList,
		TableList:  req.TableList,
		LimitNum:   req.LimitNum,
		ValidDays:  req.ValidDays,
		Remark:     req.Remark,
	}, user)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, apply)
}

// Operate 审批权限申请
func (h *QueryHandler) Operate(c *gin.Context) {
	applyID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "非法的申请标识")
		return
	}
	var req OperateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	user, _ := auth.CurrentUser(c)

	detail, err := h.service.OperateApply(c.Request.Context(), h.cfg,
		uint(applyID), audit.WorkflowAction(req.Action), user, req.Remark)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, detail)
}

// Get 权限申请详情
func (h *QueryHandler) Get(c *gin.Context) {
	applyID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "非法的申请标识")
		return
	}
	apply, err := h.service.GetApply(c.Request.Context(), uint(applyID))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, apply)
}

// List 权限申请列表
func (h *QueryHandler) List(c *gin.Context) {
	page := common.DefaultPagination()
	if err := c.ShouldBindQuery(&page); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	user, _ := auth.CurrentUser(c)

	applies, total, err := h.service.ListApplies(c.Request.Context(), user, page)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, common.NewListResponse(applies, page.Page, page.GetPageSize(), total))
}

// MyPrivileges 当前用户已生效的查询权限
func (h *QueryHandler) MyPrivileges(c *gin.Context) {
	user, _ := auth.CurrentUser(c)
	privs, err := h.service.ListPrivileges(c.Request.Context(), user.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, privs)
}

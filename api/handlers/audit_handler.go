package handlers

import (
	"io"
	"strconv"

	"dbaudit/internal/audit"
	"dbaudit/internal/auth"
	"dbaudit/internal/resource"

	"github.com/gin-gonic/gin"
)

// AuditHandler 审批流查询与配置接口
type AuditHandler struct {
	engine   *audit.Engine
	settings *audit.SettingsStore
	resolver *resource.Resolver
}

// NewAuditHandler 创建审批流接口
func NewAuditHandler(engine *audit.Engine, settings *audit.SettingsStore, resolver *resource.Resolver) *AuditHandler {
	return &AuditHandler{engine: engine, settings: settings, resolver: resolver}
}

// ListPending 当前用户待审核的工单
func (h *AuditHandler) ListPending(c *gin.Context) {
	user, _ := auth.CurrentUser(c)

	groupIDs, err := h.resolver.UserAuthGroupIDs(c.Request.Context(), user.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	audits, err := h.engine.PendingForGroups(c.Request.Context(), groupIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, audits)
}

// GetAudit 审批流详情，含审核明细与操作日志
func (h *AuditHandler) GetAudit(c *gin.Context) {
	auditID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "非法的审批流标识")
		return
	}

	ctx := c.Request.Context()
	rec, err := h.engine.GetAudit(ctx, uint(auditID))
	if err != nil {
		respondError(c, err)
		return
	}
	details, err := h.engine.ListDetails(ctx, uint(auditID))
	if err != nil {
		respondError(c, err)
		return
	}
	logs, err := h.engine.ListLogs(ctx, uint(auditID))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{
		"audit": rec,
		// 旧客户端按逗号串读取审批链，保留兼容投影
		"auditAuthGroupsDisplay": rec.AuthGroupsDisplay(),
		"details":                details,
		"logs":                   logs,
	})
}

// StreamAudit 以 SSE 推送审批流状态变化，客户端断开即退出
func (h *AuditHandler) StreamAudit(c *gin.Context) {
	auditID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "非法的审批流标识")
		return
	}
	if _, err := h.engine.GetAudit(c.Request.Context(), uint(auditID)); err != nil {
		respondError(c, err)
		return
	}

	events, cancel := h.engine.SubscribeAudit(uint(auditID))
	if events == nil {
		respondBadRequest(c, "事件订阅未启用")
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("audit", gin.H{
				"auditId":  evt.AuditID,
				"action":   string(evt.Action),
				"status":   int(evt.Status),
				"operator": evt.Operator,
				"remark":   evt.Remark,
			})
			// 终态后不会再有新事件，推完即收流
			return !evt.Status.Terminal() && evt.Status != audit.StatusPassed
		case <-ctx.Done():
			return false
		}
	})
}

// SettingRequest 审批流配置参数
type SettingRequest struct {
	WorkflowType int      `json:"workflowType" binding:"required"`
	GroupID      uint     `json:"groupId" binding:"required"`
	GroupName    string   `json:"groupName" binding:"required"`
	AuditGroups  []string `json:"auditGroups" binding:"required,min=1"`
}

// UpsertSetting 配置（工单类型，资源组）的审批链，仅超级用户
func (h *AuditHandler) UpsertSetting(c *gin.Context) {
	user, _ := auth.CurrentUser(c)
	if !user.IsSuperuser {
		respondError(c, audit.ErrNotReviewer)
		return
	}

	var req SettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	err := h.settings.ChangeSettings(c.Request.Context(),
		audit.WorkflowType(req.WorkflowType), req.GroupID, req.GroupName, req.AuditGroups)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}

// ListSettings 资源组下的审批流配置，groupId 为 0 时返回全部
func (h *AuditHandler) ListSettings(c *gin.Context) {
	groupID, _ := strconv.ParseUint(c.DefaultQuery("groupId", "0"), 10, 64)
	settings, err := h.settings.ListSettings(c.Request.Context(), uint(groupID))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, settings)
}

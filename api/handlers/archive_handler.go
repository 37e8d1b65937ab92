package handlers

import (
	"strconv"

	"dbaudit/internal/archive"
	"dbaudit/internal/audit"
	"dbaudit/internal/auth"
	"dbaudit/internal/common"

	"github.com/gin-gonic/gin"
)

// ArchiveHandler 数据归档配置接口
type ArchiveHandler struct {
	service *archive.Service
	cfg     audit.ReviewConfig
}

// NewArchiveHandler 创建归档接口
func NewArchiveHandler(service *archive.Service, cfg audit.ReviewConfig) *ArchiveHandler {
	return &ArchiveHandler{service: service, cfg: cfg}
}

// SubmitConfigRequest 归档配置申请参数
type SubmitConfigRequest struct {
	Title          string `json:"title" binding:"required"`
	GroupID        uint   `json:"groupId" binding:"required"`
	SrcInstanceID  uint   `json:"srcInstanceId" binding:"required"`
	SrcDBName      string `json:"srcDbName" binding:"required"`
	SrcTableName   string `json:"srcTableName" binding:"required"`
	DestInstanceID uint   `json:"destInstanceId"`
	DestDBName     string `json:"destDbName"`
	DestTableName  string `json:"destTableName"`
	Condition      string `json:"condition" binding:"required"`
	Mode           string `json:"mode" binding:"required"`
	NoDelete       bool   `json:"noDelete"`
	SleepSeconds   int    `json:"sleepSeconds"`
	Remark         string `json:"remark"`
}

// Submit 提交归档配置申请
func (h *ArchiveHandler) Submit(c *gin.Context) {
	var req SubmitConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	user, _ := auth.CurrentUser(c)

	conf, err := h.service.SubmitConfig(c.Request.Context(), h.cfg, archive.SubmitRequest{
		Title:          req.Title,
		GroupID:        req.GroupID,
		SrcInstanceID:  req.SrcInstanceID,
		SrcDBName:      req.SrcDBName,
		SrcTableName:   req.SrcTableName,
		DestInstanceID: req.DestInstanceID,
		DestDBName:     req.DestDBName,
		DestTableName:  req.DestTableName,
		Condition:      req.Condition,
		Mode:           req.Mode,
		NoDelete:       req.NoDelete,
		SleepSeconds:   req.SleepSeconds,
		Remark:         req.Remark,
	}, user)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, conf)
}

// Operate 审批归档配置
func (h *ArchiveHandler) Operate(c *gin.Context) {
	archiveID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "非法的归档配置标识")
		return
	}
	var req OperateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	user, _ := auth.CurrentUser(c)

	detail, err := h.service.OperateConfig(c.Request.Context(), h.cfg,
		uint(archiveID), audit.WorkflowAction(req.Action), user, req.Remark)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, detail)
}

// Disable 停用归档调度
func (h *ArchiveHandler) Disable(c *gin.Context) {
	archiveID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "非法的归档配置标识")
		return
	}
	user, _ := auth.CurrentUser(c)

	if err := h.service.DisableConfig(c.Request.Context(), uint(archiveID), user); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}

// Get 归档配置详情与执行记录
func (h *ArchiveHandler) Get(c *gin.Context) {
	archiveID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "非法的归档配置标识")
		return
	}
	ctx := c.Request.Context()

	conf, err := h.service.GetConfig(ctx, uint(archiveID))
	if err != nil {
		respondError(c, err)
		return
	}
	logs, err := h.service.ListLogs(ctx, uint(archiveID))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{
		"config": conf,
		"logs":   logs,
	})
}

// List 归档配置列表
func (h *ArchiveHandler) List(c *gin.Context) {
	page := common.DefaultPagination()
	if err := c.ShouldBindQuery(&page); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	user, _ := auth.CurrentUser(c)

	configs, total, err := h.service.ListConfigs(c.Request.Context(), user, page)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, common.NewListResponse(configs, page.Page, page.GetPageSize(), total))
}

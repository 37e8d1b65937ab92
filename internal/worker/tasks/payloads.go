package tasks

import "time"

// Task Types
const (
	TypeNotifyAudit     = "audit:notify"
	TypeExecuteWorkflow = "sqlreview:execute"
	TypeRunArchive      = "archive:run"
)

// NotifyAuditPayload 审批事件通知任务载荷
type NotifyAuditPayload struct {
	AuditID      uint   `json:"audit_id"`
	WorkflowID   uint   `json:"workflow_id"`
	WorkflowType int    `json:"workflow_type"`
	Title        string `json:"title"`
	GroupName    string `json:"group_name"`
	Action       string `json:"action"`
	Status       int    `json:"status"`
	Operator     string `json:"operator"`
	Remark       string `json:"remark"`
	AutoPassed   bool   `json:"auto_passed"`
}

// ExecuteWorkflowPayload SQL 工单执行任务载荷
type ExecuteWorkflowPayload struct {
	WorkflowID  uint      `json:"workflow_id"`
	Operator    string    `json:"operator"`
	ScheduledAt time.Time `json:"scheduled_at,omitempty"`
}

// RunArchivePayload 归档执行任务载荷
type RunArchivePayload struct {
	ArchiveID uint `json:"archive_id"`
}

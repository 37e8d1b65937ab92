package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 审批流指标
var (
	// AuditPendingGauge 等待审核的工单数
	AuditPendingGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbaudit_audit_pending",
			Help: "等待审核的工单数",
		},
		[]string{"workflow_type"},
	)

	// AuditDecisionsTotal 审核决策总数
	AuditDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbaudit_audit_decisions_total",
			Help: "审核决策总数",
		},
		[]string{"workflow_type", "result", "decision_type"}, // decision_type: manual, auto
	)

	// AuditCreateFailuresTotal 创建审批流失败总数
	AuditCreateFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbaudit_audit_create_failures_total",
			Help: "创建审批流失败总数",
		},
		[]string{"workflow_type", "reason"}, // reason: duplicate, no_flow, internal
	)
)

// 通知指标
var (
	// NotificationsTotal 通知发送总数
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbaudit_notifications_total",
			Help: "通知发送总数",
		},
		[]string{"channel", "status"}, // status: delivered, failed, skipped
	)
)

// 执行指标
var (
	// WorkflowExecutionsTotal 工单执行总数
	WorkflowExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbaudit_workflow_executions_total",
			Help: "工单执行总数",
		},
		[]string{"workflow_type", "status"}, // status: finish, exception
	)

	// WorkflowExecutionDuration 工单执行耗时（秒）
	WorkflowExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbaudit_workflow_execution_duration_seconds",
			Help:    "工单执行耗时分布",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"workflow_type"},
	)
)

package checker

import (
	"context"

	"dbaudit/internal/audit"
	"dbaudit/internal/resource"
)

// ReviewResult 网关对单条语句的审核/执行结果
type ReviewResult struct {
	OrderID      int    `json:"orderId"`      // 语句序号
	Stage        string `json:"stage"`        // CHECKED, EXECUTED ...
	ErrLevel     int    `json:"errLevel"`     // 0 正常，1 警告，2 错误
	StageStatus  string `json:"stageStatus"`  // Audit completed / Execute Successfully ...
	ErrorMessage string `json:"errorMessage"` // 网关给出的错误信息
	SQL          string `json:"sql"`          // 原始语句
	AffectedRows int64  `json:"affectedRows"` // 预估/实际影响行数
	ExecuteTime  string `json:"executeTime"`  // 执行耗时
	BackupDBName string `json:"backupDbName"` // 备份库名
}

// ReviewSet 一次审核/执行往返的完整结果
type ReviewSet struct {
	Results      []ReviewResult `json:"results"`
	WarningCount int            `json:"warningCount"`
	ErrorCount   int            `json:"errorCount"`
}

// HasError 是否存在错误级别的结果
func (s *ReviewSet) HasError() bool {
	return s.ErrorCount > 0
}

// TotalAffectedRows UPDATE 类语句影响行数之和
func (s *ReviewSet) TotalAffectedRows(updateOnly bool) int64 {
	var total int64
	for _, r := range s.Results {
		if updateOnly && !audit.IsUpdateStatement(r.SQL) {
			continue
		}
		total += r.AffectedRows
	}
	return total
}

// Checker 外部 SQL 审核/执行网关的窄契约。
// 引擎与业务服务只依赖该接口，网关故障不会污染审批状态。
type Checker interface {
	// ExecuteCheck 语法审核与影响行数预估，不落地执行
	ExecuteCheck(ctx context.Context, inst *resource.Instance, dbName, sqlContent string) (*ReviewSet, error)
	// Execute 审核通过后的真实执行，backup 控制是否生成回滚备份
	Execute(ctx context.Context, inst *resource.Instance, dbName, sqlContent string, backup bool) (*ReviewSet, error)
}

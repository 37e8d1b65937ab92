package audit

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"dbaudit/internal/config"
)

// ReviewConfig 自动审核决策所需的配置快照。
// 每次请求构建一次并显式传入，决策因此是 (SQL, 实例, 快照) 的纯函数，
// 不依赖任何进程级可变状态。
type ReviewConfig struct {
	Enabled         bool     // 自动审核总开关
	HighRiskRegex   string   // 高危语句正则，命中任意一条语句即走人工
	MaxUpdateRows   int64    // UPDATE 类语句影响行数之和的上限
	ExcludedDBTypes []string // 不参与自动审核的实例类型
	RequiredTag     string   // 实例必须携带的标签，空表示不限制
	BanSelfAudit    bool     // 禁止提交人审核自己的工单
	NotifyPhases    []string // 通知阶段开关
}

// NewReviewConfig 从应用配置构建快照
func NewReviewConfig(cfg *config.AuditConfig) ReviewConfig {
	return ReviewConfig{
		Enabled:         cfg.AutoReview,
		HighRiskRegex:   cfg.AutoReviewRegex,
		MaxUpdateRows:   cfg.AutoReviewMaxRows,
		ExcludedDBTypes: splitCSV(cfg.AutoReviewDBType),
		RequiredTag:     cfg.AutoReviewTag,
		BanSelfAudit:    cfg.BanSelfAudit,
		NotifyPhases:    splitCSV(cfg.NotifyPhaseControl),
	}
}

// NotifyEnabled 指定通知阶段是否开启
func (c ReviewConfig) NotifyEnabled(phase string) bool {
	for _, p := range c.NotifyPhases {
		if strings.EqualFold(p, phase) {
			return true
		}
	}
	return false
}

// AutoReviewInput 自动审核决策输入
type AutoReviewInput struct {
	SQLContent   string
	DBType       string   // 目标实例类型，如 mysql、redis
	InstanceTags []string // 目标实例标签
	ManualFlag   bool     // 审核网关未能完整解析，工单已被标记人工

	// UpdateAffectedRows 惰性获取 UPDATE 类语句影响行数之和，
	// 只有前序条件全部通过才会触发网关往返。
	UpdateAffectedRows func(ctx context.Context) (int64, error)
}

// DecideAutoReview 判定工单能否跳过人工审批。
// 仅适用于 SQL 上线类工单，在创建审批流之前、读取审批流配置之前调用一次。
func DecideAutoReview(ctx context.Context, cfg ReviewConfig, in AutoReviewInput) (bool, error) {
	if !cfg.Enabled {
		return false, nil
	}

	for _, excluded := range cfg.ExcludedDBTypes {
		if strings.EqualFold(excluded, in.DBType) {
			return false, nil
		}
	}

	if cfg.RequiredTag != "" && !containsFold(in.InstanceTags, cfg.RequiredTag) {
		return false, nil
	}

	if cfg.HighRiskRegex != "" {
		re, err := regexp.Compile("(?i)" + cfg.HighRiskRegex)
		if err != nil {
			return false, fmt.Errorf("高危语句正则无效: %w", err)
		}
		for _, stmt := range SplitStatements(in.SQLContent) {
			if re.MatchString(stmt) {
				return false, nil
			}
		}
	}

	if in.UpdateAffectedRows != nil {
		rows, err := in.UpdateAffectedRows(ctx)
		if err != nil {
			return false, fmt.Errorf("获取影响行数失败: %w", err)
		}
		if rows > cfg.MaxUpdateRows {
			return false, nil
		}
	}

	// 网关无法完整解析的工单一律人工
	if in.ManualFlag {
		return false, nil
	}

	return true, nil
}

// SplitStatements 按分号拆分 SQL 文本为独立语句，去除空白与空语句
func SplitStatements(sqlContent string) []string {
	raw := strings.Split(sqlContent, ";")
	statements := make([]string, 0, len(raw))
	for _, stmt := range raw {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		statements = append(statements, stmt)
	}
	return statements
}

// IsUpdateStatement 是否为 UPDATE 类语句
func IsUpdateStatement(stmt string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(stmt)), "update")
}

func splitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func containsFold(items []string, target string) bool {
	for _, item := range items {
		if strings.EqualFold(item, target) {
			return true
		}
	}
	return false
}

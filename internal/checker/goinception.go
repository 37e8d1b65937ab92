package checker

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dbaudit/internal/config"
	"dbaudit/internal/logger"
	"dbaudit/internal/resource"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// GoInceptionChecker goInception 客户端。
// goInception 本身讲 MySQL 协议，审核块通过一条普通连接发送。
type GoInceptionChecker struct {
	cfg    *config.CheckerConfig
	logger *zap.Logger
}

// NewGoInceptionChecker 创建 goInception 客户端
func NewGoInceptionChecker(cfg *config.CheckerConfig) *GoInceptionChecker {
	return &GoInceptionChecker{
		cfg:    cfg,
		logger: logger.Get(),
	}
}

// ExecuteCheck 语法审核与影响行数预估
func (c *GoInceptionChecker) ExecuteCheck(ctx context.Context, inst *resource.Instance, dbName, sqlContent string) (*ReviewSet, error) {
	return c.roundTrip(ctx, inst, dbName, sqlContent, "--check=1;")
}

// Execute 真实执行，可选回滚备份
func (c *GoInceptionChecker) Execute(ctx context.Context, inst *resource.Instance, dbName, sqlContent string, backup bool) (*ReviewSet, error) {
	opts := "--execute=1;"
	if backup {
		opts += "--backup=1;"
	}
	return c.roundTrip(ctx, inst, dbName, sqlContent, opts)
}

// roundTrip 发送一个 inception 审核块并解析结果集
func (c *GoInceptionChecker) roundTrip(ctx context.Context, inst *resource.Instance, dbName, sqlContent, options string) (*ReviewSet, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/?charset=utf8mb4&parseTime=True&timeout=%ds",
		c.cfg.User, c.cfg.Password, c.cfg.Host, c.cfg.Port, int(c.cfg.CheckerTimeout().Seconds()))
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接审核网关失败: %w", err)
	}
	defer db.Close()

	block := c.buildBlock(inst, dbName, sqlContent, options)
	rows, err := db.QueryContext(ctx, block)
	if err != nil {
		return nil, fmt.Errorf("审核网关请求失败: %w", err)
	}
	defer rows.Close()

	set := &ReviewSet{}
	for rows.Next() {
		var (
			orderID      int
			stage        string
			errLevel     int
			stageStatus  string
			errorMessage sql.NullString
			stmt         string
			affectedRows int64
			sequence     sql.NullString
			backupDB     sql.NullString
			executeTime  sql.NullString
			sqlsha1      sql.NullString
			backupTime   sql.NullString
		)
		if err := rows.Scan(&orderID, &stage, &errLevel, &stageStatus, &errorMessage,
			&stmt, &affectedRows, &sequence, &backupDB, &executeTime, &sqlsha1, &backupTime); err != nil {
			return nil, fmt.Errorf("解析审核结果失败: %w", err)
		}
		result := ReviewResult{
			OrderID:      orderID,
			Stage:        stage,
			ErrLevel:     errLevel,
			StageStatus:  stageStatus,
			ErrorMessage: errorMessage.String,
			SQL:          stmt,
			AffectedRows: affectedRows,
			ExecuteTime:  executeTime.String,
			BackupDBName: backupDB.String,
		}
		switch errLevel {
		case 1:
			set.WarningCount++
		case 2:
			set.ErrorCount++
		}
		set.Results = append(set.Results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("读取审核结果失败: %w", err)
	}

	c.logger.Debug("审核网关往返完成",
		zap.String("instance", inst.InstanceName),
		zap.String("db", dbName),
		zap.Int("statements", len(set.Results)),
		zap.Int("errors", set.ErrorCount),
	)
	return set, nil
}

func (c *GoInceptionChecker) buildBlock(inst *resource.Instance, dbName, sqlContent, options string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf(
		"/*--user=%s;--password=%s;--host=%s;--port=%d;%s*/\n",
		inst.User, inst.Password, inst.Host, inst.Port, options,
	))
	b.WriteString("inception_magic_start;\n")
	if dbName != "" {
		b.WriteString(fmt.Sprintf("use `%s`;\n", dbName))
	}
	b.WriteString(strings.TrimSpace(sqlContent))
	if !strings.HasSuffix(strings.TrimSpace(sqlContent), ";") {
		b.WriteString(";")
	}
	b.WriteString("\ninception_magic_commit;")
	return b.String()
}

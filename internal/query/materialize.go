package query

import (
	"context"
	"strings"

	"dbaudit/internal/audit"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// materializePrivileges 按申请展开权限行。
// 借助 uniq_apply_object 唯一索引与 DoNothing 幂等：
// 审批通过被重复投递时不会产生重复权限行。
func materializePrivileges(ctx context.Context, tx *gorm.DB, apply *QueryPrivilegesApply) error {
	rows := expandPrivilegeRows(apply)
	if len(rows) == 0 {
		return nil
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "apply_id"}, {Name: "db_name"}, {Name: "table_name"},
			},
			DoNothing: true,
		}).
		Create(&rows).Error
}

func expandPrivilegeRows(apply *QueryPrivilegesApply) []QueryPrivilege {
	base := QueryPrivilege{
		ApplyID:    apply.ID,
		UserName:   apply.UserName,
		InstanceID: apply.InstanceID,
		PrivType:   apply.PrivType,
		LimitNum:   apply.LimitNum,
		ValidDate:  apply.ValidDate,
	}

	var rows []QueryPrivilege
	switch apply.PrivType {
	case PrivTypeDatabase:
		for _, db := range apply.DBList {
			row := base
			row.DBName = db
			rows = append(rows, row)
		}
	case PrivTypeTable:
		// 表级条目形如 db.table
		for _, item := range apply.TableList {
			db, table, ok := strings.Cut(item, ".")
			if !ok || db == "" || table == "" {
				continue
			}
			row := base
			row.DBName = db
			row.TableName_ = table
			rows = append(rows, row)
		}
	}
	return rows
}

// HasPrivilege 查询用户是否对目标库表持有未过期权限
func HasPrivilege(ctx context.Context, db *gorm.DB, userName string, instanceID uint, dbName, tableName string) (bool, error) {
	q := db.WithContext(ctx).Model(&QueryPrivilege{}).
		Where("user_name = ? AND instance_id = ? AND is_deleted = ? AND valid_date >= CURRENT_TIMESTAMP",
			userName, instanceID, false)
	q = q.Where(
		db.Where("priv_type = ? AND db_name = ?", PrivTypeDatabase, dbName).
			Or("priv_type = ? AND db_name = ? AND table_name = ?", PrivTypeTable, dbName, tableName),
	)
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

var _ audit.Payload = (*QueryPrivilegesApply)(nil)

package resource

import (
	"context"
	"fmt"
	"testing"

	"dbaudit/internal/audit"
	"dbaudit/internal/common"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&ResourceGroup{}, &AuthGroup{}, &Users{}, &UserResourceGroup{},
		&UserAuthGroup{}, &Instance{}, &InstanceTag{},
	))
	return db
}

func seedGroups(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&[]ResourceGroup{
		{GroupName: "DBA组"},
		{GroupName: "业务组"},
		{GroupName: "已下线组", IsDeleted: true},
	}).Error)
	require.NoError(t, db.Create(&UserResourceGroup{Username: "engineer1", GroupID: 1}).Error)
}

func TestUserGroupsVisibility(t *testing.T) {
	db := openTestDB(t)
	r := NewResolver(db)
	ctx := context.Background()
	seedGroups(t, db)

	// 普通用户仅可见显式关联的组
	groups, err := r.UserGroups(ctx, audit.User{Username: "engineer1"})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "DBA组", groups[0].GroupName)

	// 超级用户可见全部未删除的组
	groups, err = r.UserGroups(ctx, audit.User{Username: "admin", IsSuperuser: true})
	require.NoError(t, err)
	require.Len(t, groups, 2)

	// 无关联的普通用户什么都看不到
	groups, err = r.UserGroups(ctx, audit.User{Username: "outsider"})
	require.NoError(t, err)
	require.Empty(t, groups)
}

func TestUserInstancesFilter(t *testing.T) {
	db := openTestDB(t)
	r := NewResolver(db)
	ctx := context.Background()
	seedGroups(t, db)
	require.NoError(t, db.Create(&[]Instance{
		{InstanceName: "mysql-master", GroupID: 1, Type: "master", DBType: "mysql", Host: "10.0.0.1", Port: 3306, User: "app"},
		{InstanceName: "mysql-slave", GroupID: 1, Type: "slave", DBType: "mysql", Host: "10.0.0.2", Port: 3306, User: "app"},
		{InstanceName: "redis-main", GroupID: 1, Type: "master", DBType: "redis", Host: "10.0.0.3", Port: 6379, User: "app"},
		{InstanceName: "other-group", GroupID: 2, Type: "master", DBType: "mysql", Host: "10.0.0.4", Port: 3306, User: "app"},
	}).Error)
	require.NoError(t, db.Create(&InstanceTag{InstanceID: 1, TagName: "can_auto_review"}).Error)

	user := audit.User{Username: "engineer1"}

	// 组投影：engineer1 只能看到组 1 的实例
	instances, err := r.UserInstances(ctx, user, InstanceFilter{})
	require.NoError(t, err)
	require.Len(t, instances, 3)

	// 主从与引擎过滤
	instances, err = r.UserInstances(ctx, user, InstanceFilter{Type: "master", DBType: "mysql"})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, "mysql-master", instances[0].InstanceName)

	// 标签过滤
	instances, err = r.UserInstances(ctx, user, InstanceFilter{Tags: []string{"can_auto_review"}})
	require.NoError(t, err)
	require.Len(t, instances, 1)

	// 无可见组时返回空而不报错
	instances, err = r.UserInstances(ctx, audit.User{Username: "outsider"}, InstanceFilter{})
	require.NoError(t, err)
	require.Empty(t, instances)
}

func TestIsReviewerRequiresMembershipAndPermission(t *testing.T) {
	db := openTestDB(t)
	r := NewResolver(db)
	ctx := context.Background()
	require.NoError(t, db.Create(&AuthGroup{
		GroupName:   "SQL审核组",
		Permissions: datatypes.JSONSlice[string]{"sql_review"},
	}).Error)
	require.NoError(t, db.Create(&UserAuthGroup{Username: "dba1", AuthGroupID: 1}).Error)

	// 成员且权限匹配
	ok, err := r.IsReviewer(ctx, "dba1", "1", audit.TypeSQLReview)
	require.NoError(t, err)
	require.True(t, ok)

	// 成员但权限不匹配工单类型
	ok, err = r.IsReviewer(ctx, "dba1", "1", audit.TypeArchive)
	require.NoError(t, err)
	require.False(t, ok)

	// 非成员
	ok, err = r.IsReviewer(ctx, "engineer1", "1", audit.TypeSQLReview)
	require.NoError(t, err)
	require.False(t, ok)

	// 非法组 ID 不报错，仅判否
	ok, err = r.IsReviewer(ctx, "dba1", "not-a-number", audit.TypeSQLReview)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAuthGroupExists(t *testing.T) {
	db := openTestDB(t)
	r := NewResolver(db)
	ctx := context.Background()
	require.NoError(t, db.Create(&AuthGroup{GroupName: "SQL审核组"}).Error)

	ok, err := r.AuthGroupExists(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.AuthGroupExists(ctx, "99")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = r.AuthGroupExists(ctx, "bogus")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUserAuthGroupIDs(t *testing.T) {
	db := openTestDB(t)
	r := NewResolver(db)
	ctx := context.Background()
	require.NoError(t, db.Create(&[]UserAuthGroup{
		{Username: "dba1", AuthGroupID: 3},
		{Username: "dba1", AuthGroupID: 7},
	}).Error)

	ids, err := r.UserAuthGroupIDs(ctx, "dba1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"3", "7"}, ids)

	ids, err = r.UserAuthGroupIDs(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestGetGroupNotFound(t *testing.T) {
	db := openTestDB(t)
	r := NewResolver(db)
	ctx := context.Background()
	seedGroups(t, db)

	group, err := r.GetGroup(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "DBA组", group.GroupName)

	// 已删除与不存在的组都按业务错误返回，附带错误码默认文案
	for _, id := range []uint{3, 99} {
		_, err = r.GetGroup(ctx, id)
		var bizErr *common.BusinessError
		require.ErrorAs(t, err, &bizErr)
		require.Equal(t, common.CodeGroupNotFound, bizErr.Code)
		require.Equal(t, common.GetErrorMessage(common.CodeGroupNotFound), bizErr.Message)
	}
}

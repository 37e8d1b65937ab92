package query

import (
	"context"
	"testing"
	"time"

	"dbaudit/internal/audit"
	"dbaudit/internal/resource"
	"dbaudit/internal/worker/tasks"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// fakeQueue 收集投递的通知任务
type fakeQueue struct {
	notifies []tasks.NotifyAuditPayload
}

func (f *fakeQueue) EnqueueNotify(payload tasks.NotifyAuditPayload) error {
	f.notifies = append(f.notifies, payload)
	return nil
}

func (f *fakeQueue) EnqueueExecute(payload tasks.ExecuteWorkflowPayload) error { return nil }

func (f *fakeQueue) ScheduleExecute(payload tasks.ExecuteWorkflowPayload, runAt time.Time) error {
	return nil
}

func (f *fakeQueue) CancelScheduledExecute(workflowID uint) error { return nil }

func (f *fakeQueue) EnqueueArchive(payload tasks.RunArchivePayload) error { return nil }

func (f *fakeQueue) Close() error { return nil }

func openServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := openTestDB(t)
	require.NoError(t, db.AutoMigrate(
		&resource.ResourceGroup{}, &resource.AuthGroup{},
		&resource.UserAuthGroup{}, &resource.UserResourceGroup{},
		&audit.WorkflowAudit{}, &audit.WorkflowAuditDetail{},
		&audit.WorkflowAuditSetting{}, &audit.WorkflowLog{},
	))
	return db
}

func newServiceEnv(t *testing.T) (*Service, *audit.Engine, *gorm.DB) {
	t.Helper()
	db := openServiceDB(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&resource.ResourceGroup{GroupName: "DBA组"}).Error)
	require.NoError(t, db.Create(&resource.AuthGroup{
		GroupName:   "查询审核组",
		Permissions: datatypes.JSONSlice[string]{"query_review"},
	}).Error)
	require.NoError(t, db.Create(&resource.UserAuthGroup{Username: "dba1", AuthGroupID: 1}).Error)
	require.NoError(t, audit.NewSettingsStore(db).ChangeSettings(ctx, audit.TypeQueryPriv, 1, "DBA组", []string{"1"}))

	resolver := resource.NewResolver(db)
	engine := audit.NewEngine(db, audit.WithGroupDirectory(resolver))
	return NewService(db, engine, &fakeQueue{}, resolver), engine, db
}

func TestSubmitApplyValidation(t *testing.T) {
	svc, _, _ := newServiceEnv(t)
	ctx := context.Background()
	submitter := audit.User{Username: "engineer1"}

	// 未知权限级别
	_, err := svc.SubmitApply(ctx, audit.ReviewConfig{}, SubmitRequest{
		Title: "申请", GroupID: 1, InstanceID: 1, PrivType: 9,
	}, submitter)
	require.Error(t, err)

	// 库级申请缺库列表
	_, err = svc.SubmitApply(ctx, audit.ReviewConfig{}, SubmitRequest{
		Title: "申请", GroupID: 1, InstanceID: 1, PrivType: PrivTypeDatabase,
	}, submitter)
	require.Error(t, err)

	// 表级申请缺表列表
	_, err = svc.SubmitApply(ctx, audit.ReviewConfig{}, SubmitRequest{
		Title: "申请", GroupID: 1, InstanceID: 1, PrivType: PrivTypeTable,
	}, submitter)
	require.Error(t, err)

	// 资源组不存在
	_, err = svc.SubmitApply(ctx, audit.ReviewConfig{}, SubmitRequest{
		Title: "申请", GroupID: 99, InstanceID: 1, PrivType: PrivTypeDatabase, DBList: []string{"orders"},
	}, submitter)
	require.Error(t, err)
}

func TestSubmitApplyDefaults(t *testing.T) {
	svc, engine, _ := newServiceEnv(t)
	ctx := context.Background()

	apply, err := svc.SubmitApply(ctx, audit.ReviewConfig{}, SubmitRequest{
		Title:      "申请查询权限",
		GroupID:    1,
		InstanceID: 3,
		PrivType:   PrivTypeDatabase,
		DBList:     []string{"orders"},
	}, audit.User{Username: "engineer1"})
	require.NoError(t, err)

	// 行数上限与有效期走默认值
	require.Equal(t, 100, apply.LimitNum)
	require.True(t, apply.ValidDate.After(time.Now().AddDate(0, 0, 29)))
	require.Equal(t, audit.StatusWaiting, apply.Status)

	rec, err := engine.GetAuditByWorkflow(ctx, apply.ID, audit.TypeQueryPriv)
	require.NoError(t, err)
	require.Equal(t, audit.StatusWaiting, rec.CurrentStatus)
}

func TestOperateApplyPassMaterializes(t *testing.T) {
	svc, _, db := newServiceEnv(t)
	ctx := context.Background()

	apply, err := svc.SubmitApply(ctx, audit.ReviewConfig{}, SubmitRequest{
		Title:      "申请查询权限",
		GroupID:    1,
		InstanceID: 3,
		PrivType:   PrivTypeDatabase,
		DBList:     []string{"orders", "billing"},
	}, audit.User{Username: "engineer1"})
	require.NoError(t, err)

	_, err = svc.OperateApply(ctx, audit.ReviewConfig{}, apply.ID, audit.ActionPass,
		audit.User{Username: "dba1"}, "同意")
	require.NoError(t, err)

	reloaded, err := svc.GetApply(ctx, apply.ID)
	require.NoError(t, err)
	require.Equal(t, audit.StatusPassed, reloaded.Status)

	privs, err := svc.ListPrivileges(ctx, "engineer1")
	require.NoError(t, err)
	require.Len(t, privs, 2)

	var count int64
	require.NoError(t, db.Model(&QueryPrivilege{}).Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestOperateApplyRejectLeavesNoPrivileges(t *testing.T) {
	svc, _, db := newServiceEnv(t)
	ctx := context.Background()

	apply, err := svc.SubmitApply(ctx, audit.ReviewConfig{}, SubmitRequest{
		Title:      "申请查询权限",
		GroupID:    1,
		InstanceID: 3,
		PrivType:   PrivTypeDatabase,
		DBList:     []string{"orders"},
	}, audit.User{Username: "engineer1"})
	require.NoError(t, err)

	_, err = svc.OperateApply(ctx, audit.ReviewConfig{}, apply.ID, audit.ActionReject,
		audit.User{Username: "dba1"}, "范围过大")
	require.NoError(t, err)

	reloaded, err := svc.GetApply(ctx, apply.ID)
	require.NoError(t, err)
	require.Equal(t, audit.StatusRejected, reloaded.Status)

	var count int64
	require.NoError(t, db.Model(&QueryPrivilege{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestOperateApplyAbortAuthorization(t *testing.T) {
	svc, _, _ := newServiceEnv(t)
	ctx := context.Background()

	apply, err := svc.SubmitApply(ctx, audit.ReviewConfig{}, SubmitRequest{
		Title:      "申请查询权限",
		GroupID:    1,
		InstanceID: 3,
		PrivType:   PrivTypeDatabase,
		DBList:     []string{"orders"},
	}, audit.User{Username: "engineer1"})
	require.NoError(t, err)

	// 他人不能替申请人取消
	_, err = svc.OperateApply(ctx, audit.ReviewConfig{}, apply.ID, audit.ActionAbort,
		audit.User{Username: "outsider"}, "")
	require.ErrorIs(t, err, audit.ErrNotReviewer)

	// 申请人可以取消
	_, err = svc.OperateApply(ctx, audit.ReviewConfig{}, apply.ID, audit.ActionAbort,
		audit.User{Username: "engineer1"}, "不需要了")
	require.NoError(t, err)

	reloaded, err := svc.GetApply(ctx, apply.ID)
	require.NoError(t, err)
	require.Equal(t, audit.StatusAborted, reloaded.Status)
}

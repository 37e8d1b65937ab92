package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// testPayload 内存中的业务工单桩，记录引擎写回的审批链与结论
type testPayload struct {
	id        uint
	kind      WorkflowType
	groupID   uint
	groupName string
	title     string
	submitter string
	chain     GroupList
	results   []WorkflowStatus
}

func (p *testPayload) Kind() WorkflowType       { return p.kind }
func (p *testPayload) PayloadID() uint          { return p.id }
func (p *testPayload) PayloadGroupID() uint     { return p.groupID }
func (p *testPayload) PayloadGroupName() string { return p.groupName }
func (p *testPayload) Title() string            { return p.title }
func (p *testPayload) Remark() string           { return "" }
func (p *testPayload) Submitter() string        { return p.submitter }
func (p *testPayload) SubmitterDisplay() string { return p.submitter }

func (p *testPayload) SetAuditChain(ctx context.Context, tx *gorm.DB, groups GroupList) error {
	p.chain = groups
	return nil
}

func (p *testPayload) OnAuditResult(ctx context.Context, tx *gorm.DB, status WorkflowStatus) error {
	p.results = append(p.results, status)
	return nil
}

// fakeDirectory 内存审批组目录
type fakeDirectory struct {
	groups    map[string]bool
	reviewers map[string][]string // 审批组 -> 成员
}

func (d *fakeDirectory) AuthGroupExists(ctx context.Context, authGroupID string) (bool, error) {
	return d.groups[authGroupID], nil
}

func (d *fakeDirectory) IsReviewer(ctx context.Context, username, authGroupID string, workflowType WorkflowType) (bool, error) {
	for _, u := range d.reviewers[authGroupID] {
		if u == username {
			return true, nil
		}
	}
	return false, nil
}

type autoReviewerFunc func(ctx context.Context, cfg ReviewConfig, p Payload) (bool, error)

func (f autoReviewerFunc) Decide(ctx context.Context, cfg ReviewConfig, p Payload) (bool, error) {
	return f(ctx, cfg, p)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&WorkflowAudit{}, &WorkflowAuditDetail{}, &WorkflowAuditSetting{}, &WorkflowLog{},
	))
	return db
}

func seedSettings(t *testing.T, db *gorm.DB, kind WorkflowType, groupID uint, authGroups []string) {
	t.Helper()
	store := NewSettingsStore(db)
	require.NoError(t, store.ChangeSettings(context.Background(), kind, groupID, "DBA组", authGroups))
}

func newTestPayload(id uint) *testPayload {
	return &testPayload{
		id:        id,
		kind:      TypeSQLReview,
		groupID:   1,
		groupName: "DBA组",
		title:     "测试工单",
		submitter: "engineer1",
	}
}

func TestCreateAuditMultiLevelChain(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db)
	ctx := context.Background()
	seedSettings(t, db, TypeSQLReview, 1, []string{"10", "20"})

	p := newTestPayload(1)
	rec, err := engine.CreateAudit(ctx, ReviewConfig{}, p)
	require.NoError(t, err)

	require.Equal(t, StatusWaiting, rec.CurrentStatus)
	require.Equal(t, "10", rec.CurrentAudit)
	require.Equal(t, "20", rec.NextAudit)
	require.Equal(t, GroupList{"10", "20"}, p.chain)

	// 创建即记录一条提交日志
	logs, err := engine.ListLogs(ctx, rec.AuditID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, ActionSubmit, logs[0].OperationType)
}

func TestOperatePassAdvancesThenCompletes(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db)
	ctx := context.Background()
	seedSettings(t, db, TypeSQLReview, 1, []string{"10", "20"})

	p := newTestPayload(1)
	rec, err := engine.CreateAudit(ctx, ReviewConfig{}, p)
	require.NoError(t, err)

	// 第一级通过：链条推进，仍等待
	_, err = engine.Operate(ctx, rec.AuditID, ActionPass, User{Username: "dba1"}, "")
	require.NoError(t, err)
	after, err := engine.GetAudit(ctx, rec.AuditID)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, after.CurrentStatus)
	require.Equal(t, "20", after.CurrentAudit)
	require.Equal(t, NoAudit, after.NextAudit)

	// 第二级通过：整条链通过
	_, err = engine.Operate(ctx, rec.AuditID, ActionPass, User{Username: "dba2"}, "")
	require.NoError(t, err)
	after, err = engine.GetAudit(ctx, rec.AuditID)
	require.NoError(t, err)
	require.Equal(t, StatusPassed, after.CurrentStatus)
	require.Equal(t, NoAudit, after.CurrentAudit)

	// 通过次数不会超过审批链长度
	_, err = engine.Operate(ctx, rec.AuditID, ActionPass, User{Username: "dba3"}, "")
	require.ErrorIs(t, err, ErrIllegalTransition)

	// 每级决策各留一条明细
	details, err := engine.ListDetails(ctx, rec.AuditID)
	require.NoError(t, err)
	require.Len(t, details, 2)
	require.Equal(t, "dba1", details[0].AuditUser)
	require.Equal(t, "dba2", details[1].AuditUser)
}

func TestCreateAuditDuplicateSubmission(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db)
	ctx := context.Background()
	seedSettings(t, db, TypeSQLReview, 1, []string{"10"})

	_, err := engine.CreateAudit(ctx, ReviewConfig{}, newTestPayload(1))
	require.NoError(t, err)

	_, err = engine.CreateAudit(ctx, ReviewConfig{}, newTestPayload(1))
	require.ErrorIs(t, err, ErrDuplicateSubmission)

	var count int64
	require.NoError(t, db.Model(&WorkflowAudit{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestCreateAuditNoFlowConfigured(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db)
	ctx := context.Background()

	_, err := engine.CreateAudit(ctx, ReviewConfig{}, newTestPayload(1))
	require.ErrorIs(t, err, ErrNoAuditFlow)

	// 配置缺失时不得留下任何审批流记录
	var count int64
	require.NoError(t, db.Model(&WorkflowAudit{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCreateAuditAutoPass(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db, WithAutoReviewer(autoReviewerFunc(
		func(ctx context.Context, cfg ReviewConfig, p Payload) (bool, error) {
			return true, nil
		})))
	ctx := context.Background()

	// 自动通过不读取审批流配置，未配置也能通过
	p := newTestPayload(1)
	rec, err := engine.CreateAudit(ctx, ReviewConfig{Enabled: true}, p)
	require.NoError(t, err)

	require.Equal(t, StatusPassed, rec.CurrentStatus)
	require.Equal(t, NoAudit, rec.CurrentAudit)
	require.Equal(t, NoAudit, rec.NextAudit)
	require.Equal(t, []WorkflowStatus{StatusPassed}, p.results)

	// 没有人工决策明细，只有一条提交日志
	details, err := engine.ListDetails(ctx, rec.AuditID)
	require.NoError(t, err)
	require.Empty(t, details)
	logs, err := engine.ListLogs(ctx, rec.AuditID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, ActionSubmit, logs[0].OperationType)
}

func TestAutoReviewOnlyAppliesToSQLReview(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db, WithAutoReviewer(autoReviewerFunc(
		func(ctx context.Context, cfg ReviewConfig, p Payload) (bool, error) {
			return true, nil
		})))
	ctx := context.Background()
	seedSettings(t, db, TypeQueryPriv, 1, []string{"10"})

	p := newTestPayload(1)
	p.kind = TypeQueryPriv
	rec, err := engine.CreateAudit(ctx, ReviewConfig{Enabled: true}, p)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, rec.CurrentStatus)
}

func TestOperateRejectTerminates(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db)
	ctx := context.Background()
	seedSettings(t, db, TypeSQLReview, 1, []string{"10", "20"})

	rec, err := engine.CreateAudit(ctx, ReviewConfig{}, newTestPayload(1))
	require.NoError(t, err)

	// 第一级通过后第二级驳回
	_, err = engine.Operate(ctx, rec.AuditID, ActionPass, User{Username: "dba1"}, "")
	require.NoError(t, err)
	_, err = engine.Operate(ctx, rec.AuditID, ActionReject, User{Username: "dba2"}, "风险太高")
	require.NoError(t, err)

	after, err := engine.GetAudit(ctx, rec.AuditID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, after.CurrentStatus)
	require.Equal(t, NoAudit, after.CurrentAudit)
	require.Equal(t, NoAudit, after.NextAudit)

	// 终止态后一切决策动作非法
	for _, action := range []WorkflowAction{ActionPass, ActionReject, ActionAbort} {
		_, err = engine.Operate(ctx, rec.AuditID, action, User{Username: "dba1"}, "")
		require.ErrorIs(t, err, ErrIllegalTransition)
	}
}

func TestOperateAbortResetsCurrentAudit(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db)
	ctx := context.Background()
	seedSettings(t, db, TypeSQLReview, 1, []string{"10", "20"})

	rec, err := engine.CreateAudit(ctx, ReviewConfig{}, newTestPayload(1))
	require.NoError(t, err)

	_, err = engine.Operate(ctx, rec.AuditID, ActionAbort, User{Username: "engineer1"}, "不需要了")
	require.NoError(t, err)

	after, err := engine.GetAudit(ctx, rec.AuditID)
	require.NoError(t, err)
	require.Equal(t, StatusAborted, after.CurrentStatus)
	require.Equal(t, NoAudit, after.CurrentAudit)
	require.Equal(t, NoAudit, after.NextAudit)
}

func TestResubmitAfterTerminalReusesRecord(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db)
	ctx := context.Background()
	seedSettings(t, db, TypeSQLReview, 1, []string{"10", "20"})

	rec, err := engine.CreateAudit(ctx, ReviewConfig{}, newTestPayload(1))
	require.NoError(t, err)
	_, err = engine.Operate(ctx, rec.AuditID, ActionAbort, User{Username: "engineer1"}, "")
	require.NoError(t, err)

	// 终结后重新提交：复用同一行并重置整条链
	again, err := engine.CreateAudit(ctx, ReviewConfig{}, newTestPayload(1))
	require.NoError(t, err)
	require.Equal(t, rec.AuditID, again.AuditID)
	require.Equal(t, StatusWaiting, again.CurrentStatus)
	require.Equal(t, "10", again.CurrentAudit)
	require.Equal(t, "20", again.NextAudit)

	var count int64
	require.NoError(t, db.Model(&WorkflowAudit{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestCanReviewFailsClosed(t *testing.T) {
	db := openTestDB(t)
	dir := &fakeDirectory{
		groups:    map[string]bool{"10": true},
		reviewers: map[string][]string{"10": {"dba1"}},
	}
	engine := NewEngine(db, WithGroupDirectory(dir))
	ctx := context.Background()
	seedSettings(t, db, TypeSQLReview, 1, []string{"10"})

	rec, err := engine.CreateAudit(ctx, ReviewConfig{}, newTestPayload(1))
	require.NoError(t, err)

	// 审批组成员放行
	require.NoError(t, engine.CanReview(ctx, ReviewConfig{}, User{Username: "dba1"}, rec.AuditID))

	// 非成员拒绝
	err = engine.CanReview(ctx, ReviewConfig{}, User{Username: "outsider"}, rec.AuditID)
	require.ErrorIs(t, err, ErrNotReviewer)

	// 超级用户越过成员校验
	require.NoError(t, engine.CanReview(ctx, ReviewConfig{}, User{Username: "admin", IsSuperuser: true}, rec.AuditID))

	// 禁止自审时提交人被拒绝
	err = engine.CanReview(ctx, ReviewConfig{BanSelfAudit: true}, User{Username: "engineer1"}, rec.AuditID)
	require.ErrorIs(t, err, ErrNotReviewer)

	// 校验失败不产生任何状态变更
	after, err := engine.GetAudit(ctx, rec.AuditID)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, after.CurrentStatus)
	require.Equal(t, "10", after.CurrentAudit)
}

func TestCanReviewGroupIntegrity(t *testing.T) {
	db := openTestDB(t)
	dir := &fakeDirectory{groups: map[string]bool{}, reviewers: map[string][]string{}}
	engine := NewEngine(db, WithGroupDirectory(dir))
	ctx := context.Background()
	seedSettings(t, db, TypeSQLReview, 1, []string{"99"})

	rec, err := engine.CreateAudit(ctx, ReviewConfig{}, newTestPayload(1))
	require.NoError(t, err)

	// 审批组不存在：配置完整性错误，与无权限错误可区分，
	// 超级用户也不能越过
	err = engine.CanReview(ctx, ReviewConfig{}, User{Username: "dba1"}, rec.AuditID)
	require.ErrorIs(t, err, ErrGroupIntegrity)
	err = engine.CanReview(ctx, ReviewConfig{}, User{Username: "admin", IsSuperuser: true}, rec.AuditID)
	require.ErrorIs(t, err, ErrGroupIntegrity)
}

func TestCanReviewRequiresWaiting(t *testing.T) {
	db := openTestDB(t)
	dir := &fakeDirectory{
		groups:    map[string]bool{"10": true},
		reviewers: map[string][]string{"10": {"dba1"}},
	}
	engine := NewEngine(db, WithGroupDirectory(dir))
	ctx := context.Background()
	seedSettings(t, db, TypeSQLReview, 1, []string{"10"})

	rec, err := engine.CreateAudit(ctx, ReviewConfig{}, newTestPayload(1))
	require.NoError(t, err)
	_, err = engine.Operate(ctx, rec.AuditID, ActionPass, User{Username: "dba1"}, "")
	require.NoError(t, err)

	err = engine.CanReview(ctx, ReviewConfig{}, User{Username: "dba1"}, rec.AuditID)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestOperatePublishesEvent(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db, WithEventBus(NewEventBus(nil)))
	ctx := context.Background()
	seedSettings(t, db, TypeSQLReview, 1, []string{"10"})

	rec, err := engine.CreateAudit(ctx, ReviewConfig{}, newTestPayload(1))
	require.NoError(t, err)

	eventCh, cancel := engine.SubscribeAudit(rec.AuditID)
	require.NotNil(t, eventCh)
	defer cancel()

	_, err = engine.Operate(ctx, rec.AuditID, ActionPass, User{Username: "dba1"}, "可以上线")
	require.NoError(t, err)

	select {
	case evt := <-eventCh:
		require.Equal(t, ActionPass, evt.Action)
		require.Equal(t, StatusPassed, evt.Status)
		require.Equal(t, "dba1", evt.Operator)
	case <-time.After(time.Second):
		t.Fatal("未收到审批事件")
	}
}

func TestPendingForGroups(t *testing.T) {
	db := openTestDB(t)
	engine := NewEngine(db)
	ctx := context.Background()
	seedSettings(t, db, TypeSQLReview, 1, []string{"10", "20"})

	rec, err := engine.CreateAudit(ctx, ReviewConfig{}, newTestPayload(1))
	require.NoError(t, err)

	// 待办只属于当前审批组
	pending, err := engine.PendingForGroups(ctx, []string{"10"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	pending, err = engine.PendingForGroups(ctx, []string{"20"})
	require.NoError(t, err)
	require.Empty(t, pending)

	// 推进后待办转移到下一级
	_, err = engine.Operate(ctx, rec.AuditID, ActionPass, User{Username: "dba1"}, "")
	require.NoError(t, err)
	pending, err = engine.PendingForGroups(ctx, []string{"20"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

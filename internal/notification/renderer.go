package notification

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"dbaudit/internal/audit"
	"dbaudit/internal/resource"
	"dbaudit/internal/worker/tasks"

	"gorm.io/gorm"
)

// Renderer 把审批事件渲染成可发送的通知消息，并解析收件人
type Renderer struct {
	db      *gorm.DB
	engine  *audit.Engine
	baseURL string
}

// NewRenderer 创建消息渲染器
func NewRenderer(db *gorm.DB, engine *audit.Engine, baseURL string) *Renderer {
	return &Renderer{db: db, engine: engine, baseURL: baseURL}
}

// Render 渲染通知消息。
// 待审批事件发给当前审批组成员，终止与执行事件发给提交人。
func (r *Renderer) Render(ctx context.Context, p *tasks.NotifyAuditPayload) (*Message, error) {
	rec, err := r.engine.GetAudit(ctx, p.AuditID)
	if err != nil {
		return nil, err
	}

	wfType := audit.WorkflowType(p.WorkflowType)
	subject, body := r.renderText(p, rec, wfType)

	recipients, err := r.resolveRecipients(ctx, p, rec)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		Subject:    subject,
		Body:       body,
		Recipients: recipients,
	}
	if r.baseURL != "" {
		msg.DetailURL = fmt.Sprintf("%s/workflow/%s/%d", strings.TrimRight(r.baseURL, "/"), wfType.Label(), p.WorkflowID)
	}
	return msg, nil
}

func (r *Renderer) renderText(p *tasks.NotifyAuditPayload, rec *audit.WorkflowAudit, wfType audit.WorkflowType) (string, string) {
	var subject string
	switch audit.WorkflowAction(p.Action) {
	case audit.ActionSubmit:
		if p.AutoPassed {
			subject = fmt.Sprintf("[%s]新的工单已自动审核通过", wfType.String())
		} else {
			subject = fmt.Sprintf("[%s]新的工单申请提醒", wfType.String())
		}
	case audit.ActionPass:
		if audit.WorkflowStatus(p.Status) == audit.StatusPassed {
			subject = fmt.Sprintf("[%s]工单审核通过", wfType.String())
		} else {
			subject = fmt.Sprintf("[%s]工单进入下一级审批", wfType.String())
		}
	case audit.ActionReject:
		subject = fmt.Sprintf("[%s]工单被驳回", wfType.String())
	case audit.ActionAbort:
		subject = fmt.Sprintf("[%s]工单已取消", wfType.String())
	case audit.ActionExecuteEnd:
		subject = fmt.Sprintf("[%s]工单执行结束", wfType.String())
	default:
		subject = fmt.Sprintf("[%s]工单状态变更", wfType.String())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "工单标题：%s\n", p.Title)
	fmt.Fprintf(&b, "资源组：%s\n", p.GroupName)
	fmt.Fprintf(&b, "提交人：%s\n", rec.CreateUser)
	if p.Operator != "" && p.Operator != rec.CreateUser {
		fmt.Fprintf(&b, "操作人：%s\n", p.Operator)
	}
	fmt.Fprintf(&b, "当前状态：%s", audit.WorkflowStatus(p.Status).String())
	if p.Remark != "" {
		fmt.Fprintf(&b, "\n备注：%s", p.Remark)
	}
	return subject, b.String()
}

// resolveRecipients 事件仍在等待审批时发给当前审批组成员，否则发给提交人
func (r *Renderer) resolveRecipients(ctx context.Context, p *tasks.NotifyAuditPayload, rec *audit.WorkflowAudit) ([]string, error) {
	if rec.CurrentStatus == audit.StatusWaiting && rec.CurrentAudit != audit.NoAudit {
		return r.groupMemberEmails(ctx, rec.CurrentAudit)
	}
	return r.userEmails(ctx, []string{rec.CreateUser})
}

func (r *Renderer) groupMemberEmails(ctx context.Context, authGroupID string) ([]string, error) {
	id, err := strconv.ParseUint(authGroupID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("非法的审批组标识: %q", authGroupID)
	}
	var usernames []string
	err = r.db.WithContext(ctx).Model(&resource.UserAuthGroup{}).
		Where("auth_group_id = ?", id).
		Pluck("username", &usernames).Error
	if err != nil {
		return nil, fmt.Errorf("查询审批组成员失败: %w", err)
	}
	return r.userEmails(ctx, usernames)
}

func (r *Renderer) userEmails(ctx context.Context, usernames []string) ([]string, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	var emails []string
	err := r.db.WithContext(ctx).Model(&resource.Users{}).
		Where("username IN ? AND is_active = ? AND email <> ''", usernames, true).
		Pluck("email", &emails).Error
	if err != nil {
		return nil, fmt.Errorf("查询用户邮箱失败: %w", err)
	}
	return emails, nil
}

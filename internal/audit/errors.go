package audit

import "dbaudit/internal/common"

// 审批流错误按类别区分，调用方据此给出不同的用户提示：
// 重复提交、未配置审批流、非法状态流转、无审核权限、配置完整性错误。
var (
	// ErrDuplicateSubmission 工单已有未决审批流时再次提交
	ErrDuplicateSubmission = common.NewBusinessError(common.CodeDuplicateSubmission, "")

	// ErrNoAuditFlow （工单类型，资源组）未配置审批流程，禁止隐式通过
	ErrNoAuditFlow = common.NewBusinessError(common.CodeNoAuditFlow, "")

	// ErrIllegalTransition 当前状态不允许该动作，本地校验，不产生任何变更
	ErrIllegalTransition = common.NewBusinessError(common.CodeIllegalTransition, "")

	// ErrNotReviewer 操作人不具备当前审批组的审核资格
	ErrNotReviewer = common.NewBusinessError(common.CodeNotReviewer, "")

	// ErrGroupIntegrity 当前审批组指向不存在的权限组，属于管理性故障
	ErrGroupIntegrity = common.NewBusinessError(common.CodeGroupIntegrity, "")

	// ErrAuditNotFound 审核记录不存在
	ErrAuditNotFound = common.NewBusinessError(common.CodeAuditNotFound, "")
)

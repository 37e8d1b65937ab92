package resource

import (
	"dbaudit/internal/common"

	"gorm.io/datatypes"
)

// ResourceGroup 资源组：实例与用户的组织单元，
// 可见性与审批流配置都以它为维度。
type ResourceGroup struct {
	GroupID    uint   `json:"groupId" gorm:"primaryKey;autoIncrement;column:group_id"`
	GroupName  string `json:"groupName" gorm:"size:100;not null;uniqueIndex"`
	IsDeleted  bool   `json:"isDeleted" gorm:"not null;default:false;index"`
	common.TimestampModel
}

func (ResourceGroup) TableName() string {
	return "resource_group"
}

// AuthGroup 权限组：审批链上"谁来审"的单位
type AuthGroup struct {
	AuthGroupID uint                        `json:"authGroupId" gorm:"primaryKey;autoIncrement;column:auth_group_id"`
	GroupName   string                      `json:"groupName" gorm:"size:100;not null;uniqueIndex"`
	Permissions datatypes.JSONSlice[string] `json:"permissions" gorm:"type:json"` // 如 sql_review、query_review、archive_review
	common.TimestampModel
}

func (AuthGroup) TableName() string {
	return "auth_group"
}

// Users 平台用户
type Users struct {
	ID          uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	Username    string `json:"username" gorm:"size:100;not null;uniqueIndex"`
	DisplayName string `json:"displayName" gorm:"size:100"`
	Password    string `json:"-" gorm:"size:200;not null"` // bcrypt 哈希
	Email       string `json:"email" gorm:"size:200"`
	IsSuperuser bool   `json:"isSuperuser" gorm:"not null;default:false"`
	IsActive    bool   `json:"isActive" gorm:"not null;default:true"`
	common.TimestampModel
}

func (Users) TableName() string {
	return "users"
}

// UserResourceGroup 用户与资源组的关联
type UserResourceGroup struct {
	ID       uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	Username string `json:"username" gorm:"size:100;not null;uniqueIndex:uniq_user_group"`
	GroupID  uint   `json:"groupId" gorm:"not null;uniqueIndex:uniq_user_group"`
}

func (UserResourceGroup) TableName() string {
	return "user_resource_group"
}

// UserAuthGroup 用户与权限组的关联
type UserAuthGroup struct {
	ID          uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	Username    string `json:"username" gorm:"size:100;not null;uniqueIndex:uniq_user_auth_group"`
	AuthGroupID uint   `json:"authGroupId" gorm:"not null;uniqueIndex:uniq_user_auth_group"`
}

func (UserAuthGroup) TableName() string {
	return "user_auth_group"
}

// Instance 被管数据库实例
type Instance struct {
	InstanceID   uint   `json:"instanceId" gorm:"primaryKey;autoIncrement;column:instance_id"`
	InstanceName string `json:"instanceName" gorm:"size:100;not null;uniqueIndex"`
	GroupID      uint   `json:"groupId" gorm:"not null;index"`
	Type         string `json:"type" gorm:"size:16;not null"`    // master, slave
	DBType       string `json:"dbType" gorm:"size:32;not null"`  // mysql, redis, mongo ...
	Host         string `json:"host" gorm:"size:200;not null"`
	Port         int    `json:"port" gorm:"not null"`
	User         string `json:"user" gorm:"size:100"`
	Password     string `json:"password" gorm:"size:300"`
	common.TimestampModel
}

func (Instance) TableName() string {
	return "instance"
}

// InstanceTag 实例标签，自动审核等策略据此筛选实例
type InstanceTag struct {
	ID         uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	InstanceID uint   `json:"instanceId" gorm:"not null;uniqueIndex:uniq_instance_tag"`
	TagName    string `json:"tagName" gorm:"size:100;not null;uniqueIndex:uniq_instance_tag"`
}

func (InstanceTag) TableName() string {
	return "instance_tag"
}

// InstanceFilter 实例可见性过滤条件
type InstanceFilter struct {
	Type   string   // master / slave，空表示不限
	DBType string   // mysql 等，空表示不限
	Tags   []string // 必须同时携带的标签
}

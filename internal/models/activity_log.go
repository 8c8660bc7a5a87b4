package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusSuccess = "success"
	StatusWarning = "warning"
	StatusFailure = "failure"
	StatusBlocked = "blocked"
)

const (
	ActionVisitorNew     = "visitor.new"
	ActionVisitorView    = "visitor.view"
	ActionVisitorBlocked = "visitor.blocked"
	ActionSecurityAlert  = "security.alert"
	ActionLimitExceeded  = "usage.limit_exceeded"
)

type ActivityLog struct {
	ID        uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID uint              `gorm:"not null;index:idx_activity_project_created,priority:1" json:"project_id"`
	ActorID   *uint             `gorm:"index" json:"actor_id,omitempty"`
	Action    string            `gorm:"type:varchar(64);not null;index" json:"action"`
	Detail    string            `gorm:"type:text" json:"detail"`
	Status    string            `gorm:"type:varchar(16);not null;index" json:"status"`
	IP        string            `gorm:"type:varchar(45)" json:"ip"`
	Metadata  datatypes.JSONMap `json:"metadata"`
	CreatedAt time.Time         `gorm:"not null;index:idx_activity_project_created,priority:2" json:"created_at"`

	Project *Project `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (ActivityLog) TableName() string {
	return "activity_logs"
}

func ValidStatus(status string) bool {
	switch status {
	case StatusSuccess, StatusWarning, StatusFailure, StatusBlocked:
		return true
	}
	return false
}

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Project struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID        uint      `gorm:"not null;index" json:"owner_id"`
	Name           string    `gorm:"type:varchar(255);not null" json:"name"`
	TrackingID     string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"tracking_id"`
	Plan           string    `gorm:"type:varchar(32);not null;default:free" json:"plan"`
	AllowedOrigins string    `gorm:"type:text" json:"allowed_origins"`
	IsActive       bool      `gorm:"not null;default:true" json:"is_active"`
	ShareToken     string    `gorm:"type:varchar(64);index" json:"share_token,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Counter *UsageCounter `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"-"`
}

// NewProject issues a fresh tracking identifier. The identifier is never
// regenerated afterwards.
func NewProject(ownerID uint, name, plan string) *Project {
	return &Project{
		OwnerID:    ownerID,
		Name:       name,
		TrackingID: strings.ReplaceAll(uuid.NewString(), "-", ""),
		Plan:       plan,
		IsActive:   true,
		ShareToken: uuid.NewString(),
		Counter:    &UsageCounter{},
	}
}

// AllowedOriginList splits the comma separated allow-list, dropping blanks.
func (p *Project) AllowedOriginList() []string {
	var out []string
	for _, entry := range strings.Split(p.AllowedOrigins, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

type UsageCounter struct {
	ProjectID uint      `gorm:"primaryKey;autoIncrement:false" json:"project_id"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

type UsageRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID uint      `gorm:"not null;uniqueIndex:idx_usage_project_month" json:"project_id"`
	Month     string    `gorm:"type:varchar(7);not null;uniqueIndex:idx_usage_project_month" json:"month"`
	Views     int64     `gorm:"not null;default:0" json:"views"`
	UpdatedAt time.Time `json:"updated_at"`

	Project *Project `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

type Visitor struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID uint      `gorm:"not null;uniqueIndex:idx_visitors_project_session" json:"project_id"`
	SessionID string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_visitors_project_session" json:"session_id"`
	IP        string    `gorm:"type:varchar(45)" json:"ip"`
	Country   string    `gorm:"type:varchar(64)" json:"country"`
	City      string    `gorm:"type:varchar(128)" json:"city"`
	Device    string    `gorm:"type:varchar(16)" json:"device"`
	Browser   string    `gorm:"type:varchar(64)" json:"browser"`
	OS        string    `gorm:"column:os;type:varchar(64)" json:"os"`
	LastPage  string    `gorm:"type:text" json:"last_page"`
	Referrer  string    `gorm:"type:text" json:"referrer"`
	LastSeen  time.Time `gorm:"index;not null" json:"last_seen"`
	IsActive  bool      `gorm:"not null;default:true;index" json:"is_active"`
	Visits    int64     `gorm:"not null;default:1" json:"visits"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Project *Project `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// IsNew reports whether the row was inserted by the visit that loaded it.
func (v *Visitor) IsNew() bool {
	return v.Visits == 1
}

type PageViewEvent struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID uint      `gorm:"not null;index" json:"project_id"`
	VisitorID uint      `gorm:"not null;index" json:"visitor_id"`
	SessionID string    `gorm:"type:varchar(128);not null" json:"session_id"`
	PageURL   string    `gorm:"type:text;not null" json:"page_url"`
	Title     string    `gorm:"type:text" json:"title"`
	Referrer  string    `gorm:"type:text" json:"referrer"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`

	Project *Project `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Visitor *Visitor `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

type Notification struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	ProjectID uint      `gorm:"index" json:"project_id"`
	Kind      string    `gorm:"type:varchar(32);not null" json:"kind"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	Message   string    `gorm:"type:text" json:"message"`
	IsRead    bool      `gorm:"not null;default:false" json:"is_read"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

const (
	NotificationSecurityAlert = "security_alert"
	NotificationUsageWarning  = "usage_warning"
	NotificationLimitReached  = "limit_reached"
	NotificationStorageFull   = "storage_full"
)

func (Project) TableName() string {
	return "projects"
}

func (UsageCounter) TableName() string {
	return "usage_counters"
}

func (UsageRecord) TableName() string {
	return "usage_records"
}

func (Visitor) TableName() string {
	return "visitors"
}

func (PageViewEvent) TableName() string {
	return "page_view_events"
}

func (Notification) TableName() string {
	return "notifications"
}

// All lists every model in migration order.
func All() []interface{} {
	return []interface{}{
		&Project{},
		&UsageCounter{},
		&UsageRecord{},
		&Visitor{},
		&PageViewEvent{},
		&ActivityLog{},
		&Notification{},
	}
}

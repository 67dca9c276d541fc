package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the closed set of task states.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
)

// Valid reports whether s is one of the three permitted statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Attributes is an open-ended key/value bag attached to a lead. There is
// no fixed schema; values round-trip through a JSON column.
type Attributes map[string]any

// Value implements driver.Valuer, serializing the map to JSON.
func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		a = Attributes{}
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner, deserializing a JSON column value.
func (a *Attributes) Scan(src any) error {
	if src == nil {
		*a = Attributes{}
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported attributes column type %T", src)
	}

	if len(data) == 0 {
		*a = Attributes{}
		return nil
	}
	return json.Unmarshal(data, a)
}

// User is an authenticated account, keyed by the identity provider's
// subject id. Users are created lazily on first authenticated request.
type User struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey" json:"id"`
	Subject   string    `gorm:"uniqueIndex;not null" json:"-"`
	Email     string    `gorm:"not null" json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Leads []Lead `gorm:"foreignKey:UserID" json:"-"`
}

// Lead is a tracked contact or entity owned by one user. Lead names are
// intentionally not unique: duplicate avoidance is a prompt-level policy,
// not a storage constraint.
type Lead struct {
	ID         uuid.UUID  `gorm:"type:text;primaryKey" json:"id"`
	UserID     uuid.UUID  `gorm:"type:text;index;not null" json:"userId"`
	Name       string     `gorm:"not null" json:"name"`
	Attributes Attributes `gorm:"type:text" json:"attributes"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`

	Tasks []Task `gorm:"foreignKey:LeadID" json:"tasks,omitempty"`
	Notes []Note `gorm:"foreignKey:LeadID" json:"notes,omitempty"`
}

// Task is a deadline-bound action item attached to a lead.
// CompletedAt is non-nil exactly when Status is completed.
type Task struct {
	ID          uuid.UUID  `gorm:"type:text;primaryKey" json:"id"`
	LeadID      uuid.UUID  `gorm:"type:text;index;not null" json:"leadId"`
	Title       string     `gorm:"not null" json:"title"`
	Deadline    time.Time  `gorm:"not null" json:"deadline"`
	Status      TaskStatus `gorm:"not null;default:pending" json:"status"`
	CompletedAt *time.Time `json:"completedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	Lead *Lead `gorm:"foreignKey:LeadID" json:"lead,omitempty"`
}

// Note is a free-text annotation attached to a lead. The creation
// timestamp is immutable; only the content can change.
type Note struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey" json:"id"`
	LeadID    uuid.UUID `gorm:"type:text;index;not null" json:"leadId"`
	Content   string    `gorm:"not null" json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Lead *Lead `gorm:"foreignKey:LeadID" json:"lead,omitempty"`
}

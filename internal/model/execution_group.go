package model

import "time"

type GroupMode string

const (
	GroupModeParallel   GroupMode = "parallel"
	GroupModeSync       GroupMode = "sync"
	GroupModeStaggered  GroupMode = "staggered"
)

// AllocationPolicy is the per-mapping lot-split rule consumed by the Allocation Planner.
type AllocationPolicy string

const (
	PolicyProportional AllocationPolicy = "proportional"
	PolicyFixed        AllocationPolicy = "fixed"
	PolicyWeighted     AllocationPolicy = "weighted"
)

// ExecutionGroup names a fan-out target: a set of accounts dispatched
// together under one allocation policy and one dispatch mode.
type ExecutionGroup struct {
	ID          ID        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      ID        `gorm:"type:uuid;index;not null" json:"user_id"`
	Name        string    `gorm:"size:120;not null" json:"name"`
	Description string    `gorm:"size:500" json:"description"`
	Mode        GroupMode `gorm:"size:20;not null;default:parallel" json:"mode"`

	Accounts []GroupAccountMapping `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"accounts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ExecutionGroup) TableName() string { return "execution_groups" }

// GroupAccountMapping binds one Account into an ExecutionGroup under a policy.
// Invariants: policy=weighted ⇒ weight>0; policy=fixed ⇒ fixed_lots>0;
// an Account appears at most once per Group (enforced by the unique index).
type GroupAccountMapping struct {
	ID        ID               `gorm:"type:uuid;primaryKey" json:"id"`
	GroupID   ID               `gorm:"type:uuid;index:idx_group_account,unique;not null" json:"group_id"`
	AccountID ID               `gorm:"type:uuid;index:idx_group_account,unique;not null" json:"account_id"`
	Policy    AllocationPolicy `gorm:"size:20;not null" json:"policy"`
	Weight    *float64         `json:"weight,omitempty"`
	FixedLots *int             `json:"fixed_lots,omitempty"`

	// SortOrder gives mapping order a stable, explicit tiebreak independent
	// of insertion order once rows are re-fetched from storage.
	SortOrder int `json:"sort_order"`

	Account Account `gorm:"foreignKey:AccountID" json:"account,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (GroupAccountMapping) TableName() string { return "group_account_mappings" }

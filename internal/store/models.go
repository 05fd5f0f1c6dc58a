// Package store persists workflow state with GORM.
//
// Two durability layers back each workflow: the relational columns,
// which are authoritative for control-flow fields (status, stage,
// counters), and a JSON snapshot column holding the full record, which
// is authoritative for artifact bodies. Load reads the snapshot and
// then overlays the relational control fields, so a torn crash between
// the two can never resurrect an earlier stage.
package store

import (
	"time"

	"gorm.io/gorm"
)

type workflowRow struct {
	ID     string `gorm:"primaryKey;size:36"`
	Topic  string `gorm:"size:2000"`
	Status string `gorm:"size:20;index"`
	Stage  string `gorm:"size:30"`

	EscalatedFrom      string `gorm:"size:30"`
	ResearchIterations int
	RevisionIterations int
	Version            int
	Error              string `gorm:"type:text"`

	// Snapshot is the full WorkflowRecord as JSON, artifacts included.
	Snapshot string `gorm:"type:text"`

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

func (workflowRow) TableName() string { return "workflows" }

type researchNoteRow struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	WorkflowID string `gorm:"size:36;index"`
	Pass       int
	Content    string `gorm:"type:text"`
	CreatedAt  time.Time
}

func (researchNoteRow) TableName() string { return "research_notes" }

type iterationRow struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	WorkflowID string `gorm:"size:36;index"`
	Loop       string `gorm:"size:12"`
	Number     int
	Sufficient bool
	Feedback   string `gorm:"type:text"`
	CreatedAt  time.Time
}

func (iterationRow) TableName() string { return "iterations" }

type approvalRow struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	WorkflowID      string `gorm:"size:36;index"`
	Seq             int
	Type            string `gorm:"size:20"`
	Decision        string `gorm:"size:20"`
	Approved        bool
	Stage           string `gorm:"size:30"`
	ContentSnapshot string `gorm:"type:text"`
	Notes           string `gorm:"type:text"`
	Timestamp       time.Time
}

func (approvalRow) TableName() string { return "approvals" }

type searchRow struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	WorkflowID  string `gorm:"size:36;index"`
	Tool        string `gorm:"size:40"`
	Query       string `gorm:"size:2000"`
	ResultCount int
	Succeeded   bool
	CreatedAt   time.Time
}

func (searchRow) TableName() string { return "search_history" }

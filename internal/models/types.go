package models

import (
	"time"

	"gorm.io/datatypes"
)

// Job state constants
const (
	JobStatePending     = "pending"
	JobStateTranslating = "translating"
	JobStateOutdated    = "outdated"
	JobStateDone        = "done"
	JobStateError       = "error"
	JobStateSkipped     = "skipped"
)

// TerminalJobStates are the states eligible for retention cleanup.
var TerminalJobStates = []string{JobStateDone, JobStateSkipped}

// ClaimableJobStates are the states the processor claims work from.
var ClaimableJobStates = []string{JobStatePending, JobStateOutdated}

// SystemSetting corresponds to the system_settings table.
type SystemSetting struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SettingKey   string    `gorm:"type:varchar(255);not null;unique" json:"setting_key"`
	SettingValue string    `gorm:"type:text;not null" json:"setting_value"`
	Description  string    `gorm:"type:varchar(512)" json:"description"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TranslationJob corresponds to the translation_jobs table. One row exists
// per (object_type, object_id, field) tuple; enqueue mutates the existing row
// instead of inserting a duplicate.
type TranslationJob struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ObjectType  string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_jobs_object_field,priority:1" json:"object_type"`
	ObjectID    int64     `gorm:"not null;uniqueIndex:idx_jobs_object_field,priority:2" json:"object_id"`
	Field       string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_jobs_object_field,priority:3" json:"field"`
	ContentHash string    `gorm:"type:varchar(64);not null" json:"content_hash"`
	State       string    `gorm:"type:varchar(20);not null;default:'pending';index:idx_jobs_state_created,priority:1" json:"state"`
	Retries     int       `gorm:"not null;default:0" json:"retries"`
	LastError   string    `gorm:"type:text" json:"last_error"`
	CreatedAt   time.Time `gorm:"index:idx_jobs_state_created,priority:2" json:"created_at"`
	UpdatedAt   time.Time `gorm:"index" json:"updated_at"`
}

// TMSegment corresponds to the tm_segments table: the durable translation
// memory. Rows are never deleted automatically; use_count accumulates across
// identical inputs. Uniqueness on (source text, language pair) is enforced via
// the normalized source hash, since text columns cannot carry a portable
// unique index across the supported dialects.
type TMSegment struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SourceHash   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_tm_source,priority:1" json:"source_hash"`
	SourceLang   string    `gorm:"type:varchar(16);not null;uniqueIndex:idx_tm_source,priority:2;index:idx_tm_lang_length,priority:1" json:"source_lang"`
	TargetLang   string    `gorm:"type:varchar(16);not null;uniqueIndex:idx_tm_source,priority:3;index:idx_tm_lang_length,priority:2" json:"target_lang"`
	SourceText   string    `gorm:"type:text;not null" json:"source_text"`
	SourceLength int       `gorm:"not null;index:idx_tm_lang_length,priority:3" json:"source_length"`
	TargetText   string    `gorm:"type:text;not null" json:"target_text"`
	Provider     string    `gorm:"type:varchar(64);not null" json:"provider"`
	Context      string    `gorm:"type:varchar(255)" json:"context"`
	UseCount     int64     `gorm:"not null;default:1" json:"use_count"`
	QualityScore *int      `json:"quality_score"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ContentField corresponds to the content_fields table: the default
// content-repository backend holding translatable field values.
type ContentField struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ObjectType string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_content_object_field,priority:1" json:"object_type"`
	ObjectID   int64     `gorm:"not null;uniqueIndex:idx_content_object_field,priority:2" json:"object_id"`
	Field      string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_content_object_field,priority:3" json:"field"`
	Value      string    `gorm:"type:text" json:"value"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TranslationRun corresponds to the translation_runs table: one row per
// processing cycle, for the status surface and operator audit.
type TranslationRun struct {
	ID         string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	StartedAt  time.Time         `gorm:"not null;index" json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at"`
	DurationMs int64             `gorm:"not null;default:0" json:"duration_ms"`
	Stats      datatypes.JSONMap `gorm:"type:json" json:"stats"`
	Error      string            `gorm:"type:text" json:"error"`
}

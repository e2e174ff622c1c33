// Package repository provides access to the translatable content and the
// sync pass that keeps the job queue aligned with it.
package repository

import (
	"fmt"
	"strings"

	"lingo-sync/internal/models"
	"lingo-sync/internal/queue"
	"lingo-sync/internal/textnorm"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContentRepository abstracts the source of translatable content so the
// pipeline does not depend on where fields actually live.
type ContentRepository interface {
	// GetField returns the current source value of one field.
	GetField(objectType string, objectID int64, field string) (string, error)
	// ListFields streams every translatable field in batches.
	ListFields(batchSize int, fn func([]models.ContentField) error) error
	// UpsertField stores a field value, creating the row when missing.
	UpsertField(objectType string, objectID int64, field, value string) error
	// UpsertTranslation stores the translated value of a field for a target
	// language.
	UpsertTranslation(objectType string, objectID int64, field, targetLang, value string) error
}

// ErrFieldNotFound is returned when a job references content that no longer
// exists.
var ErrFieldNotFound = fmt.Errorf("content field not found")

// GormContentRepository is the default ContentRepository over the
// content_fields table.
type GormContentRepository struct {
	db *gorm.DB
}

// NewGormContentRepository creates the database-backed content repository.
func NewGormContentRepository(db *gorm.DB) *GormContentRepository {
	return &GormContentRepository{db: db}
}

// GetField returns the stored value of one field.
func (r *GormContentRepository) GetField(objectType string, objectID int64, field string) (string, error) {
	var row models.ContentField
	err := r.db.Where("object_type = ? AND object_id = ? AND field = ?",
		objectType, objectID, field).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", ErrFieldNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load content field: %w", err)
	}
	return row.Value, nil
}

// ListFields iterates all content fields in primary key order, invoking fn
// per batch. Iteration stops on the first error from fn.
func (r *GormContentRepository) ListFields(batchSize int, fn func([]models.ContentField) error) error {
	if batchSize < 1 {
		batchSize = 100
	}
	var batch []models.ContentField
	result := r.db.Model(&models.ContentField{}).
		Order("id ASC").
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			return fn(batch)
		})
	if result.Error != nil {
		return fmt.Errorf("failed to list content fields: %w", result.Error)
	}
	return nil
}

// UpsertField writes a field value, inserting or updating as needed.
func (r *GormContentRepository) UpsertField(objectType string, objectID int64, field, value string) error {
	row := models.ContentField{
		ObjectType: objectType,
		ObjectID:   objectID,
		Field:      field,
		Value:      value,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "object_type"}, {Name: "object_id"}, {Name: "field"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
}

// UpsertTranslation stores a translated value under the language-qualified
// field name, e.g. "title@es" for the Spanish title.
func (r *GormContentRepository) UpsertTranslation(objectType string, objectID int64, field, targetLang, value string) error {
	return r.UpsertField(objectType, objectID, field+"@"+targetLang, value)
}

// isTranslatedField filters language-qualified fields out of sync scans so
// translated values are never re-enqueued as sources.
func isTranslatedField(field string) bool {
	return strings.Contains(field, "@")
}

// SyncResult summarizes one resync pass.
type SyncResult struct {
	Scanned  int64 `json:"scanned"`
	Enqueued int64 `json:"enqueued"`
}

// SyncService walks the content repository and enqueues a job for every
// field that is new or whose content changed since its last translation.
type SyncService struct {
	repo  ContentRepository
	queue *queue.JobQueue
}

// NewSyncService creates a sync service.
func NewSyncService(repo ContentRepository, jobQueue *queue.JobQueue) *SyncService {
	return &SyncService{repo: repo, queue: jobQueue}
}

// Resync scans every content field and enqueues jobs for changed content.
// Unchanged fields are left alone, so repeated runs are idempotent.
func (s *SyncService) Resync() (*SyncResult, error) {
	result := &SyncResult{}

	err := s.repo.ListFields(200, func(fields []models.ContentField) error {
		for _, field := range fields {
			if isTranslatedField(field.Field) {
				continue
			}
			result.Scanned++
			if textnorm.Normalize(field.Value) == "" {
				continue
			}
			hash := textnorm.ContentHash(field.Value)
			changed, err := s.queue.Enqueue(field.ObjectType, field.ObjectID, field.Field, hash)
			if err != nil {
				return err
			}
			if changed {
				result.Enqueued++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resync failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"scanned":  result.Scanned,
		"enqueued": result.Enqueued,
	}).Info("Content resync finished")
	return result, nil
}

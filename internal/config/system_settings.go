package config

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"lingo-sync/internal/models"
	"lingo-sync/internal/types"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// settingMeta describes one field of types.SystemSettings derived from its
// struct tags.
type settingMeta struct {
	key         string
	defaultVal  string
	description string
	kind        reflect.Kind
	required    bool
	min         *float64
	max         *float64
	fieldIndex  int
}

// SystemSettingsManager manages the pipeline settings persisted in the
// system_settings table. The in-memory copy is the source of truth for
// readers; writes go through UpdateSettings and are visible immediately.
type SystemSettingsManager struct {
	mu       sync.RWMutex
	db       *gorm.DB
	settings types.SystemSettings
	loaded   bool
}

// NewSystemSettingsManager creates an uninitialized settings manager.
// GetSettings returns defaults until Initialize has run.
func NewSystemSettingsManager() *SystemSettingsManager {
	return &SystemSettingsManager{}
}

// Initialize binds the manager to the database, seeds missing rows from the
// default tags, and loads the effective settings.
func (sm *SystemSettingsManager) Initialize(db *gorm.DB) error {
	sm.mu.Lock()
	sm.db = db
	sm.mu.Unlock()

	if err := sm.EnsureSettingsInDB(); err != nil {
		return fmt.Errorf("failed to seed system settings: %w", err)
	}
	return sm.ReloadSettings()
}

// GetSettings returns the current settings snapshot. Before initialization it
// returns the compiled-in defaults so callers never see zero values.
func (sm *SystemSettingsManager) GetSettings() types.SystemSettings {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if !sm.loaded {
		return DefaultSystemSettings()
	}
	return sm.settings
}

// EnsureSettingsInDB inserts a row for every known setting key that does not
// exist yet. Existing rows are left untouched so operator edits survive
// upgrades; descriptions are refreshed in place.
func (sm *SystemSettingsManager) EnsureSettingsInDB() error {
	defaults := DefaultSystemSettings()
	value := reflect.ValueOf(defaults)

	var rows []models.SystemSetting
	for _, meta := range settingsMetadata() {
		field := value.Field(meta.fieldIndex)
		rows = append(rows, models.SystemSetting{
			SettingKey:   meta.key,
			SettingValue: formatSettingValue(field),
			Description:  meta.description,
		})
	}

	return sm.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"description"}),
	}).Create(&rows).Error
}

// ReloadSettings re-reads every row from the database into the snapshot.
func (sm *SystemSettingsManager) ReloadSettings() error {
	var rows []models.SystemSetting
	if err := sm.db.Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to load system settings: %w", err)
	}

	byKey := make(map[string]string, len(rows))
	for _, row := range rows {
		byKey[row.SettingKey] = row.SettingValue
	}

	settings := DefaultSystemSettings()
	target := reflect.ValueOf(&settings).Elem()
	for _, meta := range settingsMetadata() {
		raw, ok := byKey[meta.key]
		if !ok {
			continue
		}
		if err := assignSettingValue(target.Field(meta.fieldIndex), raw); err != nil {
			logrus.WithFields(logrus.Fields{"key": meta.key, "value": raw}).
				Warn("Invalid stored setting value, keeping default")
		}
	}

	sm.mu.Lock()
	sm.settings = settings
	sm.loaded = true
	sm.mu.Unlock()
	return nil
}

// ValidateSettings checks a partial settings update, keyed by setting name.
// Numeric JSON values arrive as float64.
func (sm *SystemSettingsManager) ValidateSettings(updates map[string]any) error {
	metas := settingsMetadata()
	byKey := make(map[string]settingMeta, len(metas))
	for _, meta := range metas {
		byKey[meta.key] = meta
	}

	for key, val := range updates {
		meta, ok := byKey[key]
		if !ok {
			return fmt.Errorf("invalid setting key: %s", key)
		}
		if val == nil {
			continue
		}
		if err := validateSettingValue(meta, val); err != nil {
			return err
		}
	}
	return nil
}

// UpdateSettings validates and persists a partial update, then reloads the
// snapshot so the new values take effect immediately.
func (sm *SystemSettingsManager) UpdateSettings(updates map[string]any) error {
	if err := sm.ValidateSettings(updates); err != nil {
		return err
	}

	err := sm.db.Transaction(func(tx *gorm.DB) error {
		for key, val := range updates {
			if val == nil {
				continue
			}
			result := tx.Model(&models.SystemSetting{}).
				Where("setting_key = ?", key).
				Update("setting_value", fmt.Sprintf("%v", val))
			if result.Error != nil {
				return result.Error
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update system settings: %w", err)
	}

	return sm.ReloadSettings()
}

// DisplaySystemConfig logs the effective pipeline settings at startup.
func (sm *SystemSettingsManager) DisplaySystemConfig(settings types.SystemSettings) {
	logrus.Info("Pipeline configuration:")
	logrus.Infof("  Languages: %s -> %s", settings.SourceLang, settings.TargetLang)
	logrus.Infof("  Batch size: %d, max retries: %d", settings.BatchSize, settings.MaxRetries)
	logrus.Infof("  Process interval: %ds, lock TTL: %dm", settings.ProcessIntervalSeconds, settings.LockTTLMinutes)
	logrus.Infof("  Provider: %s (%s) model=%s", settings.ProviderName, settings.ProviderBaseURL, settings.ProviderModel)
	logrus.Infof("  Cache TTL: %dm, fuzzy threshold: %.2f, auto-apply: %.2f",
		settings.CacheTTLMinutes, settings.FuzzyThreshold, settings.FuzzyAutoApply)
}

// DefaultSystemSettings builds a settings struct from the default tags.
func DefaultSystemSettings() types.SystemSettings {
	var settings types.SystemSettings
	target := reflect.ValueOf(&settings).Elem()
	for _, meta := range settingsMetadata() {
		if meta.defaultVal == "" {
			continue
		}
		if err := assignSettingValue(target.Field(meta.fieldIndex), meta.defaultVal); err != nil {
			panic(fmt.Sprintf("invalid default for setting %s: %v", meta.key, err))
		}
	}
	return settings
}

func settingsMetadata() []settingMeta {
	t := reflect.TypeOf(types.SystemSettings{})
	metas := make([]settingMeta, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := strings.Split(field.Tag.Get("json"), ",")[0]
		if key == "" || key == "-" {
			continue
		}
		meta := settingMeta{
			key:         key,
			defaultVal:  field.Tag.Get("default"),
			description: field.Tag.Get("desc"),
			kind:        field.Type.Kind(),
			fieldIndex:  i,
		}
		for _, rule := range strings.Split(field.Tag.Get("validate"), ",") {
			switch {
			case rule == "required":
				meta.required = true
			case strings.HasPrefix(rule, "min="):
				if v, err := strconv.ParseFloat(rule[4:], 64); err == nil {
					meta.min = &v
				}
			case strings.HasPrefix(rule, "max="):
				if v, err := strconv.ParseFloat(rule[4:], 64); err == nil {
					meta.max = &v
				}
			}
		}
		metas = append(metas, meta)
	}
	return metas
}

func validateSettingValue(meta settingMeta, val any) error {
	switch meta.kind {
	case reflect.Int:
		num, ok := val.(float64)
		if !ok {
			return fmt.Errorf("setting %s: expected a number", meta.key)
		}
		if num != math.Trunc(num) {
			return fmt.Errorf("setting %s: must be an integer", meta.key)
		}
		return checkRange(meta, num)
	case reflect.Float64:
		num, ok := val.(float64)
		if !ok {
			return fmt.Errorf("setting %s: expected a number", meta.key)
		}
		return checkRange(meta, num)
	case reflect.String:
		str, ok := val.(string)
		if !ok {
			return fmt.Errorf("setting %s: expected a string", meta.key)
		}
		if meta.required && str == "" {
			return fmt.Errorf("setting %s: is required", meta.key)
		}
	case reflect.Bool:
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("setting %s: expected a boolean", meta.key)
		}
	}
	return nil
}

func checkRange(meta settingMeta, num float64) error {
	if meta.min != nil && num < *meta.min {
		return fmt.Errorf("setting %s: value %v is below minimum value %v", meta.key, num, *meta.min)
	}
	if meta.max != nil && num > *meta.max {
		return fmt.Errorf("setting %s: value %v is above maximum value %v", meta.key, num, *meta.max)
	}
	return nil
}

func assignSettingValue(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.Int:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(v))
	case reflect.Float64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(v)
	case reflect.Bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(v)
	case reflect.String:
		field.SetString(raw)
	default:
		return fmt.Errorf("unsupported setting kind %s", field.Kind())
	}
	return nil
}

func formatSettingValue(field reflect.Value) string {
	switch field.Kind() {
	case reflect.Float64:
		return strconv.FormatFloat(field.Float(), 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", field.Interface())
	}
}

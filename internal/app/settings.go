package app

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/talkincode/lanprobe/internal/domain"
)

// DefaultSettingsCacheTTL bounds how stale a cached sys_config value may be.
const DefaultSettingsCacheTTL = 30 * time.Second

type settingsEntry struct {
	value    string
	loadedAt time.Time
}

// ConfigManager serves runtime-tunable settings out of the sys_config
// table with a small read-through cache.
type ConfigManager struct {
	db    *gorm.DB
	ttl   time.Duration
	mu    sync.RWMutex
	cache map[string]settingsEntry
}

func NewConfigManager(db *gorm.DB, ttl time.Duration) *ConfigManager {
	if ttl <= 0 {
		ttl = DefaultSettingsCacheTTL
	}
	return &ConfigManager{
		db:    db,
		ttl:   ttl,
		cache: make(map[string]settingsEntry),
	}
}

func (m *ConfigManager) GetString(category, name string) string {
	key := category + "." + name

	m.mu.RLock()
	entry, ok := m.cache[key]
	m.mu.RUnlock()
	if ok && time.Since(entry.loadedAt) < m.ttl {
		return entry.value
	}

	var row domain.SysConfig
	if err := m.db.Where("type = ? AND name = ?", category, name).First(&row).Error; err != nil {
		return ""
	}

	m.mu.Lock()
	m.cache[key] = settingsEntry{value: row.Value, loadedAt: time.Now()}
	m.mu.Unlock()
	return row.Value
}

func (m *ConfigManager) GetInt(category, name string) int {
	return cast.ToInt(m.GetString(category, name))
}

func (m *ConfigManager) GetInt64(category, name string) int64 {
	return cast.ToInt64(m.GetString(category, name))
}

func (m *ConfigManager) GetBool(category, name string) bool {
	return cast.ToBool(m.GetString(category, name))
}

// Set upserts one setting and refreshes the cache.
func (m *ConfigManager) Set(category, name, value string) error {
	var count int64
	m.db.Model(&domain.SysConfig{}).Where("type = ? AND name = ?", category, name).Count(&count)

	var err error
	if count == 0 {
		err = m.db.Create(&domain.SysConfig{Type: category, Name: name, Value: value}).Error
	} else {
		err = m.db.Model(&domain.SysConfig{}).
			Where("type = ? AND name = ?", category, name).
			Update("value", value).Error
	}
	if err != nil {
		zap.L().Error("failed to save setting",
			zap.String("category", category),
			zap.String("name", name),
			zap.Error(err))
		return err
	}

	m.mu.Lock()
	m.cache[category+"."+name] = settingsEntry{value: value, loadedAt: time.Now()}
	m.mu.Unlock()
	return nil
}

// splitSettingKey splits "category.name" keys used by the settings API.
func splitSettingKey(key string) (category, name string, ok bool) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func toSettingString(val interface{}) string {
	return cast.ToString(val)
}

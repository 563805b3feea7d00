package app

import (
	"sync"
	"time"

	"github.com/spf13/cast"
	"gorm.io/gorm"

	"github.com/micha-dev87/shopify-logistics-app/internal/domain"
)

const settingsCacheTTL = 30 * time.Second

type settingsEntry struct {
	value    string
	loadedAt time.Time
}

// SettingsCache reads sys_config rows with a short in-memory cache so hot
// paths do not hit the database per lookup.
type SettingsCache struct {
	db *gorm.DB

	mu    sync.RWMutex
	cache map[string]settingsEntry
}

func NewSettingsCache(db *gorm.DB) *SettingsCache {
	return &SettingsCache{db: db, cache: make(map[string]settingsEntry)}
}

func (s *SettingsCache) GetString(category, key string) string {
	ck := category + "." + key
	s.mu.RLock()
	entry, ok := s.cache[ck]
	s.mu.RUnlock()
	if ok && time.Since(entry.loadedAt) < settingsCacheTTL {
		return entry.value
	}

	var row domain.SysConfig
	value := ""
	if err := s.db.Where("type = ? and name = ?", category, key).First(&row).Error; err == nil {
		value = row.Value
	}
	s.mu.Lock()
	s.cache[ck] = settingsEntry{value: value, loadedAt: time.Now()}
	s.mu.Unlock()
	return value
}

func (s *SettingsCache) GetInt64(category, key string) int64 {
	return cast.ToInt64(s.GetString(category, key))
}

func (s *SettingsCache) GetBool(category, key string) bool {
	return cast.ToBool(s.GetString(category, key))
}

// Invalidate drops the cached value so the next read hits the database.
func (s *SettingsCache) Invalidate(category, key string) {
	s.mu.Lock()
	delete(s.cache, category+"."+key)
	s.mu.Unlock()
}

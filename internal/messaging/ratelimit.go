package messaging

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/micha-dev87/shopify-logistics-app/internal/domain"
	"github.com/micha-dev87/shopify-logistics-app/pkg/common"
)

// DefaultDailyLimit is the unverified-account ceiling of the messaging
// network.
const DefaultDailyLimit = 250

// RateInfo is a point-in-time view of a tenant's daily quota.
type RateInfo struct {
	Allowed    bool      `json:"allowed"`
	DailyCount int64     `json:"daily_count"`
	DailyLimit int64     `json:"daily_limit"`
	Remaining  int64     `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
}

// RateLimiter tracks one day-scoped send counter per tenant. The database
// row is the source of truth; the count/date snapshot on the tenant row is
// a best-effort mirror for the dashboard.
type RateLimiter struct {
	db    *gorm.DB
	limit int64
	now   func() time.Time
}

func NewRateLimiter(db *gorm.DB, limit int64) *RateLimiter {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	return &RateLimiter{db: db, limit: limit, now: time.Now}
}

// CheckAndInfo reports whether a send is currently allowed and the full
// quota snapshot.
func (r *RateLimiter) CheckAndInfo(tenantID int64) (RateInfo, error) {
	now := r.now()
	count, err := r.currentCount(tenantID, now)
	if err != nil {
		return RateInfo{}, err
	}
	remaining := r.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return RateInfo{
		Allowed:    count < r.limit,
		DailyCount: count,
		DailyLimit: r.limit,
		Remaining:  remaining,
		ResetAt:    common.NextUTCMidnight(now),
	}, nil
}

// Increment atomically bumps the tenant's counter for the current UTC day,
// creating the row with a 24h expiry on the first send of the day. Safe
// under concurrent callers: the bump is a single relative UPDATE.
func (r *RateLimiter) Increment(tenantID int64) error {
	now := r.now()
	dayKey := common.UTCDayKey(now)

	res := r.db.Model(&domain.WaRateCounter{}).
		Where("tenant_id = ? AND day_key = ?", tenantID, dayKey).
		UpdateColumn("count", gorm.Expr("count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		err := r.db.Create(&domain.WaRateCounter{
			TenantID:  tenantID,
			DayKey:    dayKey,
			Count:     1,
			ExpiresAt: now.Add(24 * time.Hour),
		}).Error
		if err != nil {
			// Lost the insert race with a concurrent first send; fall back
			// to the relative update.
			res = r.db.Model(&domain.WaRateCounter{}).
				Where("tenant_id = ? AND day_key = ?", tenantID, dayKey).
				UpdateColumn("count", gorm.Expr("count + 1"))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return err
			}
		}
	}

	r.mirrorTenantSnapshot(tenantID, dayKey)
	return nil
}

// PurgeExpired deletes counters past their expiry. Invoked by a scheduled
// job; correctness never depends on it because the day key scopes lookups.
func (r *RateLimiter) PurgeExpired() (int64, error) {
	res := r.db.Where("expires_at < ?", r.now()).Delete(&domain.WaRateCounter{})
	return res.RowsAffected, res.Error
}

func (r *RateLimiter) currentCount(tenantID int64, now time.Time) (int64, error) {
	var row domain.WaRateCounter
	err := r.db.Where("tenant_id = ? AND day_key = ?", tenantID, common.UTCDayKey(now)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if now.After(row.ExpiresAt) {
		return 0, nil
	}
	return row.Count, nil
}

func (r *RateLimiter) mirrorTenantSnapshot(tenantID int64, dayKey string) {
	var row domain.WaRateCounter
	if err := r.db.Where("tenant_id = ? AND day_key = ?", tenantID, dayKey).
		First(&row).Error; err != nil {
		return
	}
	if err := r.db.Model(&domain.Tenant{}).Where("id = ?", tenantID).
		Updates(map[string]interface{}{
			"daily_count": row.Count,
			"daily_date":  dayKey,
		}).Error; err != nil {
		zap.L().Debug("messaging: tenant quota mirror failed",
			zap.Int64("tenant_id", tenantID), zap.Error(err))
	}
}

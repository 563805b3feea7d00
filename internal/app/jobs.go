package app

import (
	"context"
	"os"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/micha-dev87/shopify-logistics-app/internal/domain"
	"github.com/micha-dev87/shopify-logistics-app/pkg/metrics"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	var err error
	_, err = a.sched.AddFunc("@every 30s", func() {
		go a.SchedSystemMonitorTask()
		go a.SchedProcessMonitorTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@every 1m", func() {
		a.SchedSweepPairingArtifacts()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@hourly", func() {
		a.SchedPurgeRateCounters()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@daily", func() {
		a.gormDB.
			Where("opt_time < ? ", time.Now().
				Add(-time.Hour*24*365)).Delete(domain.SysOprLog{})
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()

	if a.appConfig.Messaging.AutoConnect {
		go a.bootAutoConnect()
	}
}

// SchedSystemMonitorTask system monitor
func (a *Application) SchedSystemMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	// Collect CPU usage
	_cpuuse, err := cpu.Percent(0, false)
	if err == nil && len(_cpuuse) > 0 {
		metrics.SetGauge("system_cpuuse", int64(_cpuuse[0]*100)) // Store as percentage * 100
	}

	// Collect memory usage
	_meminfo, err := mem.VirtualMemory()
	if err == nil {
		metrics.SetGauge("system_memuse", int64(_meminfo.Used/1024/1024))
	}

	metrics.SetGauge("messaging_live_sessions", int64(a.registry.Len()))
}

// SchedProcessMonitorTask app process monitor
func (a *Application) SchedProcessMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}

	// Collect process CPU usage
	cpuuse, err := p.CPUPercent()
	if err == nil {
		metrics.SetGauge("logistics_cpuuse", int64(cpuuse*100)) // Store as percentage * 100
	}

	// Collect process memory usage
	meminfo, err := p.MemoryInfo()
	if err == nil {
		metrics.SetGauge("logistics_memuse", int64(meminfo.RSS/1024/1024))
	}
}

// SchedSweepPairingArtifacts clears QR payloads past their expiry so status
// reads never serve stale pairing material.
func (a *Application) SchedSweepPairingArtifacts() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	res := a.gormDB.Model(&domain.WaCredential{}).
		Where("last_qr <> '' AND qr_expiry < ?", time.Now()).
		Updates(map[string]interface{}{"last_qr": "", "qr_expiry": nil})
	if res.Error != nil {
		zap.L().Error("pairing artifact sweep failed", zap.Error(res.Error))
		return
	}
	if res.RowsAffected > 0 {
		zap.L().Info("swept expired pairing artifacts", zap.Int64("count", res.RowsAffected))
	}
}

// SchedPurgeRateCounters drops day counters past their 24h expiry.
func (a *Application) SchedPurgeRateCounters() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	purged, err := a.limiter.PurgeExpired()
	if err != nil {
		zap.L().Error("rate counter purge failed", zap.Error(err))
		return
	}
	if purged > 0 {
		zap.L().Info("purged expired rate counters", zap.Int64("count", purged))
	}
}

// bootAutoConnect restores sessions for tenants that were connected before
// the last shutdown. Connections run through a bounded worker pool so a
// large tenant count does not stampede the network.
func (a *Application) bootAutoConnect() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	var tenants []domain.Tenant
	if err := a.gormDB.
		Where("messaging_enabled = ? AND wa_connected = ?", true, true).
		Find(&tenants).Error; err != nil {
		zap.L().Error("auto-connect tenant query failed", zap.Error(err))
		return
	}
	if len(tenants) == 0 {
		return
	}

	pool, err := ants.NewPool(8)
	if err != nil {
		zap.L().Error("auto-connect pool init failed", zap.Error(err))
		return
	}
	defer pool.Release()

	zap.L().Info("auto-connecting messaging sessions", zap.Int("tenants", len(tenants)))
	done := make(chan struct{}, len(tenants))
	for _, t := range tenants {
		tenantID := t.ID
		if err := pool.Submit(func() {
			defer func() { done <- struct{}{} }()
			if err := a.sessions.Connect(context.Background(), tenantID); err != nil {
				zap.L().Error("auto-connect failed",
					zap.Int64("tenant_id", tenantID), zap.Error(err))
			}
		}); err != nil {
			done <- struct{}{}
		}
	}
	for range tenants {
		<-done
	}
}

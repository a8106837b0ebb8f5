package checks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/leozw/health-guardian/internal/core"
)

const (
	queryLastBackup      = `SELECT created_at, COALESCE(file_size, 0) AS file_size FROM system_backups WHERE status = 'COMPLETED' ORDER BY created_at DESC LIMIT 1`
	queryTotalBackups    = `SELECT count(*) FROM system_backups`
	queryFailedBackups   = `SELECT count(*) FROM system_backups WHERE status = 'FAILED'`
	queryActiveSchedules = `SELECT count(*) FROM backup_schedules WHERE is_active = true`

	backupOverdueHours = 48
	backupStaleHours   = 24
	maxFailedBackups   = 5
)

type lastBackup struct {
	CreatedAt time.Time `db:"created_at"`
	FileSize  int64     `db:"file_size"`
}

type BackupProbe struct {
	info
	db           Querier
	dir          string
	now          func() time.Time
	checkTimeout time.Duration
}

func NewBackupProbe(db Querier, dir string, checkTimeout time.Duration) *BackupProbe {
	return &BackupProbe{
		info: info{
			name:        "backup",
			displayName: "Backup System",
			description: "Backup recency, failures, storage and schedules",
			checkNames:  []string{"Last Backup Time", "Failed Backups Count", "Backup Storage Files", "Backup Schedule Configuration"},
		},
		db:           db,
		dir:          dir,
		now:          time.Now,
		checkTimeout: checkTimeout,
	}
}

func (p *BackupProbe) Run(ctx context.Context) *core.ModuleResult {
	rec := newRecorder(p.info, p.checkTimeout)

	rec.Observe(ctx, "Last Backup Time", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var last lastBackup
		err := p.db.GetContext(ctx, &last, queryLastBackup)
		if errors.Is(err, sql.ErrNoRows) {
			rec.Error("No backup found")
			rec.Recommend("Run a manual backup immediately")
			return Fail(core.SeverityCritical, "No completed backup found"), nil
		}
		if err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check last backup: %w", err)
		}
		hours := int64(p.now().Sub(last.CreatedAt).Round(time.Hour).Hours())
		rec.Metric("last_backup_hours_ago", core.Int(hours))
		rec.Metric("last_backup_size_mb", core.Int(last.FileSize/1024/1024))
		switch {
		case hours > backupOverdueHours:
			rec.Warning("Backup is overdue")
			rec.Recommend("Check the backup schedule")
			return Warn(core.SeverityHigh, "Last backup %d hours ago", hours), nil
		case hours > backupStaleHours:
			rec.Warning("Backup is older than 24 hours")
			return Warn(core.SeverityMedium, "Last backup %d hours ago", hours), nil
		}
		return Pass("Last backup %d hours ago", hours), nil
	})

	rec.Observe(ctx, "Failed Backups Count", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var total, failed int64
		if err := p.db.GetContext(ctx, &total, queryTotalBackups); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check backup statistics: %w", err)
		}
		if err := p.db.GetContext(ctx, &failed, queryFailedBackups); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check backup statistics: %w", err)
		}
		rec.Metric("total_backups", core.Int(total))
		rec.Metric("failed_backups", core.Int(failed))
		if failed > maxFailedBackups {
			rec.Warning("Multiple failed backups detected")
			rec.Recommend("Check backup logs")
			return Warn(core.SeverityMedium, "%d failed backups detected", failed), nil
		}
		return Pass("%d failed backups out of %d", failed, total), nil
	})

	rec.Observe(ctx, "Backup Storage Files", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		if p.dir == "" {
			rec.Warning("Backup directory not configured")
			return Warn(core.SeverityMedium, "Backup directory not configured"), nil
		}
		entries, err := os.ReadDir(p.dir)
		if errors.Is(err, os.ErrNotExist) {
			rec.Warning("Backup directory missing")
			return Warn(core.SeverityMedium, "Backup directory not found"), nil
		}
		if err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check backup storage: %w", err)
		}
		files := 0
		for _, e := range entries {
			if !e.IsDir() {
				files++
			}
		}
		rec.Metric("backup_files_count", core.Int(int64(files)))
		return Pass("%d backup files stored", files), nil
	})

	rec.Observe(ctx, "Backup Schedule Configuration", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var active int64
		if err := p.db.GetContext(ctx, &active, queryActiveSchedules); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check schedules: %w", err)
		}
		rec.Metric("active_schedules", core.Int(active))
		if active == 0 {
			rec.Warning("No automatic backup schedules")
			rec.Recommend("Configure automatic backup schedules")
			return Warn(core.SeverityMedium, "No active backup schedules"), nil
		}
		return Pass("%d active schedules", active), nil
	})

	return rec.Result()
}

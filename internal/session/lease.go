package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/interviewdesk/internal/logger"
	"github.com/zulandar/interviewdesk/internal/models"
)

// DefaultLeaseTimeout is how long a lease survives without a heartbeat
// before another view may reclaim the room.
const DefaultLeaseTimeout = 90 * time.Second

// DefaultHeartbeat is the cron spec used when none is configured.
const DefaultHeartbeat = "@every 30s"

// ErrLeaseHeld is returned when another active lease holds the room.
var ErrLeaseHeld = errors.New("session: room is open in another view")

// AcquireLease claims roomCode for holder. Stale active leases (heartbeat
// older than timeout) are expired first.
func AcquireLease(db *gorm.DB, roomCode, role, holder string, timeout time.Duration) (*models.RoomLease, error) {
	if timeout <= 0 {
		timeout = DefaultLeaseTimeout
	}

	var lease *models.RoomLease
	err := db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&models.RoomLease{}).
			Where("status = ? AND room_code = ? AND last_heartbeat < ?", models.LeaseActive, roomCode, now.Add(-timeout)).
			Updates(map[string]interface{}{
				"status":      models.LeaseExpired,
				"released_at": now,
			}).Error; err != nil {
			return fmt.Errorf("expire stale leases: %w", err)
		}

		var existing models.RoomLease
		result := tx.Where("status = ? AND room_code = ?", models.LeaseActive, roomCode).First(&existing)
		if result.Error == nil {
			return fmt.Errorf("%w: held by %q since %s (lease %d)",
				ErrLeaseHeld, existing.Holder, existing.CreatedAt.Format(time.RFC3339), existing.ID)
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check existing lease: %w", result.Error)
		}

		lease = &models.RoomLease{
			RoomCode:      roomCode,
			Role:          role,
			Holder:        holder,
			Status:        models.LeaseActive,
			LastHeartbeat: now,
		}
		if err := tx.Create(lease).Error; err != nil {
			return fmt.Errorf("create lease: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session: acquire lease: %w", err)
	}
	return lease, nil
}

// ReleaseLease marks an active lease released.
func ReleaseLease(db *gorm.DB, leaseID uint) error {
	result := db.Model(&models.RoomLease{}).
		Where("id = ? AND status = ?", leaseID, models.LeaseActive).
		Updates(map[string]interface{}{
			"status":      models.LeaseReleased,
			"released_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("session: release lease: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session: release lease: lease %d not found or not active", leaseID)
	}
	return nil
}

// HeartbeatLease refreshes LastHeartbeat of an active lease.
func HeartbeatLease(db *gorm.DB, leaseID uint) error {
	result := db.Model(&models.RoomLease{}).
		Where("id = ? AND status = ?", leaseID, models.LeaseActive).
		Update("last_heartbeat", time.Now())
	if result.Error != nil {
		return fmt.Errorf("session: heartbeat: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session: heartbeat: lease %d not found or not active", leaseID)
	}
	return nil
}

// ActiveLeases lists active leases, newest first.
func ActiveLeases(db *gorm.DB) ([]models.RoomLease, error) {
	var out []models.RoomLease
	if err := db.Where("status = ?", models.LeaseActive).Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("session: list leases: %w", err)
	}
	return out, nil
}

// ForceRelease releases every active lease on roomCode and returns how
// many were released. It is the manual escape hatch after a crash.
func ForceRelease(db *gorm.DB, roomCode string) (int64, error) {
	result := db.Model(&models.RoomLease{}).
		Where("status = ? AND room_code = ?", models.LeaseActive, roomCode).
		Updates(map[string]interface{}{
			"status":      models.LeaseReleased,
			"released_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("session: force release %s: %w", roomCode, result.Error)
	}
	return result.RowsAffected, nil
}

// Lease is a held room lease kept alive by a cron heartbeat.
type Lease struct {
	db     *gorm.DB
	record *models.RoomLease
	cron   *cron.Cron
	logger *zap.Logger
	once   sync.Once
	err    error
}

// LeaseOpts holds parameters for StartLease.
type LeaseOpts struct {
	DB        *gorm.DB
	RoomCode  string
	Role      string
	Holder    string
	Timeout   time.Duration // defaults to DefaultLeaseTimeout
	Heartbeat string        // cron spec, defaults to DefaultHeartbeat
	Logger    *zap.Logger
}

// StartLease acquires the room lease and starts its heartbeat.
func StartLease(opts LeaseOpts) (*Lease, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("session: lease: db is required")
	}
	if opts.RoomCode == "" {
		return nil, fmt.Errorf("session: lease: room code is required")
	}
	if opts.Holder == "" {
		opts.Holder = "local"
	}
	spec := opts.Heartbeat
	if spec == "" {
		spec = DefaultHeartbeat
	}
	log := logger.WithFields(opts.Logger, zap.String(logger.FieldRoom, opts.RoomCode))

	rec, err := AcquireLease(opts.DB, opts.RoomCode, opts.Role, opts.Holder, opts.Timeout)
	if err != nil {
		return nil, err
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if err := HeartbeatLease(opts.DB, rec.ID); err != nil {
			log.Warn("lease heartbeat", zap.Error(err))
		}
	}); err != nil {
		if rerr := ReleaseLease(opts.DB, rec.ID); rerr != nil {
			log.Warn("release lease after bad schedule", zap.Error(rerr))
		}
		return nil, fmt.Errorf("session: lease heartbeat schedule %q: %w", spec, err)
	}
	c.Start()
	log.Debug("lease acquired", zap.Uint("lease_id", rec.ID), zap.String("heartbeat", spec))

	return &Lease{db: opts.DB, record: rec, cron: c, logger: log}, nil
}

// ID returns the lease row id.
func (l *Lease) ID() uint {
	return l.record.ID
}

// Release stops the heartbeat and releases the lease. Later calls return
// the first result.
func (l *Lease) Release() error {
	l.once.Do(func() {
		<-l.cron.Stop().Done()
		l.err = ReleaseLease(l.db, l.record.ID)
		if l.err == nil {
			l.logger.Debug("lease released", zap.Uint("lease_id", l.record.ID))
		}
	})
	return l.err
}

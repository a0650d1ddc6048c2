package mirror

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/decision-zk/decisiond/pkg/retry"
	"github.com/decision-zk/decisiond/pkg/store"
	"github.com/decision-zk/decisiond/pkg/utils"
)

// Transaction is the mirror row. The mirror is a best-effort copy of the
// authoritative local history, kept only for the maintenance tooling.
type Transaction struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Status    string    `json:"status"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Transaction) TableName() string { return "transactions" }

// Mirror wraps the relational mirror. A nil Mirror is valid and means
// "mirroring disabled": every write is a no-op.
type Mirror struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects with the given gorm dialector and migrates the table.
func Open(dialector gorm.Dialector, logger *zap.Logger) (*Mirror, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening mirror: %w", err)
	}
	if err := db.AutoMigrate(&Transaction{}); err != nil {
		return nil, fmt.Errorf("migrating mirror: %w", err)
	}
	return &Mirror{db: db, logger: logger}, nil
}

// OpenFromEnv connects to Postgres using MIRROR_DSN. An empty DSN disables
// the mirror (returns nil, nil). Connection setup retries with backoff so a
// daemon booting alongside the database doesn't lose the race.
func OpenFromEnv(ctx context.Context, logger *zap.Logger) (*Mirror, error) {
	dsn := utils.Env("MIRROR_DSN", "")
	if dsn == "" {
		logger.Info("transaction mirror disabled, MIRROR_DSN not set")
		return nil, nil
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	var m *Mirror
	err := retry.WithBackoff(connCtx, retry.DefaultConfig(), logger, "mirror_connection", func() error {
		var openErr error
		m, openErr = Open(postgres.Open(dsn), logger)
		return openErr
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Insert records a freshly submitted transaction. Best-effort.
func (m *Mirror) Insert(ctx context.Context, id, method string) {
	if m == nil {
		return
	}
	row := Transaction{ID: id, Status: string(store.TxPending), Method: method}
	if err := m.db.WithContext(ctx).Create(&row).Error; err != nil {
		m.logger.Warn("mirror insert failed", zap.String("id", id), zap.Error(err))
	}
}

// UpdateStatus moves an existing row to the given status, upserting when
// the update matched nothing. Best-effort.
func (m *Mirror) UpdateStatus(ctx context.Context, id string, status store.TxStatus) {
	if m == nil {
		return
	}
	res := m.db.WithContext(ctx).
		Model(&Transaction{}).
		Where("id = ?", id).
		Update("status", string(status))
	if res.Error != nil {
		m.logger.Warn("mirror update failed", zap.String("id", id), zap.Error(res.Error))
		return
	}
	if res.RowsAffected > 0 {
		return
	}
	row := Transaction{ID: id, Status: string(status)}
	err := m.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		m.logger.Warn("mirror upsert failed", zap.String("id", id), zap.Error(err))
	}
}

// Pending returns rows that never reached a terminal status.
func (m *Mirror) Pending(ctx context.Context) ([]Transaction, error) {
	if m == nil {
		return nil, nil
	}
	var rows []Transaction
	err := m.db.WithContext(ctx).
		Where("status IN ?", []string{string(store.TxPending), string(store.TxBroadcasted)}).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing pending mirror rows: %w", err)
	}
	return rows, nil
}

// List returns up to limit rows, newest first. limit <= 0 means all.
func (m *Mirror) List(ctx context.Context, limit int) ([]Transaction, error) {
	if m == nil {
		return nil, nil
	}
	q := m.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []Transaction
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing mirror rows: %w", err)
	}
	return rows, nil
}

// PromoteAll bulk-marks every non-terminal row with the given status and
// returns the number of rows touched.
func (m *Mirror) PromoteAll(ctx context.Context, status store.TxStatus) (int64, error) {
	if m == nil {
		return 0, nil
	}
	res := m.db.WithContext(ctx).
		Model(&Transaction{}).
		Where("status IN ?", []string{string(store.TxPending), string(store.TxBroadcasted)}).
		Update("status", string(status))
	if res.Error != nil {
		return 0, fmt.Errorf("promoting mirror rows: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Purge deletes every row. Returns the number deleted.
func (m *Mirror) Purge(ctx context.Context) (int64, error) {
	if m == nil {
		return 0, nil
	}
	res := m.db.WithContext(ctx).Where("1 = 1").Delete(&Transaction{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging mirror: %w", res.Error)
	}
	return res.RowsAffected, nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/autsav/backgroundRemover/internal/logging"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ProcessingLog is the audit record of one background removal call. It never
// holds image bytes or URLs.
type ProcessingLog struct {
	ID          uint      `gorm:"primaryKey"`
	RequestID   string    `gorm:"column:request_id;index;size:64"`
	SessionID   string    `gorm:"column:session_id;index;size:64"`
	Status      string    `gorm:"column:status;size:16;index"`
	Model       string    `gorm:"column:model;size:64"`
	InputType   string    `gorm:"column:input_type;size:64"`
	InputBytes  int64     `gorm:"column:input_bytes"`
	OutputType  string    `gorm:"column:output_type;size:64"`
	Width       int       `gorm:"column:width"`
	Height      int       `gorm:"column:height"`
	LatencyMs   int64     `gorm:"column:latency_ms"`
	ErrorDetail string    `gorm:"column:error_detail;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (ProcessingLog) TableName() string {
	return "processing_logs"
}

// MetricsAggregation is the raw aggregate behind the metrics summary.
type MetricsAggregation struct {
	TotalCount       int64
	SuccessCount     int64
	AverageLatencyMs float64
}

// ProcessingRepository persists processing logs with gorm.
type ProcessingRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewProcessingRepository creates a new repository instance.
func NewProcessingRepository(db *gorm.DB, logger *zap.Logger) *ProcessingRepository {
	return &ProcessingRepository{
		db:             db,
		logger:         logger.Named("processing_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *ProcessingRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ProcessingLog{})
}

// SaveLog persists a processing log entry.
func (r *ProcessingRepository) SaveLog(ctx context.Context, log *ProcessingLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// AggregateMetrics computes totals over all persisted logs.
func (r *ProcessingRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount       int64
		SuccessCount     int64
		AverageLatencyMs *float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&ProcessingLog{}).
			Select("COUNT(*) AS total_count, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS success_count, "+
				"AVG(latency_ms) AS average_latency_ms", StatusSucceeded).
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}

	agg := &MetricsAggregation{TotalCount: row.TotalCount, SuccessCount: row.SuccessCount}
	if row.AverageLatencyMs != nil {
		agg.AverageLatencyMs = *row.AverageLatencyMs
	}
	return agg, nil
}

func (r *ProcessingRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}

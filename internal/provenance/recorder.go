package provenance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	types "github.com/yungbote/graphmesh-backend/internal/domain/provenance"
	"github.com/yungbote/graphmesh-backend/internal/platform/envutil"
	"github.com/yungbote/graphmesh-backend/internal/platform/logger"
)

// Recorder writes the append-only Operation audit ledger. Operations are
// opened with Begin and sealed exactly once with Seal; a sealed row is
// never touched again.
type Recorder interface {
	Begin(ctx context.Context, toolID, operationType string, inputs map[string]any) (uuid.UUID, error)
	Seal(ctx context.Context, operationID uuid.UUID, success bool, outputs map[string]any, opErr error) error
	Get(ctx context.Context, operationID uuid.UUID) (*types.Operation, error)
	ByTool(ctx context.Context, toolID string, from, to time.Time) ([]types.Operation, error)
	Close() error
}

// SQLiteRecorder keeps the ledger in an embedded sqlite file, deliberately
// separate from the graph database so audit history survives graph resets.
type SQLiteRecorder struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSQLiteRecorder(path string, log *logger.Logger) (*SQLiteRecorder, error) {
	if log == nil {
		return nil, fmt.Errorf("provenance: logger required")
	}
	if path == "" {
		path = envutil.Str("PROVENANCE_DB_PATH", "provenance.db")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("provenance: open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&types.Operation{}); err != nil {
		return nil, fmt.Errorf("provenance: migrate: %w", err)
	}
	return &SQLiteRecorder{db: db, log: log.With("store", "ProvenanceSQLite")}, nil
}

func (r *SQLiteRecorder) Begin(ctx context.Context, toolID, operationType string, inputs map[string]any) (uuid.UUID, error) {
	op := types.Operation{
		ID:            uuid.New(),
		ToolID:        toolID,
		OperationType: operationType,
		Inputs:        marshalJSON(inputs),
		StartTime:     time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&op).Error; err != nil {
		return uuid.Nil, fmt.Errorf("provenance: begin operation: %w", err)
	}
	return op.ID, nil
}

func (r *SQLiteRecorder) Seal(ctx context.Context, operationID uuid.UUID, success bool, outputs map[string]any, opErr error) error {
	now := time.Now().UTC()
	fields := map[string]any{
		"end_time": now,
		"success":  success,
		"sealed":   true,
	}
	if outputs != nil {
		fields["outputs"] = marshalJSON(outputs)
	}
	if opErr != nil {
		fields["error"] = opErr.Error()
	}
	res := r.db.WithContext(ctx).
		Model(&types.Operation{}).
		Where("id = ? AND sealed = ?", operationID, false).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("provenance: seal operation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("provenance: operation %s already sealed or unknown", operationID)
	}
	return nil
}

func (r *SQLiteRecorder) Get(ctx context.Context, operationID uuid.UUID) (*types.Operation, error) {
	var op types.Operation
	err := r.db.WithContext(ctx).First(&op, "id = ?", operationID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("provenance: get operation: %w", err)
	}
	return &op, nil
}

func (r *SQLiteRecorder) ByTool(ctx context.Context, toolID string, from, to time.Time) ([]types.Operation, error) {
	var ops []types.Operation
	q := r.db.WithContext(ctx).Where("tool_id = ?", toolID)
	if !from.IsZero() {
		q = q.Where("start_time >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("start_time <= ?", to)
	}
	if err := q.Order("start_time asc").Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("provenance: query by tool: %w", err)
	}
	return ops, nil
}

func (r *SQLiteRecorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func marshalJSON(m map[string]any) datatypes.JSON {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

var _ Recorder = (*SQLiteRecorder)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/NjCayao/safetySystem-sub000/internal/domain"
)

// PostgresHistoryRepository 配置变更账本Repository实现
type PostgresHistoryRepository struct {
	db *sql.DB
}

// NewPostgresHistoryRepository 创建账本Repository
func NewPostgresHistoryRepository(db *sql.DB) *PostgresHistoryRepository {
	return &PostgresHistoryRepository{db: db}
}

// 确保实现了接口
var _ HistoryRepository = (*PostgresHistoryRepository)(nil)

const historyColumns = `
	id,
	device_id,
	version,
	changed_by,
	change_type,
	config_before,
	config_after,
	changes_summary,
	applied_successfully,
	applied_at,
	error_message,
	source_history_id,
	retried_by,
	created_at
`

func scanHistory(row interface{ Scan(...any) error }) (*domain.ConfigHistory, error) {
	var rec domain.ConfigHistory
	var configBefore sql.NullString
	var configAfter sql.NullString
	var summary sql.NullString
	var applied sql.NullBool

	if err := row.Scan(
		&rec.ID,
		&rec.DeviceID,
		&rec.Version,
		&rec.ChangedBy,
		&rec.ChangeType,
		&configBefore,
		&configAfter,
		&summary,
		&applied,
		&rec.AppliedAt,
		&rec.ErrorMessage,
		&rec.SourceHistoryID,
		&rec.RetriedBy,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	if configBefore.Valid {
		rec.ConfigBefore = []byte(configBefore.String)
	}
	if configAfter.Valid {
		rec.ConfigAfter = []byte(configAfter.String)
	}
	if summary.Valid {
		rec.ChangesSummary = summary.String
	}
	rec.Status = domain.StatusFromNullBool(applied)

	return &rec, nil
}

// RecordChange 记录一次配置变更
// SELECT ... FOR UPDATE 锁设备行：版本分配、账本插入、文档覆盖在同一事务内，
// 同设备并发变更在这里串行化，版本号不会丢失或重复
func (r *PostgresHistoryRepository) RecordChange(ctx context.Context, rec *domain.ConfigHistory, profileID sql.NullString) (*domain.ConfigHistory, error) {
	if rec.DeviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	if len(rec.ConfigAfter) == 0 {
		return nil, fmt.Errorf("config_after is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 每设备串行区入口
	var currentVersion int
	err = tx.QueryRowContext(ctx,
		`SELECT config_version FROM devices WHERE device_id = $1 FOR UPDATE`,
		rec.DeviceID,
	).Scan(&currentVersion)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Kind: "device", ID: rec.DeviceID}
		}
		return nil, fmt.Errorf("failed to lock device: %w", err)
	}

	newVersion := currentVersion + 1

	var configBefore any
	if len(rec.ConfigBefore) > 0 {
		configBefore = string(rec.ConfigBefore)
	}
	var sourceID any
	if rec.SourceHistoryID.Valid {
		sourceID = rec.SourceHistoryID.Int64
	}

	insertQuery := `
		INSERT INTO device_config_history (
			device_id,
			version,
			changed_by,
			change_type,
			config_before,
			config_after,
			changes_summary,
			source_history_id
		) VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8)
		RETURNING id, created_at
	`
	out := *rec
	out.Version = newVersion
	out.Status = domain.StatusPending
	err = tx.QueryRowContext(ctx, insertQuery,
		rec.DeviceID, newVersion, rec.ChangedBy, string(rec.ChangeType),
		configBefore, string(rec.ConfigAfter), rec.ChangesSummary, sourceID,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert history record: %w", err)
	}

	var profileArg any
	if profileID.Valid && profileID.String != "" {
		profileArg = profileID.String
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE devices
		 SET config_version = $2, config_pending = true, config_json = $3::jsonb, profile_id = $4, updated_at = now()
		 WHERE device_id = $1`,
		rec.DeviceID, newVersion, string(rec.ConfigAfter), profileArg,
	); err != nil {
		return nil, fmt.Errorf("failed to update device config: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &out, nil
}

// GetHistory 获取单条账本记录
func (r *PostgresHistoryRepository) GetHistory(ctx context.Context, historyID int64) (*domain.ConfigHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM device_config_history WHERE id = $1`

	rec, err := scanHistory(r.db.QueryRowContext(ctx, query, historyID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Kind: "history", ID: fmt.Sprintf("%d", historyID)}
		}
		return nil, fmt.Errorf("failed to get history record: %w", err)
	}

	return rec, nil
}

// ListHistory 查询账本（deviceID 为空表示全部设备）
func (r *PostgresHistoryRepository) ListHistory(ctx context.Context, deviceID string, filters *HistoryFilters, page, size int) ([]*domain.ConfigHistory, int, error) {
	where := []string{"1=1"}
	args := []any{}
	argN := 1

	if deviceID != "" {
		where = append(where, fmt.Sprintf("device_id = $%d", argN))
		args = append(args, deviceID)
		argN++
	}
	if filters != nil {
		if filters.ChangeType != "" {
			where = append(where, fmt.Sprintf("change_type = $%d", argN))
			args = append(args, filters.ChangeType)
			argN++
		}
		switch filters.Status {
		case string(domain.StatusPending):
			where = append(where, "applied_successfully IS NULL")
		case string(domain.StatusApplied):
			where = append(where, "applied_successfully = true")
		case string(domain.StatusFailed):
			where = append(where, "applied_successfully = false")
		}
		if filters.StartTime != nil {
			where = append(where, fmt.Sprintf("created_at >= $%d", argN))
			args = append(args, *filters.StartTime)
			argN++
		}
		if filters.EndTime != nil {
			where = append(where, fmt.Sprintf("created_at <= $%d", argN))
			args = append(args, *filters.EndTime)
			argN++
		}
	}

	queryCount := `SELECT COUNT(*) FROM device_config_history WHERE ` + strings.Join(where, " AND ")
	var total int
	if err := r.db.QueryRowContext(ctx, queryCount, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count history records: %w", err)
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	argsList := append(args, size, offset)
	query := `SELECT ` + historyColumns + `
		FROM device_config_history
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC, id DESC
		LIMIT $` + fmt.Sprintf("%d", argN) + ` OFFSET $` + fmt.Sprintf("%d", argN+1)

	rows, err := r.db.QueryContext(ctx, query, argsList...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list history records: %w", err)
	}
	defer rows.Close()

	var records []*domain.ConfigHistory
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate history records: %w", err)
	}

	return records, total, nil
}

// MarkApplied pending → applied
func (r *PostgresHistoryRepository) MarkApplied(ctx context.Context, historyID int64, appliedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deviceID, version, err := lockPendingRecord(ctx, tx, historyID, "mark applied")
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE device_config_history SET applied_successfully = true, applied_at = $2 WHERE id = $1`,
		historyID, appliedAt,
	); err != nil {
		return fmt.Errorf("failed to mark history applied: %w", err)
	}

	// 仅当该记录仍是设备最新版本时才清 pending：
	// 迟到的确认不能清掉后续变更的 pending 标记
	if _, err = tx.ExecContext(ctx,
		`UPDATE devices SET config_pending = false, updated_at = now()
		 WHERE device_id = $1 AND config_version = $2`,
		deviceID, version,
	); err != nil {
		return fmt.Errorf("failed to clear device pending flag: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// MarkFailed pending → failed
func (r *PostgresHistoryRepository) MarkFailed(ctx context.Context, historyID int64, errorMessage string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, _, err := lockPendingRecord(ctx, tx, historyID, "mark failed"); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE device_config_history SET applied_successfully = false, error_message = $2 WHERE id = $1`,
		historyID, errorMessage,
	); err != nil {
		return fmt.Errorf("failed to mark history failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// lockPendingRecord 锁定账本记录并校验其仍为 pending
func lockPendingRecord(ctx context.Context, tx *sql.Tx, historyID int64, op string) (string, int, error) {
	var deviceID string
	var version int
	var applied sql.NullBool
	err := tx.QueryRowContext(ctx,
		`SELECT device_id, version, applied_successfully FROM device_config_history WHERE id = $1 FOR UPDATE`,
		historyID,
	).Scan(&deviceID, &version, &applied)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", 0, &domain.NotFoundError{Kind: "history", ID: fmt.Sprintf("%d", historyID)}
		}
		return "", 0, fmt.Errorf("failed to lock history record: %w", err)
	}
	if applied.Valid {
		return "", 0, &domain.StateError{HistoryID: historyID, Status: domain.StatusFromNullBool(applied), Op: op}
	}
	return deviceID, version, nil
}

// SetRetriedBy 在失败记录上补 retry 回链
func (r *PostgresHistoryRepository) SetRetriedBy(ctx context.Context, historyID, retryID int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE device_config_history SET retried_by = $2 WHERE id = $1`,
		historyID, retryID,
	)
	if err != nil {
		return fmt.Errorf("failed to set retry back-link: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &domain.NotFoundError{Kind: "history", ID: fmt.Sprintf("%d", historyID)}
	}

	return nil
}

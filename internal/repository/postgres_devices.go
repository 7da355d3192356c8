package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/NjCayao/safetySystem-sub000/internal/domain"
)

// PostgresDevicesRepository 设备Repository实现
type PostgresDevicesRepository struct {
	db *sql.DB
}

// NewPostgresDevicesRepository 创建设备Repository
func NewPostgresDevicesRepository(db *sql.DB) *PostgresDevicesRepository {
	return &PostgresDevicesRepository{db: db}
}

// 确保实现了接口
var _ DevicesRepository = (*PostgresDevicesRepository)(nil)

const deviceColumns = `
	device_id,
	device_type,
	config_version,
	config_pending,
	config_json,
	profile_id::text,
	created_at,
	updated_at
`

func scanDevice(row interface{ Scan(...any) error }) (*domain.Device, error) {
	var device domain.Device
	var configJSON sql.NullString
	var profileID sql.NullString

	if err := row.Scan(
		&device.DeviceID,
		&device.DeviceType,
		&device.ConfigVersion,
		&device.ConfigPending,
		&configJSON,
		&profileID,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if configJSON.Valid {
		device.ConfigJSON = []byte(configJSON.String)
	}
	device.ProfileID = profileID

	return &device, nil
}

// GetDevice 获取设备
func (r *PostgresDevicesRepository) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	if deviceID == "" {
		return nil, &domain.NotFoundError{Kind: "device", ID: deviceID}
	}

	query := `SELECT ` + deviceColumns + ` FROM devices WHERE device_id = $1`

	device, err := scanDevice(r.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Kind: "device", ID: deviceID}
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return device, nil
}

// ListDevices 查询设备列表（支持分页、过滤）
func (r *PostgresDevicesRepository) ListDevices(ctx context.Context, filters DeviceFilters, page, size int) ([]*domain.Device, int, error) {
	where := []string{"1=1"}
	args := []any{}
	argN := 1

	if filters.DeviceType != "" {
		where = append(where, fmt.Sprintf("device_type = $%d", argN))
		args = append(args, filters.DeviceType)
		argN++
	}
	if filters.PendingOnly {
		where = append(where, "config_pending = true")
	}
	if filters.SearchKeyword != "" {
		where = append(where, fmt.Sprintf("device_id ILIKE $%d", argN))
		args = append(args, "%"+filters.SearchKeyword+"%")
		argN++
	}

	// 查询总数
	queryCount := `SELECT COUNT(*) FROM devices WHERE ` + strings.Join(where, " AND ")
	var total int
	if err := r.db.QueryRowContext(ctx, queryCount, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count devices: %w", err)
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	argsList := append(args, size, offset)
	query := `SELECT ` + deviceColumns + `
		FROM devices
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY device_id
		LIMIT $` + fmt.Sprintf("%d", argN) + ` OFFSET $` + fmt.Sprintf("%d", argN+1)

	rows, err := r.db.QueryContext(ctx, query, argsList...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate devices: %w", err)
	}

	return devices, total, nil
}

// CreateDevice 注册新设备
func (r *PostgresDevicesRepository) CreateDevice(ctx context.Context, device *domain.Device) error {
	if device.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if device.DeviceType == "" {
		return fmt.Errorf("device_type is required")
	}
	if len(device.ConfigJSON) == 0 {
		return fmt.Errorf("config_json is required")
	}

	query := `
		INSERT INTO devices (device_id, device_type, config_version, config_pending, config_json)
		VALUES ($1, $2, 0, false, $3::jsonb)
	`
	if _, err := r.db.ExecContext(ctx, query, device.DeviceID, device.DeviceType, string(device.ConfigJSON)); err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

// CountDevicesUsingProfile 统计当前配置来源于某 profile 的设备数
func (r *PostgresDevicesRepository) CountDevicesUsingProfile(ctx context.Context, profileID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM devices WHERE profile_id = $1`
	if err := r.db.QueryRowContext(ctx, query, profileID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count devices using profile: %w", err)
	}
	return count, nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/NjCayao/safetySystem-sub000/internal/domain"
)

// PostgresProfilesRepository 配置模板Repository实现
type PostgresProfilesRepository struct {
	db *sql.DB
}

// NewPostgresProfilesRepository 创建配置模板Repository
func NewPostgresProfilesRepository(db *sql.DB) *PostgresProfilesRepository {
	return &PostgresProfilesRepository{db: db}
}

// 确保实现了接口
var _ ProfilesRepository = (*PostgresProfilesRepository)(nil)

const profileColumns = `
	id::text,
	name,
	device_type,
	is_default,
	config_json,
	created_by,
	created_at,
	updated_at
`

func scanProfile(row interface{ Scan(...any) error }) (*domain.ConfigProfile, error) {
	var profile domain.ConfigProfile
	var configJSON sql.NullString
	var createdBy sql.NullString

	if err := row.Scan(
		&profile.ID,
		&profile.Name,
		&profile.DeviceType,
		&profile.IsDefault,
		&configJSON,
		&createdBy,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if configJSON.Valid {
		profile.ConfigJSON = []byte(configJSON.String)
	}
	if createdBy.Valid {
		profile.CreatedBy = createdBy.String
	}

	return &profile, nil
}

// GetProfile 获取配置模板
func (r *PostgresProfilesRepository) GetProfile(ctx context.Context, profileID string) (*domain.ConfigProfile, error) {
	if profileID == "" {
		return nil, &domain.NotFoundError{Kind: "profile", ID: profileID}
	}

	query := `SELECT ` + profileColumns + ` FROM device_config_profiles WHERE id = $1`

	profile, err := scanProfile(r.db.QueryRowContext(ctx, query, profileID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Kind: "profile", ID: profileID}
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return profile, nil
}

// ListProfiles 查询配置模板列表（支持分页、过滤）
func (r *PostgresProfilesRepository) ListProfiles(ctx context.Context, filters ProfileFilters, page, size int) ([]*domain.ConfigProfile, int, error) {
	where := []string{"1=1"}
	args := []any{}
	argN := 1

	if filters.DeviceType != "" {
		if filters.IncludeUniversal {
			where = append(where, fmt.Sprintf("(device_type = $%d OR device_type IS NULL)", argN))
		} else {
			where = append(where, fmt.Sprintf("device_type = $%d", argN))
		}
		args = append(args, filters.DeviceType)
		argN++
	}
	if filters.DefaultOnly {
		where = append(where, "is_default = true")
	}

	queryCount := `SELECT COUNT(*) FROM device_config_profiles WHERE ` + strings.Join(where, " AND ")
	var total int
	if err := r.db.QueryRowContext(ctx, queryCount, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count profiles: %w", err)
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	argsList := append(args, size, offset)
	query := `SELECT ` + profileColumns + `
		FROM device_config_profiles
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY name
		LIMIT $` + fmt.Sprintf("%d", argN) + ` OFFSET $` + fmt.Sprintf("%d", argN+1)

	rows, err := r.db.QueryContext(ctx, query, argsList...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*domain.ConfigProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate profiles: %w", err)
	}

	return profiles, total, nil
}

// CreateProfile 创建配置模板
func (r *PostgresProfilesRepository) CreateProfile(ctx context.Context, profile *domain.ConfigProfile) (string, error) {
	if profile.Name == "" {
		return "", fmt.Errorf("name is required")
	}
	if len(profile.ConfigJSON) == 0 {
		return "", fmt.Errorf("config_json is required")
	}

	var deviceType any
	if profile.DeviceType.Valid && profile.DeviceType.String != "" {
		deviceType = profile.DeviceType.String
	}

	query := `
		INSERT INTO device_config_profiles (name, device_type, is_default, config_json, created_by)
		VALUES ($1, $2, false, $3::jsonb, $4)
		RETURNING id::text
	`
	var id string
	err := r.db.QueryRowContext(ctx, query, profile.Name, deviceType, string(profile.ConfigJSON), profile.CreatedBy).Scan(&id)
	if err != nil {
		// UNIQUE(name, device_type)
		if strings.Contains(err.Error(), "duplicate key") {
			return "", fmt.Errorf("profile name %q already exists for this device type", profile.Name)
		}
		return "", fmt.Errorf("failed to create profile: %w", err)
	}
	return id, nil
}

// UpdateProfile 更新配置模板
func (r *PostgresProfilesRepository) UpdateProfile(ctx context.Context, profileID string, profile *domain.ConfigProfile) error {
	if profileID == "" {
		return &domain.NotFoundError{Kind: "profile", ID: profileID}
	}

	var deviceType any
	if profile.DeviceType.Valid && profile.DeviceType.String != "" {
		deviceType = profile.DeviceType.String
	}

	query := `
		UPDATE device_config_profiles
		SET name = $2, device_type = $3, config_json = $4::jsonb, updated_at = now()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, profileID, profile.Name, deviceType, string(profile.ConfigJSON))
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return fmt.Errorf("profile name %q already exists for this device type", profile.Name)
		}
		return fmt.Errorf("failed to update profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &domain.NotFoundError{Kind: "profile", ID: profileID}
	}

	return nil
}

// DeleteProfile 删除配置模板
func (r *PostgresProfilesRepository) DeleteProfile(ctx context.Context, profileID string) error {
	query := `DELETE FROM device_config_profiles WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, profileID)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &domain.NotFoundError{Kind: "profile", ID: profileID}
	}

	return nil
}

// SetDefault 将模板设为其 device_type 分区的默认（清旧+设新在同一事务内）
func (r *PostgresProfilesRepository) SetDefault(ctx context.Context, profileID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 锁定目标模板并读取其分区
	var deviceType sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT device_type FROM device_config_profiles WHERE id = $1 FOR UPDATE`,
		profileID,
	).Scan(&deviceType)
	if err != nil {
		if err == sql.ErrNoRows {
			return &domain.NotFoundError{Kind: "profile", ID: profileID}
		}
		return fmt.Errorf("failed to lock profile: %w", err)
	}

	// 清掉同分区的旧默认（通用分区用 IS NULL 匹配）
	if deviceType.Valid {
		_, err = tx.ExecContext(ctx,
			`UPDATE device_config_profiles SET is_default = false, updated_at = now()
			 WHERE device_type = $1 AND is_default = true AND id <> $2`,
			deviceType.String, profileID,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE device_config_profiles SET is_default = false, updated_at = now()
			 WHERE device_type IS NULL AND is_default = true AND id <> $1`,
			profileID,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to clear previous default: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE device_config_profiles SET is_default = true, updated_at = now() WHERE id = $1`,
		profileID,
	); err != nil {
		return fmt.Errorf("failed to set default: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetDefaultForType 取某设备类型的默认模板（类型分区优先，其次通用分区）
func (r *PostgresProfilesRepository) GetDefaultForType(ctx context.Context, deviceType string) (*domain.ConfigProfile, error) {
	query := `SELECT ` + profileColumns + `
		FROM device_config_profiles
		WHERE is_default = true AND (device_type = $1 OR device_type IS NULL)
		ORDER BY device_type NULLS LAST
		LIMIT 1`

	profile, err := scanProfile(r.db.QueryRowContext(ctx, query, deviceType))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Kind: "profile", ID: "default:" + deviceType}
		}
		return nil, fmt.Errorf("failed to get default profile: %w", err)
	}

	return profile, nil
}

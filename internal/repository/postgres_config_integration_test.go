// +build integration

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/NjCayao/safetySystem-sub000/internal/config"
	"github.com/NjCayao/safetySystem-sub000/internal/database"
	"github.com/NjCayao/safetySystem-sub000/internal/domain"
)

func getTestDB(t *testing.T) *sql.DB {
	cfg := &config.DatabaseConfig{
		Host:     getTestEnv("TEST_DB_HOST", "localhost"),
		Port:     getTestEnvInt("TEST_DB_PORT", 5432),
		User:     getTestEnv("TEST_DB_USER", "postgres"),
		Password: getTestEnv("TEST_DB_PASSWORD", "postgres"),
		Database: getTestEnv("TEST_DB_NAME", "safetyconfig"),
		SSLMode:  getTestEnv("TEST_DB_SSLMODE", "disable"),
	}

	db, err := database.NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil
	}

	if err := db.Ping(); err != nil {
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
		return nil
	}

	return db
}

func getTestEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getTestEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// 创建测试设备
func createTestDevice(t *testing.T, db *sql.DB, deviceID, deviceType string) {
	_, err := db.Exec(
		`INSERT INTO devices (device_id, device_type, config_json)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (device_id) DO UPDATE SET device_type = EXCLUDED.device_type,
		     config_version = 0, config_pending = false, config_json = EXCLUDED.config_json, profile_id = NULL`,
		deviceID, deviceType, `{"camera": {"fps": 15}, "system": {"log_level": "INFO"}}`,
	)
	if err != nil {
		t.Fatalf("Failed to create test device: %v", err)
	}
}

// 清理测试数据
func cleanupTestDevice(t *testing.T, db *sql.DB, deviceID string) {
	db.Exec(`DELETE FROM device_config_history WHERE device_id = $1`, deviceID)
	db.Exec(`DELETE FROM devices WHERE device_id = $1`, deviceID)
}

// ============================================
// HistoryRepository 测试
// ============================================

func TestPostgresHistoryRepository_RecordChange(t *testing.T) {
	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	deviceID := "TEST-CAM-900"
	createTestDevice(t, db, deviceID, "dashcam")
	defer cleanupTestDevice(t, db, deviceID)

	repo := NewPostgresHistoryRepository(db)
	devices := NewPostgresDevicesRepository(db)
	ctx := context.Background()

	after := json.RawMessage(`{"camera": {"fps": 30}, "system": {"log_level": "DEBUG"}}`)
	rec, err := repo.RecordChange(ctx, &domain.ConfigHistory{
		DeviceID:       deviceID,
		ChangedBy:      "test-operator",
		ChangeType:     domain.ChangeManual,
		ConfigBefore:   json.RawMessage(`{"camera": {"fps": 15}, "system": {"log_level": "INFO"}}`),
		ConfigAfter:    after,
		ChangesSummary: "camera.fps: 15 -> 30",
	}, sql.NullString{})
	if err != nil {
		t.Fatalf("RecordChange failed: %v", err)
	}

	if rec.ID == 0 {
		t.Fatal("Expected non-zero history id")
	}
	if rec.Version != 1 {
		t.Errorf("Expected version 1, got %d", rec.Version)
	}
	if rec.Status != domain.StatusPending {
		t.Errorf("Expected status pending, got %s", rec.Status)
	}

	// 设备行同步更新
	device, err := devices.GetDevice(ctx, deviceID)
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if device.ConfigVersion != 1 {
		t.Errorf("Expected device version 1, got %d", device.ConfigVersion)
	}
	if !device.ConfigPending {
		t.Error("Expected config_pending = true")
	}

	t.Logf("✅ RecordChange test passed: id=%d", rec.ID)
}

func TestPostgresHistoryRepository_ConcurrentRecordChange(t *testing.T) {
	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	deviceID := "TEST-CAM-901"
	createTestDevice(t, db, deviceID, "dashcam")
	defer cleanupTestDevice(t, db, deviceID)

	repo := NewPostgresHistoryRepository(db)
	ctx := context.Background()

	// 并发写入同一设备：FOR UPDATE 串行化，版本不得重复
	const workers = 8
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			_, err := repo.RecordChange(ctx, &domain.ConfigHistory{
				DeviceID:    deviceID,
				ChangedBy:   "test-operator",
				ChangeType:  domain.ChangeManual,
				ConfigAfter: json.RawMessage(fmt.Sprintf(`{"camera": {"fps": %d}}`, 10+i)),
			}, sql.NullString{})
			errCh <- err
		}(i)
	}
	for i := 0; i < workers; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("Concurrent RecordChange failed: %v", err)
		}
	}

	records, total, err := repo.ListHistory(ctx, deviceID, nil, 1, 50)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if total != workers {
		t.Fatalf("Expected %d records, got %d", workers, total)
	}

	seen := make(map[int]bool)
	for _, rec := range records {
		if seen[rec.Version] {
			t.Errorf("Duplicate version %d", rec.Version)
		}
		seen[rec.Version] = true
	}

	t.Logf("✅ ConcurrentRecordChange test passed: %d records", total)
}

func TestPostgresHistoryRepository_MarkAppliedLatestVersionGuard(t *testing.T) {
	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	deviceID := "TEST-CAM-902"
	createTestDevice(t, db, deviceID, "dashcam")
	defer cleanupTestDevice(t, db, deviceID)

	repo := NewPostgresHistoryRepository(db)
	devices := NewPostgresDevicesRepository(db)
	ctx := context.Background()

	rec1, err := repo.RecordChange(ctx, &domain.ConfigHistory{
		DeviceID: deviceID, ChangedBy: "op", ChangeType: domain.ChangeManual,
		ConfigAfter: json.RawMessage(`{"camera": {"fps": 20}}`),
	}, sql.NullString{})
	if err != nil {
		t.Fatalf("RecordChange 1 failed: %v", err)
	}
	rec2, err := repo.RecordChange(ctx, &domain.ConfigHistory{
		DeviceID: deviceID, ChangedBy: "op", ChangeType: domain.ChangeManual,
		ConfigAfter: json.RawMessage(`{"camera": {"fps": 25}}`),
	}, sql.NullString{})
	if err != nil {
		t.Fatalf("RecordChange 2 failed: %v", err)
	}

	// 旧版本的迟到确认：记录置 applied，设备 pending 不动
	if err := repo.MarkApplied(ctx, rec1.ID, time.Now()); err != nil {
		t.Fatalf("MarkApplied rec1 failed: %v", err)
	}
	device, err := devices.GetDevice(ctx, deviceID)
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if !device.ConfigPending {
		t.Error("Expected config_pending to stay true after stale ack")
	}

	// 最新版本确认后清 pending
	if err := repo.MarkApplied(ctx, rec2.ID, time.Now()); err != nil {
		t.Fatalf("MarkApplied rec2 failed: %v", err)
	}
	device, err = devices.GetDevice(ctx, deviceID)
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if device.ConfigPending {
		t.Error("Expected config_pending = false after latest ack")
	}

	// 终态记录拒绝再次回执
	err = repo.MarkApplied(ctx, rec2.ID, time.Now())
	if _, ok := err.(*domain.StateError); !ok {
		t.Errorf("Expected StateError for double ack, got %v", err)
	}

	t.Logf("✅ MarkAppliedLatestVersionGuard test passed")
}

func TestPostgresHistoryRepository_MarkFailedAndRetryLink(t *testing.T) {
	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	deviceID := "TEST-CAM-903"
	createTestDevice(t, db, deviceID, "dashcam")
	defer cleanupTestDevice(t, db, deviceID)

	repo := NewPostgresHistoryRepository(db)
	ctx := context.Background()

	rec, err := repo.RecordChange(ctx, &domain.ConfigHistory{
		DeviceID: deviceID, ChangedBy: "op", ChangeType: domain.ChangeManual,
		ConfigAfter: json.RawMessage(`{"camera": {"fps": 20}}`),
	}, sql.NullString{})
	if err != nil {
		t.Fatalf("RecordChange failed: %v", err)
	}

	if err := repo.MarkFailed(ctx, rec.ID, "flash write failed"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	got, err := repo.GetHistory(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if got.Status != domain.StatusFailed {
		t.Errorf("Expected status failed, got %s", got.Status)
	}
	if got.ErrorMessage.String != "flash write failed" {
		t.Errorf("Expected error message, got %q", got.ErrorMessage.String)
	}

	// retry 记录 + 回链
	retry, err := repo.RecordChange(ctx, &domain.ConfigHistory{
		DeviceID: deviceID, ChangedBy: "op", ChangeType: domain.ChangeRetry,
		ConfigAfter:     got.ConfigAfter,
		SourceHistoryID: sql.NullInt64{Int64: rec.ID, Valid: true},
	}, sql.NullString{})
	if err != nil {
		t.Fatalf("RecordChange retry failed: %v", err)
	}
	if err := repo.SetRetriedBy(ctx, rec.ID, retry.ID); err != nil {
		t.Fatalf("SetRetriedBy failed: %v", err)
	}

	got, err = repo.GetHistory(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetHistory after retry failed: %v", err)
	}
	if !got.RetriedBy.Valid || got.RetriedBy.Int64 != retry.ID {
		t.Errorf("Expected retried_by = %d, got %v", retry.ID, got.RetriedBy)
	}

	t.Logf("✅ MarkFailedAndRetryLink test passed")
}

// ============================================
// ProfilesRepository 测试
// ============================================

func TestPostgresProfilesRepository_SetDefaultPartition(t *testing.T) {
	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	repo := NewPostgresProfilesRepository(db)
	ctx := context.Background()

	cleanup := func() {
		db.Exec(`DELETE FROM device_config_profiles WHERE name LIKE 'test-default-%'`)
	}
	cleanup()
	defer cleanup()

	idA, err := repo.CreateProfile(ctx, &domain.ConfigProfile{
		Name:       "test-default-a",
		DeviceType: sql.NullString{String: "dashcam", Valid: true},
		ConfigJSON: json.RawMessage(`{"camera": {"fps": 20}}`),
		CreatedBy:  "test",
	})
	if err != nil {
		t.Fatalf("CreateProfile a failed: %v", err)
	}
	idB, err := repo.CreateProfile(ctx, &domain.ConfigProfile{
		Name:       "test-default-b",
		DeviceType: sql.NullString{String: "dashcam", Valid: true},
		ConfigJSON: json.RawMessage(`{"camera": {"fps": 25}}`),
		CreatedBy:  "test",
	})
	if err != nil {
		t.Fatalf("CreateProfile b failed: %v", err)
	}

	if err := repo.SetDefault(ctx, idA); err != nil {
		t.Fatalf("SetDefault a failed: %v", err)
	}
	if err := repo.SetDefault(ctx, idB); err != nil {
		t.Fatalf("SetDefault b failed: %v", err)
	}

	gotA, err := repo.GetProfile(ctx, idA)
	if err != nil {
		t.Fatalf("GetProfile a failed: %v", err)
	}
	if gotA.IsDefault {
		t.Error("Expected profile a to lose default flag")
	}

	gotDefault, err := repo.GetDefaultForType(ctx, "dashcam")
	if err != nil {
		t.Fatalf("GetDefaultForType failed: %v", err)
	}
	if gotDefault.ID != idB {
		t.Errorf("Expected default profile %s, got %s", idB, gotDefault.ID)
	}

	t.Logf("✅ SetDefaultPartition test passed")
}

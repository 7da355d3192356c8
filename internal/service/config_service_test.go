package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NjCayao/safetySystem-sub000/internal/domain"
	"github.com/NjCayao/safetySystem-sub000/internal/repository"
	"github.com/NjCayao/safetySystem-sub000/internal/schema"
	"github.com/NjCayao/safetySystem-sub000/internal/store"
)

// testEnv 内存实现搭建的完整服务栈（DB/Redis 均不需要）
type testEnv struct {
	devices   *repository.MemoryDevicesRepository
	profiles  *repository.MemoryProfilesRepository
	history   *repository.MemoryHistoryRepository
	cache     *DesiredCache
	notifier  *recordingNotifier
	config    ConfigService
	profile   ProfileService
	rollout   RolloutService
	reconcile ReconcileService
}

// recordingNotifier 记录每次 pending 通知（断言出站行为用）
type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

type notifyCall struct {
	DeviceID  string
	HistoryID int64
	Version   int
}

func (n *recordingNotifier) NotifyPending(ctx context.Context, deviceID string, historyID int64, version int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{DeviceID: deviceID, HistoryID: historyID, Version: version})
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	devices := repository.NewMemoryDevicesRepository()
	profiles := repository.NewMemoryProfilesRepository()
	history := repository.NewMemoryHistoryRepository(devices)
	cache := NewDesiredCache(store.NewMemoryKV(), logger)
	notifier := &recordingNotifier{}
	notifiers := []Notifier{notifier}
	rules := schema.Default()

	return &testEnv{
		devices:   devices,
		profiles:  profiles,
		history:   history,
		cache:     cache,
		notifier:  notifier,
		config:    NewConfigService(devices, history, rules, cache, notifiers, logger),
		profile:   NewProfileService(profiles, devices, rules, logger),
		rollout:   NewRolloutService(devices, profiles, history, rules, cache, notifiers, 4, logger),
		reconcile: NewReconcileService(devices, history, cache, notifiers, logger),
	}
}

// seedDevice 注册一台设备（出厂默认配置，version=0）
func (e *testEnv) seedDevice(t *testing.T, deviceID, deviceType string) {
	t.Helper()
	raw, err := schema.DefaultDocument().ToJSON()
	require.NoError(t, err)
	require.NoError(t, e.devices.CreateDevice(context.Background(), &domain.Device{
		DeviceID:   deviceID,
		DeviceType: deviceType,
		ConfigJSON: raw,
	}))
}

func TestGetDeviceConfig(t *testing.T) {
	env := newTestEnv(t)
	env.seedDevice(t, "CAM-001", "dashcam")

	resp, err := env.config.GetDeviceConfig(context.Background(), GetDeviceConfigRequest{DeviceID: "CAM-001"})
	require.NoError(t, err)
	require.Equal(t, 0, resp.Device.ConfigVersion)
	require.False(t, resp.Device.ConfigPending)
	require.True(t, resp.Config.Equal(schema.DefaultDocument()))
}

func TestGetDeviceConfigNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.config.GetDeviceConfig(context.Background(), GetDeviceConfigRequest{DeviceID: "CAM-NOPE"})
	require.Error(t, err)
	require.True(t, domain.IsNotFound(err))
}

func TestUpdateDeviceConfig(t *testing.T) {
	env := newTestEnv(t)
	env.seedDevice(t, "CAM-001", "dashcam")
	ctx := context.Background()

	doc := schema.DefaultDocument()
	doc["fatigue"].(map[string]any)["ear_threshold"] = 0.3

	resp, err := env.config.UpdateDeviceConfig(ctx, UpdateDeviceConfigRequest{
		DeviceID: "CAM-001",
		Document: doc,
		Actor:    "operator-1",
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Record.Version)
	require.Equal(t, domain.ChangeManual, resp.Record.ChangeType)
	require.Equal(t, domain.StatusPending, resp.Record.Status)
	require.Len(t, resp.Changes, 1)
	require.Equal(t, "fatigue.ear_threshold", resp.Changes[0].Path)

	// 设备状态同步更新
	device, err := env.devices.GetDevice(ctx, "CAM-001")
	require.NoError(t, err)
	require.Equal(t, 1, device.ConfigVersion)
	require.True(t, device.ConfigPending)

	// 出站通知发出一次
	require.Equal(t, 1, env.notifier.count())

	// 缓存已刷新
	desired, ok := env.cache.Get(ctx, "CAM-001")
	require.True(t, ok)
	require.Equal(t, resp.Record.ID, desired.HistoryID)
	require.Equal(t, 1, desired.Version)
}

// 校验失败整体拒绝：不落账、版本不动
func TestUpdateDeviceConfigValidationRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedDevice(t, "CAM-001", "dashcam")
	ctx := context.Background()

	doc := schema.DefaultDocument()
	doc["fatigue"].(map[string]any)["ear_threshold"] = 0.9
	doc["camera"].(map[string]any)["fps"] = 200

	_, err := env.config.UpdateDeviceConfig(ctx, UpdateDeviceConfigRequest{
		DeviceID: "CAM-001",
		Document: doc,
		Actor:    "operator-1",
	})
	require.Error(t, err)

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Fields, 2)

	device, err := env.devices.GetDevice(ctx, "CAM-001")
	require.NoError(t, err)
	require.Equal(t, 0, device.ConfigVersion)
	require.False(t, device.ConfigPending)

	_, total, err := env.history.ListHistory(ctx, "CAM-001", nil, 1, 10)
	require.NoError(t, err)
	require.Zero(t, total)
	require.Zero(t, env.notifier.count())
}

// 无变化的更新仍然落账（可追溯），但不打扰设备
func TestUpdateDeviceConfigNoOp(t *testing.T) {
	env := newTestEnv(t)
	env.seedDevice(t, "CAM-001", "dashcam")
	ctx := context.Background()

	resp, err := env.config.UpdateDeviceConfig(ctx, UpdateDeviceConfigRequest{
		DeviceID: "CAM-001",
		Document: schema.DefaultDocument(),
		Actor:    "operator-1",
	})
	require.NoError(t, err)
	require.Empty(t, resp.Changes)
	require.Equal(t, 1, resp.Record.Version)
	require.Equal(t, "no changes", resp.Record.ChangesSummary)

	// 落账但不通知
	require.Zero(t, env.notifier.count())
	_, ok := env.cache.Get(ctx, "CAM-001")
	require.False(t, ok)
}

// 并发更新同一设备：版本必须严格单调、不重复
func TestUpdateDeviceConfigConcurrentVersions(t *testing.T) {
	env := newTestEnv(t)
	env.seedDevice(t, "CAM-001", "dashcam")
	ctx := context.Background()

	const workers = 16
	versions := make([]int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := schema.DefaultDocument()
			doc["camera"].(map[string]any)["fps"] = 10 + i%50
			resp, err := env.config.UpdateDeviceConfig(ctx, UpdateDeviceConfigRequest{
				DeviceID: "CAM-001",
				Document: doc,
				Actor:    "operator-1",
			})
			if err == nil {
				versions[i] = resp.Record.Version
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, v := range versions {
		require.Greater(t, v, 0)
		require.False(t, seen[v], "duplicate version %d", v)
		seen[v] = true
	}

	device, err := env.devices.GetDevice(ctx, "CAM-001")
	require.NoError(t, err)
	require.Equal(t, workers, device.ConfigVersion)
}

func TestListDevicesFilters(t *testing.T) {
	env := newTestEnv(t)
	env.seedDevice(t, "CAM-001", "dashcam")
	env.seedDevice(t, "CAM-002", "dashcam")
	env.seedDevice(t, "MON-001", "cabin_monitor")
	ctx := context.Background()

	// 制造一台 pending 设备
	doc := schema.DefaultDocument()
	doc["camera"].(map[string]any)["fps"] = 30
	_, err := env.config.UpdateDeviceConfig(ctx, UpdateDeviceConfigRequest{
		DeviceID: "CAM-002",
		Document: doc,
		Actor:    "operator-1",
	})
	require.NoError(t, err)

	resp, err := env.config.ListDevices(ctx, ListDevicesRequest{DeviceType: "dashcam"})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Total)

	resp, err = env.config.ListDevices(ctx, ListDevicesRequest{PendingOnly: true})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	require.Equal(t, "CAM-002", resp.Items[0].DeviceID)

	resp, err = env.config.ListDevices(ctx, ListDevicesRequest{SearchKeyword: "mon"})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
}

func TestGetHistoryOrderAndFilters(t *testing.T) {
	env := newTestEnv(t)
	env.seedDevice(t, "CAM-001", "dashcam")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		doc := schema.DefaultDocument()
		doc["camera"].(map[string]any)["fps"] = 20 + i
		_, err := env.config.UpdateDeviceConfig(ctx, UpdateDeviceConfigRequest{
			DeviceID: "CAM-001",
			Document: doc,
			Actor:    "operator-1",
		})
		require.NoError(t, err)
	}

	resp, err := env.config.GetHistory(ctx, GetHistoryRequest{DeviceID: "CAM-001"})
	require.NoError(t, err)
	require.Equal(t, 3, resp.Total)
	// 最新在前
	require.Equal(t, 3, resp.Items[0].Version)
	require.Equal(t, 1, resp.Items[2].Version)

	filtered, err := env.config.GetHistory(ctx, GetHistoryRequest{
		DeviceID: "CAM-001",
		Filters:  &repository.HistoryFilters{Status: string(domain.StatusPending)},
	})
	require.NoError(t, err)
	require.Equal(t, 3, filtered.Total)

	none, err := env.config.GetHistory(ctx, GetHistoryRequest{
		DeviceID: "CAM-001",
		Filters:  &repository.HistoryFilters{ChangeType: string(domain.ChangeProfile)},
	})
	require.NoError(t, err)
	require.Zero(t, none.Total)
}

func TestGetValidationRulesAndDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rules, err := env.config.GetValidationRules(ctx)
	require.NoError(t, err)
	require.Contains(t, rules, "fatigue.ear_threshold")

	defaults, err := env.config.GetDefaultConfig(ctx)
	require.NoError(t, err)
	require.True(t, defaults.Equal(schema.DefaultDocument()))

	// 返回的是副本，调用方修改不影响内部状态
	defaults["camera"].(map[string]any)["fps"] = 1
	again, err := env.config.GetDefaultConfig(ctx)
	require.NoError(t, err)
	require.True(t, again.Equal(schema.DefaultDocument()))
}

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NjCayao/safetySystem-sub000/internal/configdoc"
	"github.com/NjCayao/safetySystem-sub000/internal/domain"
)

func TestCreateProfileValidatesFragment(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.profile.CreateProfile(context.Background(), CreateProfileRequest{
		Name: "bad-fragment",
		Document: configdoc.Document{
			"fatigue": map[string]any{"ear_threshold": 0.9},
		},
		CreatedBy: "admin",
	})
	require.Error(t, err)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestCreateProfileUniqueNamePerScope(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "baseline", "dashcam")

	// 同名同作用域拒绝
	_, err := env.profile.CreateProfile(context.Background(), CreateProfileRequest{
		Name:       "baseline",
		DeviceType: "dashcam",
		Document:   configdoc.Document{"camera": map[string]any{"fps": 20}},
		CreatedBy:  "admin",
	})
	require.Error(t, err)

	// 同名不同作用域允许
	_, err = env.profile.CreateProfile(context.Background(), CreateProfileRequest{
		Name:       "baseline",
		DeviceType: "cabin_monitor",
		Document:   configdoc.Document{"camera": map[string]any{"fps": 20}},
		CreatedBy:  "admin",
	})
	require.NoError(t, err)

	// 通用作用域也是独立分区
	_, err = env.profile.CreateProfile(context.Background(), CreateProfileRequest{
		Name:      "baseline",
		Document:  configdoc.Document{"camera": map[string]any{"fps": 20}},
		CreatedBy: "admin",
	})
	require.NoError(t, err)
}

// 每个 device_type 分区（含通用分区）至多一个默认模板
func TestSetDefaultSinglePerPartition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedProfile(t, "profile-a", "dashcam")
	b := env.seedProfile(t, "profile-b", "dashcam")
	c := env.seedProfile(t, "profile-c", "cabin_monitor")

	require.NoError(t, env.profile.SetDefault(ctx, a.ID))
	require.NoError(t, env.profile.SetDefault(ctx, c.ID))

	// 同分区切换默认：旧默认被清
	require.NoError(t, env.profile.SetDefault(ctx, b.ID))

	gotA, err := env.profile.GetProfile(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, gotA.IsDefault)

	gotB, err := env.profile.GetProfile(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, gotB.IsDefault)

	// 其它分区的默认不受影响
	gotC, err := env.profile.GetProfile(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, gotC.IsDefault)
}

// 类型分区默认优先于通用默认
func TestGetDefaultForTypePrecedence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	universal := env.seedProfile(t, "universal-default", "")
	typed := env.seedProfile(t, "dashcam-default", "dashcam")

	require.NoError(t, env.profile.SetDefault(ctx, universal.ID))

	got, err := env.profiles.GetDefaultForType(ctx, "dashcam")
	require.NoError(t, err)
	require.Equal(t, universal.ID, got.ID)

	require.NoError(t, env.profile.SetDefault(ctx, typed.ID))
	got, err = env.profiles.GetDefaultForType(ctx, "dashcam")
	require.NoError(t, err)
	require.Equal(t, typed.ID, got.ID)

	// 无类型默认的设备类型仍回落到通用默认
	got, err = env.profiles.GetDefaultForType(ctx, "cabin_monitor")
	require.NoError(t, err)
	require.Equal(t, universal.ID, got.ID)
}

// 仍被设备引用的模板拒绝删除
func TestDeleteProfileInUseRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedDevice(t, "CAM-001", "dashcam")
	profile := env.seedProfile(t, "in-use", "dashcam")
	ctx := context.Background()

	_, err := env.rollout.ApplyProfile(ctx, ApplyProfileRequest{
		ProfileID: profile.ID, DeviceID: "CAM-001", Actor: "operator-1",
	})
	require.NoError(t, err)

	err = env.profile.DeleteProfile(ctx, profile.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "in use")

	// 设备改回手动配置后可删除
	device, err := env.devices.GetDevice(ctx, "CAM-001")
	require.NoError(t, err)
	doc, err := configdoc.FromJSON(device.ConfigJSON)
	require.NoError(t, err)
	doc["camera"].(map[string]any)["fps"] = float64(30)
	_, err = env.config.UpdateDeviceConfig(ctx, UpdateDeviceConfigRequest{
		DeviceID: "CAM-001", Document: doc, Actor: "operator-1",
	})
	require.NoError(t, err)

	require.NoError(t, env.profile.DeleteProfile(ctx, profile.ID))
}

// 模板更新不影响已套用该模板的设备
func TestUpdateProfileDoesNotTouchDevices(t *testing.T) {
	env := newTestEnv(t)
	env.seedDevice(t, "CAM-001", "dashcam")
	profile := env.seedProfile(t, "baseline", "dashcam")
	ctx := context.Background()

	_, err := env.rollout.ApplyProfile(ctx, ApplyProfileRequest{
		ProfileID: profile.ID, DeviceID: "CAM-001", Actor: "operator-1",
	})
	require.NoError(t, err)

	deviceBefore, err := env.devices.GetDevice(ctx, "CAM-001")
	require.NoError(t, err)

	_, err = env.profile.UpdateProfile(ctx, UpdateProfileRequest{
		ProfileID:  profile.ID,
		Name:       "baseline",
		DeviceType: "dashcam",
		Document: configdoc.Document{
			"fatigue": map[string]any{"ear_threshold": 0.2},
		},
	})
	require.NoError(t, err)

	deviceAfter, err := env.devices.GetDevice(ctx, "CAM-001")
	require.NoError(t, err)
	require.Equal(t, deviceBefore.ConfigVersion, deviceAfter.ConfigVersion)
	require.JSONEq(t, string(deviceBefore.ConfigJSON), string(deviceAfter.ConfigJSON))
}

func TestListProfilesFilters(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "dash-a", "dashcam")
	env.seedProfile(t, "dash-b", "dashcam")
	env.seedProfile(t, "any-a", "")
	ctx := context.Background()

	resp, err := env.profile.ListProfiles(ctx, ListProfilesRequest{DeviceType: "dashcam", IncludeUniversal: true})
	require.NoError(t, err)
	require.Equal(t, 3, resp.Total)

	resp, err = env.profile.ListProfiles(ctx, ListProfilesRequest{DeviceType: "dashcam"})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Total)
}

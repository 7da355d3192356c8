package service

import (
	"fmt"

	"github.com/NjCayao/safetySystem-sub000/internal/domain"
)

// CompatResult 兼容性检查结果
// Allowed=false 时 Reason 说明原因；force 覆盖类型不匹配时 Allowed=true
// 但 Reason 仍然保留（写进审计摘要）
type CompatResult struct {
	Allowed bool
	Forced  bool
	Reason  string
}

// CanApply 判断模板能否套用到设备
// 规则：device_type 为空的模板是通用模板，总是允许；
// 否则要求类型一致，force=true 可覆盖不匹配（原因仍记录）
func CanApply(profile *domain.ConfigProfile, device *domain.Device, force bool) CompatResult {
	if profile.IsUniversal() {
		return CompatResult{Allowed: true}
	}
	if profile.DeviceType.String == device.DeviceType {
		return CompatResult{Allowed: true}
	}
	reason := fmt.Sprintf("profile is for device type %q, device %s is %q",
		profile.DeviceType.String, device.DeviceID, device.DeviceType)
	if force {
		return CompatResult{Allowed: true, Forced: true, Reason: reason}
	}
	return CompatResult{Allowed: false, Reason: reason}
}

// AlreadyRunning 设备当前配置是否已来源于该模板（advisory 检查）
// 非 force 时批量路径产出 skipped；force 时无条件重新下发
// （设备端配置漂移后重推会用到）
func AlreadyRunning(profile *domain.ConfigProfile, device *domain.Device) bool {
	return device.ProfileID.Valid && device.ProfileID.String == profile.ID
}

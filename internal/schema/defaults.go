package schema

import (
	"github.com/NjCayao/safetySystem-sub000/internal/configdoc"
)

// Default 内置校验规则集（疲劳/行为检测设备的全部配置路径）
// 可通过 SCHEMA_FILE 指定的 YAML 文件覆盖（见 LoadFile）
func Default() Schema {
	return Schema{
		// camera
		"camera.fps":        {Type: TypeInt, Min: floatPtr(1), Max: floatPtr(60)},
		"camera.width":      {Type: TypeInt, Min: floatPtr(160), Max: floatPtr(1920)},
		"camera.height":     {Type: TypeInt, Min: floatPtr(120), Max: floatPtr(1080)},
		"camera.brightness": {Type: TypeInt, Min: floatPtr(0), Max: floatPtr(100)},
		"camera.use_threading": {Type: TypeBool},

		// fatigue（闭眼检测）
		"fatigue.ear_threshold":        {Type: TypeFloat, Min: floatPtr(0.1), Max: floatPtr(0.5)},
		"fatigue.ear_night_adjust":     {Type: TypeFloat, Min: floatPtr(0.0), Max: floatPtr(0.1)},
		"fatigue.frames_to_confirm":    {Type: TypeInt, Min: floatPtr(1), Max: floatPtr(10)},
		"fatigue.calibration_period":   {Type: TypeInt, Min: floatPtr(10), Max: floatPtr(120)},
		"fatigue.alarm_cooldown":       {Type: TypeInt, Min: floatPtr(1), Max: floatPtr(60)},
		"fatigue.night_mode_threshold": {Type: TypeInt, Min: floatPtr(0), Max: floatPtr(255)},

		// yawn（哈欠检测）
		"yawn.mouth_threshold":     {Type: TypeFloat, Min: floatPtr(0.3), Max: floatPtr(1.0)},
		"yawn.duration_threshold":  {Type: TypeFloat, Min: floatPtr(1.0), Max: floatPtr(5.0)},
		"yawn.window_size":         {Type: TypeInt, Min: floatPtr(60), Max: floatPtr(1800)},
		"yawn.max_yawns":           {Type: TypeInt, Min: floatPtr(1), Max: floatPtr(10)},
		"yawn.alert_cooldown":      {Type: TypeInt, Min: floatPtr(10), Max: floatPtr(600)},
		"yawn.enable_sounds":       {Type: TypeBool},

		// distraction（分神检测）
		"distraction.rotation_threshold_day":   {Type: TypeFloat, Min: floatPtr(0.5), Max: floatPtr(5.0)},
		"distraction.rotation_threshold_night": {Type: TypeFloat, Min: floatPtr(0.5), Max: floatPtr(5.0)},
		"distraction.level1_time":              {Type: TypeFloat, Min: floatPtr(1.0), Max: floatPtr(30.0)},
		"distraction.level2_time":              {Type: TypeFloat, Min: floatPtr(1.0), Max: floatPtr(60.0)},
		"distraction.visibility_threshold":     {Type: TypeInt, Min: floatPtr(1), Max: floatPtr(30)},

		// behavior（手机/吸烟等行为检测）
		"behavior.detection_confidence":    {Type: TypeFloat, Min: floatPtr(0.1), Max: floatPtr(1.0)},
		"behavior.night_confidence_adjust": {Type: TypeFloat, Min: floatPtr(0.0), Max: floatPtr(0.5)},
		"behavior.phone_alert_1":           {Type: TypeInt, Min: floatPtr(1), Max: floatPtr(60)},
		"behavior.phone_alert_2":           {Type: TypeInt, Min: floatPtr(1), Max: floatPtr(120)},
		"behavior.smoking_alert_1":         {Type: TypeInt, Min: floatPtr(1), Max: floatPtr(60)},
		"behavior.smoking_alert_2":         {Type: TypeInt, Min: floatPtr(1), Max: floatPtr(120)},

		// audio
		"audio.enabled":   {Type: TypeBool},
		"audio.volume":    {Type: TypeFloat, Min: floatPtr(0.0), Max: floatPtr(1.0)},
		"audio.frequency": {Type: TypeInt, Min: floatPtr(8000), Max: floatPtr(48000)},

		// system
		"system.enable_gui":   {Type: TypeBool},
		"system.debug_mode":   {Type: TypeBool},
		"system.auto_restart": {Type: TypeBool},
		"system.log_level":    {Type: TypeEnum, AllowedValues: []string{"DEBUG", "INFO", "WARNING", "ERROR"}},

		// sync（与服务端同步）
		"sync.enabled":       {Type: TypeBool},
		"sync.interval":      {Type: TypeInt, Min: floatPtr(10), Max: floatPtr(3600)},
		"sync.batch_size":    {Type: TypeInt, Min: floatPtr(1), Max: floatPtr(100)},
		"sync.max_retries":   {Type: TypeInt, Min: floatPtr(0), Max: floatPtr(10)},
		"sync.timeout":       {Type: TypeInt, Min: floatPtr(1), Max: floatPtr(120)},
	}
}

// DefaultDocument 出厂默认配置（ResetToDefault 使用，也是新注册设备的初始配置）
func DefaultDocument() configdoc.Document {
	return configdoc.Document{
		"camera": map[string]any{
			"fps":           15,
			"width":         640,
			"height":        480,
			"brightness":    50,
			"use_threading": true,
		},
		"fatigue": map[string]any{
			"ear_threshold":        0.25,
			"ear_night_adjust":     0.03,
			"frames_to_confirm":    2,
			"calibration_period":   30,
			"alarm_cooldown":       5,
			"night_mode_threshold": 50,
		},
		"yawn": map[string]any{
			"mouth_threshold":    0.6,
			"duration_threshold": 2.5,
			"window_size":        600,
			"max_yawns":          3,
			"alert_cooldown":     60,
			"enable_sounds":      true,
		},
		"distraction": map[string]any{
			"rotation_threshold_day":   2.6,
			"rotation_threshold_night": 2.8,
			"level1_time":              3.0,
			"level2_time":              7.0,
			"visibility_threshold":     15,
		},
		"behavior": map[string]any{
			"detection_confidence":    0.4,
			"night_confidence_adjust": 0.05,
			"phone_alert_1":           3,
			"phone_alert_2":           7,
			"smoking_alert_1":         3,
			"smoking_alert_2":         7,
		},
		"audio": map[string]any{
			"enabled":   true,
			"volume":    1.0,
			"frequency": 44100,
		},
		"system": map[string]any{
			"enable_gui":   false,
			"debug_mode":   false,
			"auto_restart": true,
			"log_level":    "INFO",
		},
		"sync": map[string]any{
			"enabled":     true,
			"interval":    300,
			"batch_size":  50,
			"max_retries": 3,
			"timeout":     30,
		},
	}
}

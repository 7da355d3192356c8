package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NjCayao/safetySystem-sub000/internal/configdoc"
)

func TestValidateDefaultDocument(t *testing.T) {
	errs := Default().Validate(DefaultDocument())
	require.Empty(t, errs, "factory defaults must pass the built-in rules")
}

// 校验收集全部违规，不在第一个错误处短路
func TestValidateCollectsAllViolations(t *testing.T) {
	doc := configdoc.Document{
		"fatigue": map[string]any{
			"ear_threshold": 0.9, // above max 0.5
		},
		"camera": map[string]any{
			"fps": 0, // below min 1
		},
		"system": map[string]any{
			"log_level": "TRACE", // not in allowed set
		},
	}

	errs := Default().Validate(doc)
	require.Len(t, errs, 3)

	// 按 path 排序
	require.Equal(t, "camera.fps", errs[0].Path)
	require.Equal(t, "fatigue.ear_threshold", errs[1].Path)
	require.Contains(t, errs[1].Message, "above maximum")
	require.Equal(t, "system.log_level", errs[2].Path)
	require.Contains(t, errs[2].Message, "not in allowed set")
}

func TestValidateUnknownParameter(t *testing.T) {
	doc := configdoc.Document{
		"camera": map[string]any{
			"fps":        15,
			"zoom_level": 3,
		},
	}

	errs := Default().Validate(doc)
	require.Len(t, errs, 1)
	require.Equal(t, "camera.zoom_level", errs[0].Path)
	require.Equal(t, "unknown parameter", errs[0].Message)
}

func TestValidateIntRejectsFraction(t *testing.T) {
	doc := configdoc.Document{
		"camera": map[string]any{
			"fps": 15.5,
		},
	}

	errs := Default().Validate(doc)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Message, "expected integer")
}

// JSON 反序列化产出的整数是 float64，必须按数值接受
func TestValidateIntAcceptsWholeFloat(t *testing.T) {
	doc := configdoc.Document{
		"camera": map[string]any{
			"fps": float64(30),
		},
	}

	require.Empty(t, Default().Validate(doc))
}

func TestValidateBoolTypeOnly(t *testing.T) {
	doc := configdoc.Document{
		"audio": map[string]any{
			"enabled": "yes",
		},
	}

	errs := Default().Validate(doc)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Message, "expected bool")
}

func TestValidateBoundaryValuesInclusive(t *testing.T) {
	doc := configdoc.Document{
		"fatigue": map[string]any{
			"ear_threshold": 0.5, // max 边界值合法
		},
		"camera": map[string]any{
			"fps": 1, // min 边界值合法
		},
	}

	require.Empty(t, Default().Validate(doc))
}

func TestMergeOverlayWins(t *testing.T) {
	base := Default()
	overlay := Schema{
		"fatigue.ear_threshold": {Type: TypeFloat, Min: floatPtr(0.2), Max: floatPtr(0.4)},
		"custom.new_param":      {Type: TypeInt, Min: floatPtr(0), Max: floatPtr(10)},
	}

	merged := base.Merge(overlay)

	r := merged["fatigue.ear_threshold"]
	require.Equal(t, 0.2, *r.Min)
	require.Equal(t, 0.4, *r.Max)
	require.Contains(t, merged, "custom.new_param")
	require.Contains(t, merged, "camera.fps")

	// base 不被修改
	require.Equal(t, 0.1, *base["fatigue.ear_threshold"].Min)
}

func TestLoadFile(t *testing.T) {
	content := `fatigue.ear_threshold:
  type: float
  min: 0.15
  max: 0.45
system.log_level:
  type: enum
  allowed_values: ["INFO", "ERROR"]
`
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, s, 2)

	r := s["fatigue.ear_threshold"]
	require.Equal(t, TypeFloat, r.Type)
	require.Equal(t, 0.15, *r.Min)
	require.Equal(t, 0.45, *r.Max)
	require.Equal(t, []string{"INFO", "ERROR"}, s["system.log_level"].AllowedValues)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("/nonexistent/rules.yaml")
	require.Error(t, err)
}

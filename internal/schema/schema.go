package schema

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/NjCayao/safetySystem-sub000/internal/configdoc"
)

// FieldType 参数类型
type FieldType string

const (
	TypeInt   FieldType = "int"
	TypeFloat FieldType = "float"
	TypeBool  FieldType = "bool"
	TypeEnum  FieldType = "enum"
)

// Rule 单个配置路径的校验规则
type Rule struct {
	Type          FieldType `yaml:"type" json:"type"`
	Min           *float64  `yaml:"min,omitempty" json:"min,omitempty"`
	Max           *float64  `yaml:"max,omitempty" json:"max,omitempty"`
	AllowedValues []string  `yaml:"allowed_values,omitempty" json:"allowed_values,omitempty"`
}

// FieldError 单条字段校验错误（带点分路径，调用方据此定位问题字段）
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Schema 配置文档校验规则集（点分路径 → Rule）
type Schema map[string]Rule

// Validate 校验整个配置文档
// 逐叶子独立检查，收集全部违规后一次性返回（不短路），调用方必须整体拒绝
// 纯函数，无副作用
func (s Schema) Validate(doc configdoc.Document) []FieldError {
	var errs []FieldError
	validateLevel(s, "", map[string]any(doc), &errs)
	sort.Slice(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
	return errs
}

func validateLevel(s Schema, prefix string, m map[string]any, errs *[]FieldError) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		v := m[k]
		if inner, ok := v.(map[string]any); ok {
			validateLevel(s, path, inner, errs)
			continue
		}
		if inner, ok := v.(configdoc.Document); ok {
			validateLevel(s, path, map[string]any(inner), errs)
			continue
		}

		rule, ok := s[path]
		if !ok {
			*errs = append(*errs, FieldError{Path: path, Message: "unknown parameter"})
			continue
		}
		if err := rule.check(v); err != nil {
			*errs = append(*errs, FieldError{Path: path, Message: err.Error()})
		}
	}
}

// check 校验单个叶子值
func (r Rule) check(v any) error {
	switch r.Type {
	case TypeBool:
		// bool 只检查类型，无范围概念
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		return nil

	case TypeInt:
		f, ok := numericValue(v)
		if !ok || f != float64(int64(f)) {
			return fmt.Errorf("expected integer, got %v", v)
		}
		return r.checkRange(f)

	case TypeFloat:
		f, ok := numericValue(v)
		if !ok {
			return fmt.Errorf("expected number, got %v", v)
		}
		return r.checkRange(f)

	case TypeEnum:
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		for _, allowed := range r.AllowedValues {
			if str == allowed {
				return nil
			}
		}
		return fmt.Errorf("value %q not in allowed set %v", str, r.AllowedValues)

	default:
		return fmt.Errorf("unsupported rule type %q", r.Type)
	}
}

func (r Rule) checkRange(f float64) error {
	if r.Min != nil && f < *r.Min {
		return fmt.Errorf("value %v below minimum %v", f, *r.Min)
	}
	if r.Max != nil && f > *r.Max {
		return fmt.Errorf("value %v above maximum %v", f, *r.Max)
	}
	return nil
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Merge 规则覆盖：overlay 中的路径覆盖/补充 base
func (s Schema) Merge(overlay Schema) Schema {
	out := make(Schema, len(s)+len(overlay))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// LoadFile 从 YAML 文件加载规则（点分路径 → Rule），用于覆盖内置规则
// 文件格式：
//   fatigue.ear_threshold:
//     type: float
//     min: 0.1
//     max: 0.5
func LoadFile(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}
	return s, nil
}

// Paths 返回排序后的全部规则路径
func (s Schema) Paths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func floatPtr(f float64) *float64 { return &f }

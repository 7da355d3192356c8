package configdoc

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Document 设备配置文档（嵌套 section → 参数 → 值 结构）
// 与 devices.config_json / device_config_profiles.config_json JSONB 对应
// 顶层 key 是 section（camera/fatigue/yawn/...），value 是该 section 的参数表
type Document map[string]any

// FromJSON 从 JSONB 原始数据解析配置文档
func FromJSON(raw json.RawMessage) (Document, error) {
	if len(raw) == 0 {
		return Document{}, nil
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// ToJSON 序列化为 JSONB 原始数据
func (d Document) ToJSON() (json.RawMessage, error) {
	if d == nil {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config document: %w", err)
	}
	return raw, nil
}

// Clone 深拷贝（经由 JSON 值类型，子树互不共享）
func (d Document) Clone() Document {
	if d == nil {
		return Document{}
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case Document:
		return map[string]any(val.Clone())
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return val
	}
}

// MergeSections 将 overlay 的 section 整体覆盖到 base 上
// overlay 中出现的 section 完整替换 base 的同名 section，
// 未出现的 section 保留 base 的现值（profile 套用语义）
func MergeSections(base, overlay Document) Document {
	out := base.Clone()
	for section, v := range overlay {
		out[section] = cloneValue(v)
	}
	return out
}

// Sections 返回排序后的 section 名称（确定性遍历用）
func (d Document) Sections() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValueAt 按点分路径取叶子值（如 "fatigue.ear_threshold"）
func (d Document) ValueAt(path string) (any, bool) {
	cur := any(map[string]any(d))
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			key := path[start:i]
			m, ok := asMap(cur)
			if !ok {
				return nil, false
			}
			next, ok := m[key]
			if !ok {
				return nil, false
			}
			cur = next
			start = i + 1
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

// valueEqual 值相等比较
// JSON 反序列化出来的数值统一是 float64，而内存中构造的文档可能用 int，
// 所以数值类型按数值比较，避免 30 != 30.0 这种假差异
func valueEqual(a, b any) bool {
	am, aok := asMap(a)
	bm, bok := asMap(b)
	if aok && bok {
		if len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !valueEqual(av, bv) {
				return false
			}
		}
		return true
	}
	if aok != bok {
		return false
	}

	as, aok := a.([]any)
	bs, bok := b.([]any)
	if aok && bok {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !valueEqual(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	if aok != bok {
		return false
	}

	af, aIsNum := asFloat(a)
	bf, bIsNum := asFloat(b)
	if aIsNum && bIsNum {
		return af == bf
	}
	if aIsNum != bIsNum {
		return false
	}

	return a == b
}

func asFloat(v any) (float64, bool) {
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Equal 文档值相等（与 Diff 为空等价）
func (d Document) Equal(other Document) bool {
	return valueEqual(map[string]any(d), map[string]any(other))
}

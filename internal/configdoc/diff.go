package configdoc

import (
	"fmt"
	"sort"
	"strings"
)

// ChangeKind 变更类型
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeChanged ChangeKind = "changed"
	ChangeRemoved ChangeKind = "removed"
)

// Change 单条结构化差异（点分路径 + 旧值/新值）
type Change struct {
	Path     string     `json:"path"`
	Kind     ChangeKind `json:"kind"`
	OldValue any        `json:"old_value,omitempty"`
	NewValue any        `json:"new_value,omitempty"`
}

// Diff 计算 before → after 的结构化差异
// 纯函数：key 排序后递归遍历，同样的输入总是产生同样的输出
// before 为 nil 时所有叶子都是 added
func Diff(before, after Document) []Change {
	changes := []Change{}
	diffMaps("", map[string]any(before), map[string]any(after), &changes)
	return changes
}

func diffMaps(prefix string, before, after map[string]any, changes *[]Change) {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		oldVal, inBefore := before[k]
		newVal, inAfter := after[k]

		switch {
		case inBefore && inAfter:
			om, ook := asMap(oldVal)
			nm, nok := asMap(newVal)
			if ook && nok {
				diffMaps(path, om, nm, changes)
				// after 侧把分区清成了空对象：删除叶子后父对象会被连带回收，
				// 补一条空对象标记让 ApplyChanges 把它重建出来
				if len(nm) == 0 && len(om) > 0 {
					*changes = append(*changes, Change{Path: path, Kind: ChangeAdded, NewValue: map[string]any{}})
				}
				continue
			}
			if !valueEqual(oldVal, newVal) {
				*changes = append(*changes, Change{Path: path, Kind: ChangeChanged, OldValue: oldVal, NewValue: newVal})
			}
		case inAfter:
			appendLeaves(path, newVal, ChangeAdded, changes)
		default:
			appendLeaves(path, oldVal, ChangeRemoved, changes)
		}
	}
}

// appendLeaves 展开嵌套对象：整个子树新增/删除时逐叶子产出 Change
// 空对象没有叶子，把对象本身当叶子，round-trip 才不丢空分区
func appendLeaves(path string, v any, kind ChangeKind, changes *[]Change) {
	if m, ok := asMap(v); ok {
		if len(m) == 0 {
			switch kind {
			case ChangeAdded:
				*changes = append(*changes, Change{Path: path, Kind: ChangeAdded, NewValue: map[string]any{}})
			default:
				*changes = append(*changes, Change{Path: path, Kind: ChangeRemoved, OldValue: map[string]any{}})
			}
			return
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			appendLeaves(path+"."+k, m[k], kind, changes)
		}
		return
	}
	switch kind {
	case ChangeAdded:
		*changes = append(*changes, Change{Path: path, Kind: ChangeAdded, NewValue: v})
	default:
		*changes = append(*changes, Change{Path: path, Kind: ChangeRemoved, OldValue: v})
	}
}

// ApplyChanges 把 Diff 的结果套用到文档上（added→插入, changed→覆盖, removed→删除）
// Diff(A,B) 套用到 A 必须精确还原 B（round-trip 性质，测试依赖）
func ApplyChanges(doc Document, changes []Change) Document {
	out := doc.Clone()
	for _, c := range changes {
		parts := strings.Split(c.Path, ".")
		switch c.Kind {
		case ChangeAdded, ChangeChanged:
			setPath(out, parts, c.NewValue)
		case ChangeRemoved:
			removePath(out, parts)
		}
	}
	return out
}

func setPath(doc Document, parts []string, value any) {
	cur := map[string]any(doc)
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = cloneValue(value)
			return
		}
		next, ok := asMap(cur[p])
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur[p] = next
		cur = next
	}
}

func removePath(doc Document, parts []string) {
	cur := map[string]any(doc)
	for i, p := range parts {
		if i == len(parts)-1 {
			delete(cur, p)
			break
		}
		next, ok := asMap(cur[p])
		if !ok {
			return
		}
		cur = next
	}
	// 回收删空的中间对象（整个 section 被 removed 时不留空壳）
	pruneEmpty(doc, parts[:len(parts)-1])
}

func pruneEmpty(doc Document, parts []string) {
	if len(parts) == 0 {
		return
	}
	cur := map[string]any(doc)
	maps := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		next, ok := asMap(cur[p])
		if !ok {
			return
		}
		maps = append(maps, cur)
		cur = next
	}
	for i := len(parts) - 1; i >= 0; i-- {
		child, _ := asMap(maps[i][parts[i]])
		if len(child) == 0 {
			delete(maps[i], parts[i])
		} else {
			return
		}
	}
}

// Summarize 生成人类可读的变更摘要（审计展示用）
func Summarize(changes []Change) string {
	if len(changes) == 0 {
		return "no changes"
	}
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		switch c.Kind {
		case ChangeAdded:
			parts = append(parts, fmt.Sprintf("%s: added %v", c.Path, c.NewValue))
		case ChangeChanged:
			parts = append(parts, fmt.Sprintf("%s: %v -> %v", c.Path, c.OldValue, c.NewValue))
		case ChangeRemoved:
			parts = append(parts, fmt.Sprintf("%s: removed (was %v)", c.Path, c.OldValue))
		}
	}
	return strings.Join(parts, "; ")
}

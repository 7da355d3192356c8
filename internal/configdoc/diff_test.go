package configdoc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleDoc() Document {
	return Document{
		"camera": map[string]any{
			"fps":           15,
			"use_threading": true,
		},
		"fatigue": map[string]any{
			"ear_threshold":     0.25,
			"frames_to_confirm": 2,
		},
		"system": map[string]any{
			"log_level": "INFO",
		},
	}
}

func TestDiffIdenticalDocuments(t *testing.T) {
	a := sampleDoc()
	b := sampleDoc()

	changes := Diff(a, b)
	require.Empty(t, changes)
	require.Equal(t, "no changes", Summarize(changes))
}

// int 与 float64 表示的同一数值不算差异（JSON 反序列化总是产出 float64）
func TestDiffNumericNormalization(t *testing.T) {
	a := Document{"camera": map[string]any{"fps": 15}}
	b := Document{"camera": map[string]any{"fps": float64(15)}}

	require.Empty(t, Diff(a, b))
}

func TestDiffAddedChangedRemoved(t *testing.T) {
	before := sampleDoc()
	after := sampleDoc()
	afterCamera := after["camera"].(map[string]any)
	afterCamera["fps"] = 30                // changed
	afterCamera["brightness"] = 60         // added
	delete(after, "system")                // removed (整个 section)

	changes := Diff(before, after)
	require.Len(t, changes, 3)

	// key 排序保证确定性输出
	require.Equal(t, "camera.brightness", changes[0].Path)
	require.Equal(t, ChangeAdded, changes[0].Kind)
	require.Equal(t, 60, changes[0].NewValue)

	require.Equal(t, "camera.fps", changes[1].Path)
	require.Equal(t, ChangeChanged, changes[1].Kind)
	require.Equal(t, 15, changes[1].OldValue)
	require.Equal(t, 30, changes[1].NewValue)

	require.Equal(t, "system.log_level", changes[2].Path)
	require.Equal(t, ChangeRemoved, changes[2].Kind)
	require.Equal(t, "INFO", changes[2].OldValue)
}

func TestDiffDeterministicOrder(t *testing.T) {
	before := Document{}
	after := sampleDoc()

	first := Diff(before, after)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Diff(before, after))
	}
	for i := 1; i < len(first); i++ {
		require.Less(t, first[i-1].Path, first[i].Path)
	}
}

// Diff(A,B) 套用到 A 必须精确还原 B
func TestApplyChangesRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		before Document
		after  Document
	}{
		{
			name:   "value changes",
			before: sampleDoc(),
			after: Document{
				"camera": map[string]any{
					"fps":           30,
					"use_threading": false,
				},
				"fatigue": map[string]any{
					"ear_threshold":     0.3,
					"frames_to_confirm": 2,
				},
				"system": map[string]any{
					"log_level": "DEBUG",
				},
			},
		},
		{
			name:   "section added",
			before: sampleDoc(),
			after: MergeSections(sampleDoc(), Document{
				"audio": map[string]any{"enabled": true, "volume": 0.8},
			}),
		},
		{
			name:   "section removed",
			before: sampleDoc(),
			after: Document{
				"camera": map[string]any{
					"fps":           15,
					"use_threading": true,
				},
			},
		},
		{
			name:   "from empty",
			before: Document{},
			after:  sampleDoc(),
		},
		{
			name:   "empty section added",
			before: Document{},
			after:  Document{"camera": map[string]any{}},
		},
		{
			name:   "empty section removed",
			before: Document{"camera": map[string]any{}, "system": map[string]any{"log_level": "INFO"}},
			after:  Document{"system": map[string]any{"log_level": "INFO"}},
		},
		{
			name:   "section emptied but retained",
			before: sampleDoc(),
			after: Document{
				"camera": map[string]any{},
				"fatigue": map[string]any{
					"ear_threshold":     0.25,
					"frames_to_confirm": 2,
				},
				"system": map[string]any{
					"log_level": "INFO",
				},
			},
		},
		{
			name:   "nested subtree emptied",
			before: Document{"camera": map[string]any{"roi": map[string]any{"x": 10, "y": 20}}},
			after:  Document{"camera": map[string]any{"roi": map[string]any{}}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			changes := Diff(tc.before, tc.after)
			got := ApplyChanges(tc.before, changes)
			require.True(t, got.Equal(tc.after), "round-trip mismatch: got %v, want %v", got, tc.after)
		})
	}
}

func TestApplyChangesDoesNotMutateInput(t *testing.T) {
	before := sampleDoc()
	after := Document{"camera": map[string]any{"fps": 30}}

	_ = ApplyChanges(before, Diff(before, after))
	require.True(t, before.Equal(sampleDoc()))
}

func TestSummarize(t *testing.T) {
	changes := []Change{
		{Path: "camera.fps", Kind: ChangeChanged, OldValue: 15, NewValue: 30},
		{Path: "audio.enabled", Kind: ChangeAdded, NewValue: true},
		{Path: "system.log_level", Kind: ChangeRemoved, OldValue: "INFO"},
	}

	got := Summarize(changes)
	require.Equal(t, "camera.fps: 15 -> 30; audio.enabled: added true; system.log_level: removed (was INFO)", got)
}

func TestMergeSectionsReplacesWholeSection(t *testing.T) {
	base := sampleDoc()
	overlay := Document{
		"camera": map[string]any{"fps": 30},
	}

	merged := MergeSections(base, overlay)

	// overlay 命中的 section 整体替换
	cam, ok := merged["camera"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, 30, cam["fps"])
	require.NotContains(t, cam, "use_threading")

	// 未命中的 section 保留
	fat, ok := merged["fatigue"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, 0.25, fat["ear_threshold"])

	// base 不被修改
	require.True(t, base.Equal(sampleDoc()))
}

func TestValueAt(t *testing.T) {
	doc := sampleDoc()

	v, ok := doc.ValueAt("fatigue.ear_threshold")
	require.True(t, ok)
	require.Equal(t, 0.25, v)

	_, ok = doc.ValueAt("fatigue.missing")
	require.False(t, ok)
}

func TestJSONRoundTrip(t *testing.T) {
	doc := sampleDoc()
	raw, err := doc.ToJSON()
	require.NoError(t, err)

	parsed, err := FromJSON(raw)
	require.NoError(t, err)
	require.True(t, doc.Equal(parsed))
}

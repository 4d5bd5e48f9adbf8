package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValue_RoundTrip(t *testing.T) {
	// Test case 1: scalar kinds survive a marshal/unmarshal cycle
	metadata := map[string]Value{
		"component": String("resolver"),
		"points":    Number(3),
		"approved":  Bool(true),
		"reviewers": List("ava", "ben"),
	}

	data, err := json.Marshal(metadata)
	require.NoError(t, err)

	var decoded map[string]Value
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, String("resolver"), decoded["component"])
	require.Equal(t, Number(3), decoded["points"])
	require.Equal(t, Bool(true), decoded["approved"])
	require.Equal(t, ValueKindList, decoded["reviewers"].Kind)
	require.Equal(t, []string{"ava", "ben"}, decoded["reviewers"].List)
}

func TestValue_RawEscapeHatch(t *testing.T) {
	// Unknown shapes pass through untouched
	input := []byte(`{"nested":{"a":1,"b":[true,2]}}`)

	var decoded map[string]Value
	require.NoError(t, json.Unmarshal(input, &decoded))
	require.Equal(t, ValueKindRaw, decoded["nested"].Kind)
	require.JSONEq(t, `{"a":1,"b":[true,2]}`, string(decoded["nested"].Raw))

	out, err := json.Marshal(decoded)
	require.NoError(t, err)
	require.JSONEq(t, string(input), string(out))
}

func TestValue_NullIsRaw(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`null`), &v))
	require.Equal(t, ValueKindRaw, v.Kind)
}

func TestTask_Clone(t *testing.T) {
	estimated := 4.0
	task := &Task{
		ID:        1,
		Title:     "Original",
		Status:    TaskStatusTodo,
		Estimated: &estimated,
		Tags:      []string{"a"},
		Metadata:  map[string]Value{"k": String("v")},
	}

	clone := task.Clone()
	clone.Tags[0] = "b"
	clone.Metadata["k"] = String("w")
	*clone.Estimated = 9

	require.Equal(t, "a", task.Tags[0])
	require.Equal(t, String("v"), task.Metadata["k"])
	require.Equal(t, 4.0, *task.Estimated)
}

func TestTaskChanges_Empty(t *testing.T) {
	require.True(t, TaskChanges{}.Empty())

	title := "x"
	require.False(t, TaskChanges{Title: &title}.Empty())
}

package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type record struct {
	Name  string  `json:"name"`
	Count int     `json:"count,omitempty"`
	Note  *string `json:"note"`
	Plain bool
	inner int
}

func TestDiff(t *testing.T) {
	a, b := "a", "b"
	old := &record{Name: "x", Count: 1, Note: &a, Plain: true, inner: 1}
	next := &record{Name: "x", Count: 2, Note: &b, Plain: false, inner: 2}

	changes := Diff(old, next, []string{"name", "count", "note", "plain"})

	assert.Len(t, changes, 3)
	assert.Equal(t, map[string]interface{}{"old": 1, "new": 2}, changes["count"])
	assert.Contains(t, changes, "note")
	assert.Contains(t, changes, "plain")
	assert.NotContains(t, changes, "name")
}

func TestDiffPointeeEquality(t *testing.T) {
	a1, a2 := "same", "same"
	changes := Diff(record{Note: &a1}, record{Note: &a2}, []string{"note"})
	assert.Empty(t, changes)
}

func TestDiffUntrackedFieldsIgnored(t *testing.T) {
	changes := Diff(record{Count: 1}, record{Count: 5}, []string{"name"})
	assert.Empty(t, changes)
	assert.Empty(t, Diff(nil, record{}, []string{"name"}))
}

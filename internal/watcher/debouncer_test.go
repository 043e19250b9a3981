package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case events := <-d.Output():
		return events
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for debounced events")
		return nil
	}
}

func TestDebouncer_SingleEvent_PassesThrough(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	// When: one event is added
	d.Add(FileEvent{Path: "progress.json", Operation: OpCreate, Timestamp: time.Now()})

	// Then: it is emitted after the window
	events := receive(t, d)
	require.Len(t, events, 1)
	assert.Equal(t, "progress.json", events[0].Path)
	assert.Equal(t, OpCreate, events[0].Operation)
}

func TestDebouncer_Coalescing(t *testing.T) {
	tests := []struct {
		name   string
		ops    []Operation
		want   Operation
		absent bool
	}{
		{"modify bursts merge", []Operation{OpModify, OpModify, OpModify}, OpModify, false},
		{"create then modify stays create", []Operation{OpCreate, OpModify}, OpCreate, false},
		{"create then delete cancels", []Operation{OpCreate, OpDelete}, 0, true},
		{"delete then create is a replace", []Operation{OpDelete, OpCreate}, OpModify, false},
		{"modify then delete is delete", []Operation{OpModify, OpDelete}, OpDelete, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(30 * time.Millisecond)
			defer d.Stop()

			for _, op := range tt.ops {
				d.Add(FileEvent{Path: "a", Operation: op, Timestamp: time.Now()})
			}
			// A second path guarantees a batch even when "a" cancels out.
			d.Add(FileEvent{Path: "b", Operation: OpModify, Timestamp: time.Now()})

			events := receive(t, d)
			byPath := map[string]Operation{}
			for _, e := range events {
				byPath[e.Path] = e.Operation
			}
			got, ok := byPath["a"]
			if tt.absent {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDebouncer_BatchIsSortedByPath(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	for _, p := range []string{"c", "a", "b"} {
		d.Add(FileEvent{Path: p, Operation: OpModify})
	}

	events := receive(t, d)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{events[0].Path, events[1].Path, events[2].Path})
}

func TestDebouncer_StopIsIdempotent(t *testing.T) {
	d := NewDebouncer(time.Hour)
	d.Add(FileEvent{Path: "a", Operation: OpModify})

	d.Stop()
	d.Stop()
	d.Add(FileEvent{Path: "b", Operation: OpModify})

	_, open := <-d.Output()
	assert.False(t, open)
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "rename", OpRename.String())
	assert.Equal(t, "unknown", Operation(0).String())
}

func TestChangedPaths(t *testing.T) {
	batch := []FileEvent{
		{Path: "a.json", Operation: OpModify},
		{Path: "b.json", Operation: OpDelete},
		{Path: "c.json", Operation: OpCreate},
		{Path: "d.json", Operation: OpRename},
	}

	assert.Equal(t, "a.json, c.json", changedPaths(batch))
	assert.Empty(t, changedPaths(nil))
}

package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManager(t *testing.T) {
	manager := NewManager(testLogger())
	config := Config{MaxFailures: 1, OpenTimeout: time.Minute}

	storage := manager.GetOrCreate(Storage, config)
	assert.Same(t, storage, manager.GetOrCreate(Storage, config))
	assert.Equal(t, Storage, storage.Name())

	events := manager.GetOrCreate(Events, config)
	assert.NotSame(t, storage, events)
	assert.Same(t, events, manager.Get(Events))
	assert.Nil(t, manager.Get("missing"))

	assert.True(t, manager.Healthy())
	_ = events.Execute(context.Background(), fail)
	assert.False(t, manager.Healthy())

	metrics := manager.AllMetrics()
	assert.Len(t, metrics, 2)
	assert.Equal(t, "open", metrics[Events].(map[string]interface{})["state"])

	assert.True(t, manager.Reset(Events))
	assert.False(t, manager.Reset("missing"))
	assert.True(t, manager.Healthy())
}

package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeno/docmodel/persistence"
	"github.com/lumeno/docmodel/storage"
)

func v9Record(created time.Time) map[string]any {
	return map[string]any{
		"version": 9,
		"uuid":    uuid.NewString(),
		"created": persistence.FormatTime(created),
	}
}

func TestReadVersionStats(t *testing.T) {
	memory := storage.NewMemorySystem()
	current := NewDataItem()
	memory.SetRecord("current", current.WriteToDict(), nil)
	memory.SetRecord("older", v9Record(time.Now().UTC()), nil)
	memory.SetRecord("newer", map[string]any{"version": 99, "uuid": uuid.NewString()}, nil)

	stats := ReadVersionStats([]storage.System{memory})
	assert.Equal(t, VersionStats{Matches: 1, Higher: 1, Lower: 1}, stats)
}

func TestMigrateStorageDryRun(t *testing.T) {
	memory := storage.NewMemorySystem()
	memory.SetRecord("older", v9Record(time.Now().UTC()), nil)

	changed, err := MigrateStorage([]storage.System{memory}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	// dry run leaves storage at the old version
	stats := ReadVersionStats([]storage.System{memory})
	assert.Equal(t, 1, stats.Lower)

	changed, err = MigrateStorage([]storage.System{memory}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	stats = ReadVersionStats([]storage.System{memory})
	assert.Equal(t, VersionStats{Matches: 1}, stats)
}

func TestReadDataItemsMigratesAndSorts(t *testing.T) {
	memory := storage.NewMemorySystem()
	older := v9Record(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC))
	memory.SetRecord("older", older, nil)
	newer := NewDataItem()
	newer.object.SetPropertyValue("created", persistence.FormatTime(time.Date(2023, 5, 6, 0, 0, 0, 0, time.UTC)))
	memory.SetRecord("newer", newer.WriteToDict(), nil)

	records := readDataItems([]storage.System{memory}, ReadOptions{})
	require.Len(t, records, 2)
	assert.Equal(t, older["uuid"], records[0].item.UUID().String())
	assert.Equal(t, newer.UUID(), records[1].item.UUID())
}

func TestReadDataItemsIgnoreOlderFiles(t *testing.T) {
	memory := storage.NewMemorySystem()
	memory.SetRecord("older", v9Record(time.Now().UTC()), nil)
	records := readDataItems([]storage.System{memory}, ReadOptions{IgnoreOlderFiles: true})
	assert.Empty(t, records)
}

func TestReadDataItemsDeduplicates(t *testing.T) {
	memory := storage.NewMemorySystem()
	item := NewDataItem()
	memory.SetRecord("one", item.WriteToDict(), nil)
	memory.SetRecord("two", item.WriteToDict(), nil)
	records := readDataItems([]storage.System{memory}, ReadOptions{})
	assert.Len(t, records, 1)
}

package model

import (
	"sort"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/lumeno/docmodel/migration"
	"github.com/lumeno/docmodel/storage"
)

// ReadOptions control the library read pipeline.
type ReadOptions struct {
	// IgnoreOlderFiles skips migration so that records below the writer
	// version simply do not load.
	IgnoreOlderFiles bool
	// DryRun suppresses writing migrated properties back to storage.
	DryRun bool
	// LogMigrations enables per-record migration logging.
	LogMigrations bool
}

// itemRecord pairs a constructed data item with its storage adapter.
type itemRecord struct {
	item        *DataItem
	itemStorage *storage.ItemStorage
}

// collectReaderInfos reads every record's properties across the systems.
// Records that fail to read are logged and skipped.
func collectReaderInfos(systems []storage.System) []*migration.ReaderInfo {
	var infos []*migration.ReaderInfo
	for _, system := range systems {
		handlers, err := system.FindDataItems()
		if err != nil {
			glog.Errorf("find data items: %v", err)
			continue
		}
		for _, handler := range handlers {
			properties, err := handler.ReadProperties()
			if err != nil {
				glog.Errorf("read %s: %v", handler.Reference(), err)
				continue
			}
			infos = append(infos, &migration.ReaderInfo{Properties: properties, Handler: handler})
		}
	}
	return infos
}

// readDataItems runs the full pipeline: enumerate, migrate, rewrite changed
// records, construct items, then sort by creation date. Callers must still
// invoke FinishReading on each returned item.
func readDataItems(systems []storage.System, options ReadOptions) []*itemRecord {
	infos := collectReaderInfos(systems)
	if !options.IgnoreOlderFiles {
		migration.MigrateToLatest(infos)
	}
	byUUID := map[uuid.UUID]*itemRecord{}
	for _, info := range infos {
		version := migration.Version(info.Properties)
		if version != migration.WriterVersion {
			if version > migration.WriterVersion {
				glog.Warningf("skipping %s: version %d is newer than writer version %d",
					info.Handler.Reference(), version, migration.WriterVersion)
			}
			continue
		}
		uuidStr, _ := info.Properties["uuid"].(string)
		itemUUID, err := uuid.Parse(uuidStr)
		if err != nil {
			glog.Errorf("skipping %s: bad uuid %q", info.Handler.Reference(), uuidStr)
			continue
		}
		if info.Changed && !options.DryRun {
			if err := info.Handler.WriteProperties(deepCopyDict(info.Properties), time.Now().UTC()); err != nil {
				glog.Errorf("rewrite %s: %v", info.Handler.Reference(), err)
			}
		}
		item := NewDataItem()
		item.object.SetUUID(itemUUID)
		item.object.BeginReading()
		itemStorage := storage.NewItemStorage(info.Handler, item, info.Properties)
		item.ReadFromDict(itemStorage.Properties())
		if options.LogMigrations {
			if _, dup := byUUID[itemUUID]; dup {
				glog.Warningf("duplicate data item %s", itemUUID)
			}
		}
		byUUID[itemUUID] = &itemRecord{item: item, itemStorage: itemStorage}
	}
	records := make([]*itemRecord, 0, len(byUUID))
	for _, record := range byUUID {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].item.Created().Before(records[j].item.Created())
	})
	return records
}

// VersionStats counts records at, above, and below the writer version
// without migrating anything.
type VersionStats struct {
	Matches int
	Higher  int
	Lower   int
}

// ReadVersionStats inspects every record across the systems and reports how
// its version compares to the writer version.
func ReadVersionStats(systems []storage.System) VersionStats {
	var stats VersionStats
	for _, info := range collectReaderInfos(systems) {
		version := migration.Version(info.Properties)
		switch {
		case version < migration.WriterVersion:
			stats.Lower++
		case version > migration.WriterVersion:
			stats.Higher++
		default:
			stats.Matches++
		}
	}
	return stats
}

// MigrateStorage migrates every record across the systems in place,
// returning the number of records rewritten. With dryRun, nothing is
// written and the count reflects what would change.
func MigrateStorage(systems []storage.System, dryRun bool) (int, error) {
	infos := collectReaderInfos(systems)
	migration.MigrateToLatest(infos)
	changed := 0
	for _, info := range infos {
		if !info.Changed {
			continue
		}
		changed++
		if dryRun {
			continue
		}
		if err := info.Handler.WriteProperties(deepCopyDict(info.Properties), time.Now().UTC()); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

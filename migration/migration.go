// Package migration upgrades persisted data item records, one version at a
// time, up to the current writer version. Each step is a pure transform over
// the record's properties dict; steps run strictly in order and a failing
// record is logged and left behind without stopping the batch.
package migration

import (
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/lumeno/docmodel/persistence"
	"github.com/lumeno/docmodel/storage"
)

// WriterVersion is the record version this library writes. Records with a
// higher version are left untouched and skipped by the reader.
const WriterVersion = 10

// ReaderInfo pairs a record's properties with the handler it was read from.
// Changed marks records that need rewriting after migration.
type ReaderInfo struct {
	Properties map[string]any
	Changed    bool
	Handler    storage.Handler
}

// MigrateToLatest applies every migration step in order. Dirty records are
// marked Changed; the caller decides whether to rewrite them (dry-run mode
// leaves storage untouched).
func MigrateToLatest(infos []*ReaderInfo) {
	migrateToV2(infos)
	migrateToV3(infos)
	migrateToV4(infos)
	migrateToV5(infos)
	migrateToV6(infos)
	migrateToV7(infos)
	migrateToV8(infos)
	migrateToV9(infos)
	migrateToV10(infos)
}

// Version reads the record version, tolerating numeric json decodings.
func Version(properties map[string]any) int {
	return intValue(properties["version"])
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}

func dictValue(m map[string]any, key string) map[string]any {
	d, _ := m[key].(map[string]any)
	return d
}

func listValue(m map[string]any, key string) []any {
	l, _ := m[key].([]any)
	return l
}

func stringValue(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func setDefault(m map[string]any, key string, value any) any {
	if existing, ok := m[key]; ok {
		return existing
	}
	m[key] = value
	return value
}

func setDefaultDict(m map[string]any, key string) map[string]any {
	if d, ok := m[key].(map[string]any); ok {
		return d
	}
	d := map[string]any{}
	m[key] = d
	return d
}

func newUUID() string { return uuid.NewString() }

// migrateToV2 folds the flat legacy record into the v2 layout: calibrations
// renamed to intrinsic_*, hardware source properties relocated, dtype and
// shape recovered from the raw array, and a fresh uuid assigned.
func migrateToV2(infos []*ReaderInfo) {
	for _, info := range infos {
		properties := info.Properties
		if Version(properties) > 1 {
			continue
		}
		if v, ok := properties["spatial_calibrations"]; ok {
			properties["intrinsic_spatial_calibrations"] = v
			delete(properties, "spatial_calibrations")
		}
		if v, ok := properties["intensity_calibration"]; ok {
			properties["intrinsic_intensity_calibration"] = v
			delete(properties, "intensity_calibration")
		}
		delete(properties, "data_source_uuid")
		if old, ok := properties["properties"].(map[string]any); ok {
			hardwareSource := setDefaultDict(properties, "hardware_source")
			for k, v := range old {
				hardwareSource[k] = v
			}
			delete(hardwareSource, "session_uuid")
			delete(properties, "properties")
		}
		if info.Handler != nil {
			if data, err := info.Handler.ReadData(); err == nil && data != nil {
				properties["master_data_dtype"] = string(data.DType)
				shape := make([]any, len(data.Shape))
				for i, n := range data.Shape {
					shape[i] = n
				}
				properties["master_data_shape"] = shape
			}
		}
		properties["displays"] = []any{map[string]any{}}
		properties["uuid"] = newUUID()
		properties["version"] = 2
		info.Changed = true
		logMigration(info, "ndata1")
	}
}

// migrateToV3 assigns uuids to displays, graphics, and operations.
func migrateToV3(infos []*ReaderInfo) {
	for _, info := range infos {
		properties := info.Properties
		if Version(properties) != 2 {
			continue
		}
		for _, d := range listValue(properties, "displays") {
			if display, ok := d.(map[string]any); ok {
				setDefault(display, "uuid", newUUID())
				for _, g := range listValue(display, "graphics") {
					if graphic, ok := g.(map[string]any); ok {
						setDefault(graphic, "uuid", newUUID())
					}
				}
			}
		}
		for _, o := range listValue(properties, "operations") {
			if operation, ok := o.(map[string]any); ok {
				setDefault(operation, "uuid", newUUID())
			}
		}
		properties["version"] = 3
		info.Changed = true
		logMigration(info, "add uuids")
	}
}

// migrateToV4 renames calibration origin to offset.
func migrateToV4(infos []*ReaderInfo) {
	renameOrigin := func(calibration map[string]any) {
		if v, ok := calibration["origin"]; ok {
			calibration["offset"] = v
			delete(calibration, "origin")
		}
	}
	for _, info := range infos {
		properties := info.Properties
		if Version(properties) != 3 {
			continue
		}
		if calibration := dictValue(properties, "intrinsic_intensity_calibration"); calibration != nil {
			renameOrigin(calibration)
		}
		for _, c := range listValue(properties, "intrinsic_spatial_calibrations") {
			if calibration, ok := c.(map[string]any); ok {
				renameOrigin(calibration)
			}
		}
		properties["version"] = 4
		info.Changed = true
		logMigration(info, "calibration offset")
	}
}

// migrateToV5 converts the single region_uuid into the region_connections map.
func migrateToV5(infos []*ReaderInfo) {
	for _, info := range infos {
		properties := info.Properties
		if Version(properties) != 4 {
			continue
		}
		for _, o := range listValue(properties, "operations") {
			operation, ok := o.(map[string]any)
			if !ok {
				continue
			}
			regionUUID, hasRegion := operation["region_uuid"]
			if !hasRegion {
				continue
			}
			switch stringValue(operation, "operation_id") {
			case "crop-operation":
				operation["region_connections"] = map[string]any{"crop": regionUUID}
				delete(operation, "region_uuid")
			case "line-profile-operation":
				operation["region_connections"] = map[string]any{"line": regionUUID}
				delete(operation, "region_uuid")
			}
		}
		properties["version"] = 5
		info.Changed = true
		logMigration(info, "region_uuid")
	}
}

// migrateToV6 collapses the operations list to a single operation and turns
// the data_sources uuid list into data-item-data-source dicts.
func migrateToV6(infos []*ReaderInfo) {
	for _, info := range infos {
		properties := info.Properties
		if Version(properties) != 5 {
			continue
		}
		operations := listValue(properties, "operations")
		if len(operations) == 1 {
			if operation, ok := operations[0].(map[string]any); ok {
				operation["type"] = "operation"
				properties["operation"] = operation
				if sources := listValue(properties, "data_sources"); len(sources) > 0 {
					newSources := make([]any, 0, len(sources))
					for _, s := range sources {
						newSources = append(newSources, map[string]any{"type": "data-item-data-source", "data_item_uuid": s})
					}
					operation["data_sources"] = newSources
				}
			}
		}
		delete(properties, "operations")
		delete(properties, "data_sources")
		if v, ok := properties["intrinsic_intensity_calibration"]; ok {
			properties["intensity_calibration"] = v
			delete(properties, "intrinsic_intensity_calibration")
		}
		if v, ok := properties["intrinsic_spatial_calibrations"]; ok {
			properties["dimensional_calibrations"] = v
			delete(properties, "intrinsic_spatial_calibrations")
		}
		properties["version"] = 6
		info.Changed = true
		logMigration(info, "operation hierarchy")
	}
}

// migrateToV7 wraps data fields into a buffered-data-source dict; source
// operations reference the new buffered data source uuids.
func migrateToV7(infos []*ReaderInfo) {
	lookup := map[string]string{}
	bufferedUUID := func(itemUUID string) string {
		if u, ok := lookup[itemUUID]; ok {
			return u
		}
		u := newUUID()
		lookup[itemUUID] = u
		return u
	}
	for _, info := range infos {
		properties := info.Properties
		if Version(properties) != 6 {
			continue
		}
		bufferedDict := map[string]any{
			"type": "buffered-data-source",
			"uuid": bufferedUUID(stringValue(properties, "uuid")),
		}
		_, hasShape := properties["master_data_shape"]
		_, hasDType := properties["master_data_dtype"]
		includeData := hasShape && hasDType
		for from, to := range map[string]string{
			"intensity_calibration":    "intensity_calibration",
			"dimensional_calibrations": "dimensional_calibrations",
			"master_data_shape":        "data_shape",
			"master_data_dtype":        "data_dtype",
			"displays":                 "displays",
			"regions":                  "regions",
		} {
			if v, ok := properties[from]; ok {
				bufferedDict[to] = v
				delete(properties, from)
			}
		}
		operation, hasOperation := properties["operation"].(map[string]any)
		if hasOperation {
			delete(properties, "operation")
			bufferedDict["data_source"] = operation
			for _, s := range listValue(operation, "data_sources") {
				if source, ok := s.(map[string]any); ok {
					source["buffered_data_source_uuid"] = bufferedUUID(stringValue(source, "data_item_uuid"))
					delete(source, "data_item_uuid")
				}
			}
		}
		if includeData || hasOperation {
			properties["data_sources"] = []any{bufferedDict}
		}
		properties["version"] = 7
		info.Changed = true
		logMigration(info, "buffered data sources")
	}
}

// Keys left at the item level during the v7 to v8 metadata move. Everything
// else migrates into the data source metadata dict.
var v8ExcludedKeys = map[string]bool{
	"rating": true, "datetime_original": true, "title": true,
	"source_file_path": true, "session_id": true, "caption": true,
	"flag": true, "datetime_modified": true, "connections": true,
	"data_sources": true, "uuid": true, "reader_version": true,
	"version": true, "metadata": true,
}

// migrateToV8 moves free-form metadata under the data source, builds the
// description metadata dict, and normalizes created/modified timestamps from
// the legacy datetime_original item.
func migrateToV8(infos []*ReaderInfo) {
	for _, info := range infos {
		properties := info.Properties
		if Version(properties) != 7 {
			continue
		}
		sources := listValue(properties, "data_sources")
		descriptionMetadata := setDefaultDict(setDefaultDict(properties, "metadata"), "description")
		sourceDict := map[string]any{}
		if len(sources) == 1 {
			sourceDict, _ = sources[0].(map[string]any)
			if sourceDict == nil {
				sourceDict = map[string]any{}
			}
			for key, value := range properties {
				if !v8ExcludedKeys[key] {
					setDefaultDict(sourceDict, "metadata")[key] = value
					delete(properties, key)
				}
			}
			for _, key := range []string{"caption", "flag", "rating", "title"} {
				if v, ok := properties[key]; ok {
					descriptionMetadata[key] = v
					delete(properties, key)
				}
			}
		}
		datetimeOriginal := dictValue(properties, "datetime_original")
		dstValue := "+00"
		tzValue := "+0000"
		if datetimeOriginal != nil {
			if s := stringValue(datetimeOriginal, "dst"); s != "" {
				dstValue = s
			}
			if s := stringValue(datetimeOriginal, "tz"); s != "" {
				tzValue = s
			}
		}
		dstAdjust, _ := strconv.Atoi(dstValue)
		tzAdjust := 0
		if len(tzValue) >= 5 {
			hours, _ := strconv.Atoi(tzValue[0:3])
			minutes, _ := strconv.Atoi(tzValue[3:5])
			tzAdjust = hours*60 + minutes
		}
		localTime := time.Now().UTC()
		if datetimeOriginal != nil {
			if s := stringValue(datetimeOriginal, "local_datetime"); s != "" {
				if t := persistence.ParseTime(s); !t.IsZero() {
					localTime = t
				}
			}
		}
		created := persistence.FormatTime(localTime.Add(-time.Duration(dstAdjust+tzAdjust) * time.Minute))
		sourceDict["created"] = created
		sourceDict["modified"] = created
		properties["created"] = created
		properties["modified"] = created
		timeZone := setDefaultDict(descriptionMetadata, "time_zone")
		timeZone["dst"] = dstValue
		timeZone["tz"] = tzValue
		delete(properties, "datetime_original")
		delete(properties, "datetime_modified")
		properties["version"] = 8
		info.Changed = true
		logMigration(info, "metadata to data source")
	}
}

// migrateToV10 merges regions into the display's graphics list and fixes up
// interval-list-connection source uuids.
func migrateToV10(infos []*ReaderInfo) {
	translate := map[string]string{
		"point-region":     "point-graphic",
		"line-region":      "line-profile-graphic",
		"rectangle-region": "rect-graphic",
		"ellipse-region":   "ellipse-graphic",
		"interval-region":  "interval-graphic",
	}
	for _, info := range infos {
		properties := info.Properties
		if Version(properties) != 9 {
			continue
		}
		for _, s := range listValue(properties, "data_sources") {
			source, ok := s.(map[string]any)
			if !ok {
				continue
			}
			displays := listValue(source, "displays")
			if len(displays) > 0 {
				display, _ := displays[0].(map[string]any)
				for _, r := range listValue(source, "regions") {
					region, ok := r.(map[string]any)
					if !ok || display == nil {
						continue
					}
					graphic := map[string]any{
						"type": translate[stringValue(region, "type")],
						"uuid": region["uuid"],
					}
					if v, ok := region["region_id"]; ok {
						graphic["graphic_id"] = v
					}
					for _, key := range []string{"label", "is_position_locked", "is_shape_locked", "is_bounds_constrained", "start", "end", "width", "position", "interval"} {
						if v, ok := region[key]; ok {
							graphic[key] = v
						}
					}
					center := floatPair(region["center"])
					size := floatPair(region["size"])
					if center != nil && size != nil {
						graphic["bounds"] = []any{
							[]any{center[0] - size[0]*0.5, center[1] - size[1]*0.5},
							[]any{size[0], size[1]},
						}
					}
					graphics := listValue(display, "graphics")
					display["graphics"] = append(graphics, graphic)
				}
			}
			delete(source, "regions")
		}
		for _, c := range listValue(properties, "connections") {
			connection, ok := c.(map[string]any)
			if !ok || stringValue(connection, "type") != "interval-list-connection" {
				continue
			}
			if sources := listValue(properties, "data_sources"); len(sources) > 0 {
				if source, ok := sources[0].(map[string]any); ok {
					if displays := listValue(source, "displays"); len(displays) > 0 {
						if display, ok := displays[0].(map[string]any); ok {
							connection["source_uuid"] = display["uuid"]
						}
					}
				}
			}
		}
		properties["version"] = 10
		info.Changed = true
		logMigration(info, "regions merged into graphics")
	}
}

func floatPair(v any) []float64 {
	list, ok := v.([]any)
	if !ok || len(list) != 2 {
		return nil
	}
	pair := make([]float64, 2)
	for i, item := range list {
		switch n := item.(type) {
		case float64:
			pair[i] = n
		case int:
			pair[i] = float64(n)
		default:
			return nil
		}
	}
	return pair
}

func logMigration(info *ReaderInfo, what string) {
	reference := ""
	if info.Handler != nil {
		reference = info.Handler.Reference()
	}
	glog.V(1).Infof("updated %s to %v (%s)", reference, info.Properties["version"], what)
}

package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeno/docmodel/ndarray"
	"github.com/lumeno/docmodel/storage"
)

func TestVersion(t *testing.T) {
	var testCases = []struct {
		description string
		properties  map[string]any
		expect      int
	}{
		{
			description: "int version",
			properties:  map[string]any{"version": 8},
			expect:      8,
		},
		{
			description: "json decoded float version",
			properties:  map[string]any{"version": float64(9)},
			expect:      9,
		},
		{
			description: "string version",
			properties:  map[string]any{"version": "7"},
			expect:      7,
		},
		{
			description: "missing version",
			properties:  map[string]any{},
			expect:      0,
		},
	}
	for _, testCase := range testCases {
		assert.EqualValues(t, testCase.expect, Version(testCase.properties), testCase.description)
	}
}

func TestMigrateLegacyRecordToLatest(t *testing.T) {
	system := storage.NewMemorySystem()
	data := ndarray.New([]int{2, 3}, ndarray.Float64)
	system.SetRecord("legacy", map[string]any{}, data)
	handlers, err := system.FindDataItems()
	require.NoError(t, err)
	require.Len(t, handlers, 1)

	properties := map[string]any{
		"spatial_calibrations":  []any{map[string]any{"origin": 1.0, "scale": 2.0, "units": "nm"}},
		"intensity_calibration": map[string]any{"origin": 0.5},
		"properties":            map[string]any{"exposure": 0.1, "session_uuid": "discard"},
		"data_source_uuid":      "discard",
	}
	info := &ReaderInfo{Properties: properties, Handler: handlers[0]}
	MigrateToLatest([]*ReaderInfo{info})

	assert.True(t, info.Changed)
	assert.EqualValues(t, WriterVersion, Version(properties))
	assert.NotEmpty(t, properties["uuid"])
	assert.NotEmpty(t, properties["created"])
	assert.Nil(t, properties["spatial_calibrations"])
	assert.Nil(t, properties["intensity_calibration"])
	assert.Nil(t, properties["data_source_uuid"])

	sources := properties["data_sources"].([]any)
	require.Len(t, sources, 1)
	source := sources[0].(map[string]any)
	assert.EqualValues(t, "buffered-data-source", source["type"])
	assert.EqualValues(t, "float64", source["data_dtype"])
	assert.EqualValues(t, []any{2, 3}, source["data_shape"])

	// calibration origin became offset along the way
	calibrations := source["dimensional_calibrations"].([]any)
	require.Len(t, calibrations, 1)
	calibration := calibrations[0].(map[string]any)
	assert.EqualValues(t, 1.0, calibration["offset"])
	assert.Nil(t, calibration["origin"])
	intensity := source["intensity_calibration"].(map[string]any)
	assert.EqualValues(t, 0.5, intensity["offset"])

	// the hardware source dict migrated into the data source metadata
	metadata := source["metadata"].(map[string]any)
	hardwareSource := metadata["hardware_source"].(map[string]any)
	assert.EqualValues(t, 0.1, hardwareSource["exposure"])
	assert.Nil(t, hardwareSource["session_uuid"])

	displays := source["displays"].([]any)
	require.Len(t, displays, 1)
	display := displays[0].(map[string]any)
	assert.NotEmpty(t, display["uuid"])
}

func TestMigrateDatetimeOriginal(t *testing.T) {
	properties := map[string]any{
		"version": 7,
		"uuid":    "item-1",
		"title":   "ghosts",
		"rating":  3,
		"data_sources": []any{
			map[string]any{"type": "buffered-data-source", "uuid": "source-1"},
		},
		"datetime_original": map[string]any{
			"local_datetime": "2015-01-02T03:04:05.000000",
			"tz":             "+0100",
			"dst":            "+60",
		},
	}
	info := &ReaderInfo{Properties: properties}
	migrateToV8([]*ReaderInfo{info})

	require.EqualValues(t, 8, Version(properties))
	// local time minus tz and dst adjustments
	assert.EqualValues(t, "2015-01-02T01:04:05", properties["created"])
	assert.EqualValues(t, properties["created"], properties["modified"])
	assert.Nil(t, properties["datetime_original"])

	source := properties["data_sources"].([]any)[0].(map[string]any)
	assert.EqualValues(t, properties["created"], source["created"])

	metadata := properties["metadata"].(map[string]any)
	description := metadata["description"].(map[string]any)
	assert.EqualValues(t, "ghosts", description["title"])
	assert.EqualValues(t, 3, description["rating"])
	timeZone := description["time_zone"].(map[string]any)
	assert.EqualValues(t, "+0100", timeZone["tz"])
	assert.EqualValues(t, "+60", timeZone["dst"])
}

func TestMigrateOperationToComputation(t *testing.T) {
	sourceItem := map[string]any{
		"version":           6,
		"uuid":              "source-item",
		"master_data_shape": []any{4, 4},
		"master_data_dtype": "float64",
		"displays":          []any{map[string]any{"uuid": "display-1"}},
	}
	cropItem := map[string]any{
		"version": 6,
		"uuid":    "crop-item",
		"operation": map[string]any{
			"type":         "operation",
			"operation_id": "crop-operation",
			"uuid":         "operation-1",
			"region_connections": map[string]any{
				"crop": "region-1",
			},
			"data_sources": []any{
				map[string]any{"type": "data-item-data-source", "data_item_uuid": "source-item"},
			},
		},
	}
	sourceInfo := &ReaderInfo{Properties: sourceItem}
	cropInfo := &ReaderInfo{Properties: cropItem}
	MigrateToLatest([]*ReaderInfo{sourceInfo, cropInfo})

	assert.EqualValues(t, WriterVersion, Version(sourceItem))
	assert.EqualValues(t, WriterVersion, Version(cropItem))

	sources := cropItem["data_sources"].([]any)
	require.Len(t, sources, 1)
	source := sources[0].(map[string]any)
	assert.Nil(t, source["data_source"])

	computation := source["computation"].(map[string]any)
	assert.EqualValues(t, "crop", computation["processing_id"])
	assert.EqualValues(t, "Crop", computation["label"])
	assert.EqualValues(t, "xd.crop(src.display_data, crop_region.bounds)", computation["original_expression"])

	specifiers := map[string]map[string]any{}
	for _, v := range computation["variables"].([]any) {
		variable := v.(map[string]any)
		if specifier, ok := variable["specifier"].(map[string]any); ok {
			specifiers[variable["name"].(string)] = specifier
		}
	}
	require.Contains(t, specifiers, "src")
	require.Contains(t, specifiers, "crop_region")
	assert.EqualValues(t, "data_item", specifiers["src"]["type"])
	assert.EqualValues(t, "source-item", specifiers["src"]["uuid"])
	assert.EqualValues(t, "region", specifiers["crop_region"]["type"])
	assert.EqualValues(t, "region-1", specifiers["crop_region"]["uuid"])
}

func TestMigrateOperationValues(t *testing.T) {
	properties := map[string]any{
		"version": 8,
		"uuid":    "blur-item",
		"data_sources": []any{
			map[string]any{
				"type": "buffered-data-source",
				"uuid": "source-1",
				"data_source": map[string]any{
					"type":         "operation",
					"operation_id": "gaussian-blur-operation",
					"values":       map[string]any{"sigma": 7.5},
					"data_sources": []any{
						map[string]any{"type": "data-item-data-source", "buffered_data_source_uuid": "elsewhere"},
					},
				},
			},
		},
	}
	info := &ReaderInfo{Properties: properties}
	migrateToV9([]*ReaderInfo{info})

	source := properties["data_sources"].([]any)[0].(map[string]any)
	computation := source["computation"].(map[string]any)
	assert.EqualValues(t, "xd.gaussian_blur(src.display_data, sigma)", computation["original_expression"])
	found := false
	for _, v := range computation["variables"].([]any) {
		variable := v.(map[string]any)
		if variable["name"] == "sigma" {
			found = true
			assert.EqualValues(t, 7.5, variable["value"])
			assert.EqualValues(t, 3.0, variable["value_default"])
		}
	}
	assert.True(t, found, "sigma variable carries the stored value")
}

func TestMigrateRegionsIntoGraphics(t *testing.T) {
	properties := map[string]any{
		"version": 9,
		"uuid":    "regions-item",
		"data_sources": []any{
			map[string]any{
				"type":     "buffered-data-source",
				"uuid":     "source-1",
				"displays": []any{map[string]any{"uuid": "display-1", "graphics": []any{}}},
				"regions": []any{
					map[string]any{
						"type":      "rectangle-region",
						"uuid":      "region-1",
						"region_id": "box",
						"label":     "Box",
						"center":    []any{0.5, 0.5},
						"size":      []any{0.25, 0.25},
					},
					map[string]any{
						"type":     "interval-region",
						"uuid":     "region-2",
						"interval": []any{0.2, 0.4},
					},
				},
			},
		},
		"connections": []any{
			map[string]any{"type": "interval-list-connection", "uuid": "connection-1"},
		},
	}
	info := &ReaderInfo{Properties: properties}
	migrateToV10([]*ReaderInfo{info})

	require.EqualValues(t, 10, Version(properties))
	source := properties["data_sources"].([]any)[0].(map[string]any)
	assert.Nil(t, source["regions"])

	display := source["displays"].([]any)[0].(map[string]any)
	graphics := display["graphics"].([]any)
	require.Len(t, graphics, 2)

	rect := graphics[0].(map[string]any)
	assert.EqualValues(t, "rect-graphic", rect["type"])
	assert.EqualValues(t, "region-1", rect["uuid"])
	assert.EqualValues(t, "box", rect["graphic_id"])
	assert.EqualValues(t, "Box", rect["label"])
	bounds := rect["bounds"].([]any)
	assert.EqualValues(t, []any{0.375, 0.375}, bounds[0])
	assert.EqualValues(t, []any{0.25, 0.25}, bounds[1])

	interval := graphics[1].(map[string]any)
	assert.EqualValues(t, "interval-graphic", interval["type"])
	assert.EqualValues(t, []any{0.2, 0.4}, interval["interval"])

	connection := properties["connections"].([]any)[0].(map[string]any)
	assert.EqualValues(t, "display-1", connection["source_uuid"])
}

func TestMigrateLeavesCurrentAndNewerRecordsAlone(t *testing.T) {
	current := &ReaderInfo{Properties: map[string]any{"version": WriterVersion, "uuid": "current"}}
	newer := &ReaderInfo{Properties: map[string]any{"version": WriterVersion + 1, "uuid": "newer"}}
	MigrateToLatest([]*ReaderInfo{current, newer})

	assert.False(t, current.Changed)
	assert.False(t, newer.Changed)
	assert.EqualValues(t, WriterVersion, Version(current.Properties))
	assert.EqualValues(t, WriterVersion+1, Version(newer.Properties))
}

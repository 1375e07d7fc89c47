// internal/template/registry_test.go
package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbridge/internal/common/logger"
)

const validDoc = `{
  "id": "wash_vehicle",
  "version": 1,
  "category": "maintenance",
  "description": "Book a vehicle wash",
  "required": ["vehicle_id", "date"],
  "rules": {
    "vehicle_id": {"type": "string", "pattern": "^[A-Z]{1,4}-\\d{1,5}$", "transform": "upper"},
    "date": {"type": "string", "transform": "date_iso"}
  },
  "endpoint": "/api/v1/maintenance/wash",
  "priority": 8
}`

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// ==========================
// Registry Tests
// ==========================

func TestNewRegistry_SeedsBuiltins(t *testing.T) {
	r := NewRegistry(logger.NewTestLogger(t))
	snap := r.Snapshot()

	assert.Equal(t, 1, snap.Version)
	assert.Equal(t, 8, snap.Len())

	tpl, ok := snap.Lookup("create_reservation", 1)
	require.True(t, ok)
	assert.Equal(t, "reservation", tpl.Category)
	assert.Equal(t, "/api/v1/reservations", tpl.Endpoint)

	_, ok = snap.Lookup("create_reservation", 99)
	assert.False(t, ok)
}

func TestRegistry_LoadDir_AddsTemplates(t *testing.T) {
	r := NewRegistry(logger.NewTestLogger(t))
	dir := t.TempDir()
	writeDoc(t, dir, "wash.json", validDoc)
	writeDoc(t, dir, "notes.txt", "not a template, ignored")

	require.NoError(t, r.LoadDir(dir))

	snap := r.Snapshot()
	assert.Equal(t, 2, snap.Version)
	assert.Equal(t, 9, snap.Len())

	tpl, ok := snap.Lookup("wash_vehicle", 1)
	require.True(t, ok)
	assert.Equal(t, 8, tpl.Priority)
	assert.Equal(t, []string{"vehicle_id", "date"}, tpl.Required)
}

func TestRegistry_LoadDir_DirectoryOverridesBuiltin(t *testing.T) {
	r := NewRegistry(logger.NewTestLogger(t))
	dir := t.TempDir()
	override := strings.Replace(validDoc, `"id": "wash_vehicle"`, `"id": "query_vehicle"`, 1)
	override = strings.Replace(override, `"category": "maintenance"`, `"category": "query"`, 1)
	writeDoc(t, dir, "query.json", override)

	require.NoError(t, r.LoadDir(dir))

	snap := r.Snapshot()
	// same id@version replaces the builtin, total count stays flat
	assert.Equal(t, 8, snap.Len())
	tpl, ok := snap.Lookup("query_vehicle", 1)
	require.True(t, ok)
	assert.Equal(t, "/api/v1/maintenance/wash", tpl.Endpoint)
}

func TestRegistry_LoadDir_NewVersionSupersedesBuiltin(t *testing.T) {
	r := NewRegistry(logger.NewTestLogger(t))
	dir := t.TempDir()
	v2 := strings.Replace(validDoc, `"id": "wash_vehicle"`, `"id": "query_vehicle"`, 1)
	v2 = strings.Replace(v2, `"version": 1`, `"version": 2`, 1)
	v2 = strings.Replace(v2, `"category": "maintenance"`, `"category": "query"`, 1)
	writeDoc(t, dir, "query.json", v2)

	require.NoError(t, r.LoadDir(dir))

	snap := r.Snapshot()
	// the v2 document retires the builtin v1 instead of sitting next to it
	assert.Equal(t, 8, snap.Len())
	_, ok := snap.Lookup("query_vehicle", 1)
	assert.False(t, ok)
	tpl, ok := snap.Lookup("query_vehicle", 2)
	require.True(t, ok)
	assert.Equal(t, "/api/v1/maintenance/wash", tpl.Endpoint)

	require.Len(t, snap.ByCategory("query"), 1)
}

func TestNewDirRegistry_CatalogComesOnlyFromDirectory(t *testing.T) {
	r := NewDirRegistry(logger.NewTestLogger(t))
	assert.Equal(t, 0, r.Snapshot().Len())

	dir := t.TempDir()
	writeDoc(t, dir, "wash.json", validDoc)
	require.NoError(t, r.LoadDir(dir))

	snap := r.Snapshot()
	assert.Equal(t, 1, snap.Len())
	_, ok := snap.Lookup("wash_vehicle", 1)
	assert.True(t, ok)
	_, ok = snap.Lookup("create_reservation", 1)
	assert.False(t, ok)
}

func TestRegistry_LoadDir_InvalidDocAbortsWholeReload(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{{{`},
		{"missing endpoint", `{"id":"x","version":1,"category":"c","required":["f"],"rules":{"f":{"type":"string"}}}`},
		{"version zero", strings.Replace(validDoc, `"version": 1`, `"version": 0`, 1)},
		{"uppercase id", strings.Replace(validDoc, `"wash_vehicle"`, `"WashVehicle"`, 1)},
		{"bad transform", strings.Replace(validDoc, `"date_iso"`, `"shout"`, 1)},
		{"field without rule", strings.Replace(validDoc, `"required": ["vehicle_id", "date"]`, `"required": ["vehicle_id", "date", "driver"]`, 1)},
		{"pattern does not compile", strings.Replace(validDoc, `^[A-Z]{1,4}-\\d{1,5}$`, `^[A-Z{`, 1)},
		{"cross rule names unknown field", strings.Replace(validDoc, `"endpoint"`, `"crossRules": [{"name": "time_order", "fields": ["start_time", "end_time"]}], "endpoint"`, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(logger.NewTestLogger(t))
			dir := t.TempDir()
			writeDoc(t, dir, "good.json", validDoc)
			writeDoc(t, dir, "zz_bad.json", tt.doc)

			err := r.LoadDir(dir)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), "TEMPLATE_LOAD_FAILED"))

			// The previous snapshot stays live, untouched by the failed reload.
			snap := r.Snapshot()
			assert.Equal(t, 1, snap.Version)
			assert.Equal(t, 8, snap.Len())
			_, ok := snap.Lookup("wash_vehicle", 1)
			assert.False(t, ok)
		})
	}
}

func TestRegistry_LoadDir_MissingDirectory(t *testing.T) {
	r := NewRegistry(logger.NewTestLogger(t))
	err := r.LoadDir("/does/not/exist")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "TEMPLATE_LOAD_FAILED"))
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	r := NewRegistry(logger.NewTestLogger(t))
	held := r.Snapshot()

	dir := t.TempDir()
	writeDoc(t, dir, "wash.json", validDoc)
	require.NoError(t, r.LoadDir(dir))

	// A snapshot taken before the reload never sees the new template.
	_, ok := held.Lookup("wash_vehicle", 1)
	assert.False(t, ok)
	_, ok = r.Snapshot().Lookup("wash_vehicle", 1)
	assert.True(t, ok)
}

func TestSnapshot_ByCategoryOrdering(t *testing.T) {
	r := NewRegistry(logger.NewTestLogger(t))
	dir := t.TempDir()
	writeDoc(t, dir, "wash.json", validDoc)
	require.NoError(t, r.LoadDir(dir))

	list := r.Snapshot().ByCategory("maintenance")
	require.Len(t, list, 2)
	// priority 10 builtin outranks the priority 8 wash template
	assert.Equal(t, "schedule_maintenance", list[0].ID)
	assert.Equal(t, "wash_vehicle", list[1].ID)
}

func TestTemplate_KeyAndSchema(t *testing.T) {
	r := NewRegistry(logger.NewTestLogger(t))
	tpl, ok := r.Snapshot().Lookup("create_reservation", 1)
	require.True(t, ok)

	assert.Equal(t, "create_reservation@1", tpl.Key())

	schema := tpl.Schema()
	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, tpl.Required, schema.Required)
	assert.Contains(t, schema.Properties, "vehicle_id")
}

package entity

// Source says where a field value may come from.
type Source string

const (
	SourcePattern Source = "pattern"
	SourceModel   Source = "model"
)

// FieldSpec declares one field an extraction profile resolves: its name, the
// entity kind feeding it, and whether the model may fill it when no pattern
// matches.
type FieldSpec struct {
	Name          string
	Kind          Kind
	ModelFallback bool
}

// Profile is the per-intent extraction plan. Deterministic pattern matchers
// run for every spec; the model is consulted once for the fallback fields.
type Profile struct {
	Name   string
	Fields []FieldSpec
}

// profiles is keyed by the profile names the intent routing table hands out.
var profiles = map[string]Profile{
	"reservation": {
		Name: "reservation",
		Fields: []FieldSpec{
			{Name: "vehicle_id", Kind: KindVehicleID},
			{Name: "date", Kind: KindDate},
			{Name: "start_time", Kind: KindStartTime},
			{Name: "end_time", Kind: KindEndTime},
			{Name: "requested_by", Kind: KindPersonName, ModelFallback: true},
			{Name: "purpose", Kind: KindFreeText, ModelFallback: true},
		},
	},
	"maintenance": {
		Name: "maintenance",
		Fields: []FieldSpec{
			{Name: "vehicle_id", Kind: KindVehicleID},
			{Name: "date", Kind: KindDate},
			{Name: "time", Kind: KindTime},
			{Name: "service_type", Kind: KindServiceType, ModelFallback: true},
			{Name: "notes", Kind: KindFreeText, ModelFallback: true},
		},
	},
	"vehicle": {
		Name: "vehicle",
		Fields: []FieldSpec{
			{Name: "vin", Kind: KindVIN},
			{Name: "license_plate", Kind: KindLicensePlate},
			{Name: "make", Kind: KindFreeText, ModelFallback: true},
			{Name: "model", Kind: KindFreeText, ModelFallback: true},
			{Name: "year", Kind: KindYear},
			{Name: "department", Kind: KindDepartment},
		},
	},
	"parking": {
		Name: "parking",
		Fields: []FieldSpec{
			{Name: "vehicle_id", Kind: KindVehicleID},
			{Name: "building", Kind: KindBuilding},
			{Name: "parking_spot", Kind: KindParkingSpot},
			{Name: "date", Kind: KindDate},
		},
	},
	"status": {
		Name: "status",
		Fields: []FieldSpec{
			{Name: "vehicle_id", Kind: KindVehicleID},
			{Name: "status", Kind: KindStatus},
			{Name: "notes", Kind: KindFreeText, ModelFallback: true},
		},
	},
	"query": {
		Name: "query",
		Fields: []FieldSpec{
			{Name: "vehicle_id", Kind: KindVehicleID},
			{Name: "date", Kind: KindDate},
		},
	},
	"transfer": {
		Name: "transfer",
		Fields: []FieldSpec{
			{Name: "vehicle_id", Kind: KindVehicleID},
			{Name: "destination", Kind: KindLocation, ModelFallback: true},
			{Name: "date", Kind: KindDate},
			{Name: "assignee", Kind: KindPersonName, ModelFallback: true},
		},
	},
	"cancellation": {
		Name: "cancellation",
		Fields: []FieldSpec{
			{Name: "vehicle_id", Kind: KindVehicleID},
			{Name: "reservation_id", Kind: KindReservationID},
			{Name: "date", Kind: KindDate},
		},
	},
	// fallback profile for UNKNOWN intents: pattern-only sweep so the UI can
	// still show whatever ids and dates were present.
	"generic": {
		Name: "generic",
		Fields: []FieldSpec{
			{Name: "vehicle_id", Kind: KindVehicleID},
			{Name: "vin", Kind: KindVIN},
			{Name: "date", Kind: KindDate},
			{Name: "time", Kind: KindTime},
		},
	},
}

// ProfileByName resolves a profile, falling back to the generic sweep.
func ProfileByName(name string) Profile {
	if p, ok := profiles[name]; ok {
		return p
	}
	return profiles["generic"]
}

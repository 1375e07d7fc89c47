// Package intent classifies request text into the closed fleet operation
// taxonomy and routes each label to an extraction profile and a template
// category.
package intent

// Intent is a canonical fleet operation category. The set is closed: every
// label the classifier may return is declared here, and anything the model
// produces outside the set collapses to IntentUnknown.
type Intent string

const (
	IntentVehicleReservation  Intent = "VEHICLE_RESERVATION"
	IntentScheduleMaintenance Intent = "SCHEDULE_MAINTENANCE"
	IntentCreateVehicle       Intent = "CREATE_VEHICLE"
	IntentAssignParking       Intent = "ASSIGN_PARKING"
	IntentUpdateStatus        Intent = "UPDATE_STATUS"
	IntentQueryInformation    Intent = "QUERY_INFORMATION"
	IntentTransferVehicle     Intent = "TRANSFER_VEHICLE"
	IntentCancelOperation     Intent = "CANCEL_OPERATION"
	IntentUnknown             Intent = "UNKNOWN"
)

// Route binds an intent to the extraction profile the extractor runs and the
// template category the selector filters on.
type Route struct {
	Profile  string
	Category string
}

// routes is the explicit registry table replacing the original duck-typed
// handler lookup. Intents absent from the table (UNKNOWN) have no route.
var routes = map[Intent]Route{
	IntentVehicleReservation:  {Profile: "reservation", Category: "reservation"},
	IntentScheduleMaintenance: {Profile: "maintenance", Category: "maintenance"},
	IntentCreateVehicle:       {Profile: "vehicle", Category: "vehicle"},
	IntentAssignParking:       {Profile: "parking", Category: "parking"},
	IntentUpdateStatus:        {Profile: "status", Category: "status"},
	IntentQueryInformation:    {Profile: "query", Category: "query"},
	IntentTransferVehicle:     {Profile: "transfer", Category: "transfer"},
	IntentCancelOperation:     {Profile: "cancellation", Category: "cancellation"},
}

// All lists every classifiable intent, in taxonomy order, for prompt building.
func All() []Intent {
	return []Intent{
		IntentVehicleReservation,
		IntentScheduleMaintenance,
		IntentCreateVehicle,
		IntentAssignParking,
		IntentUpdateStatus,
		IntentQueryInformation,
		IntentTransferVehicle,
		IntentCancelOperation,
	}
}

// Parse maps a raw label onto the closed set, UNKNOWN when unrecognized.
func Parse(label string) Intent {
	candidate := Intent(label)
	if candidate == IntentUnknown {
		return IntentUnknown
	}
	if _, ok := routes[candidate]; ok {
		return candidate
	}
	return IntentUnknown
}

// RouteFor returns the extraction profile and template category for an intent.
func RouteFor(i Intent) (Route, bool) {
	r, ok := routes[i]
	return r, ok
}

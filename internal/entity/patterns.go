package entity

import "regexp"

// Kind is the type of a value recognizable in request text.
type Kind string

const (
	KindVehicleID     Kind = "vehicle_id"
	KindVIN           Kind = "vin"
	KindLicensePlate  Kind = "license_plate"
	KindReservationID Kind = "reservation_id"
	KindDate          Kind = "date"
	KindTime          Kind = "time"
	KindStartTime     Kind = "start_time"
	KindEndTime       Kind = "end_time"
	KindDuration      Kind = "duration"
	KindBuilding      Kind = "building"
	KindParkingSpot   Kind = "parking_spot"
	KindLocation      Kind = "location"
	KindPersonName    Kind = "person_name"
	KindEmail         Kind = "email"
	KindPhone         Kind = "phone"
	KindDepartment    Kind = "department"
	KindServiceType   Kind = "service_type"
	KindStatus        Kind = "status"
	KindYear          Kind = "year"
	KindFreeText      Kind = "free_text"
)

// pattern is one deterministic matcher: well-formed tokens carry a fixed
// confidence, labeled forms slightly higher than bare ones.
type pattern struct {
	re         *regexp.Regexp
	confidence float64
	group      int // submatch index holding the value; 0 = whole match
}

var patternTable = map[Kind][]pattern{
	KindVIN: {
		{re: regexp.MustCompile(`(?i)\bVIN:?\s*([A-HJ-NPR-Z0-9]{17})\b`), confidence: 0.95, group: 1},
		{re: regexp.MustCompile(`\b[A-HJ-NPR-Z0-9]{17}\b`), confidence: 0.9},
	},
	KindVehicleID: {
		{re: regexp.MustCompile(`(?i)\b(?:vehicle|car|truck|van|unit)\s+(?:ID|#|number)?:?\s*([A-Z]{1,4}-\d{1,5})\b`), confidence: 0.95, group: 1},
		{re: regexp.MustCompile(`\b([A-Z]{1,4}-\d{1,5})\b`), confidence: 0.9, group: 1},
	},
	KindLicensePlate: {
		{re: regexp.MustCompile(`(?i)\bplate:?\s*([A-Z0-9-]{3,8})\b`), confidence: 0.9, group: 1},
		{re: regexp.MustCompile(`\b[A-Z]{2,3}\s?\d{3,4}[A-Z]?\b`), confidence: 0.7},
	},
	KindReservationID: {
		{re: regexp.MustCompile(`(?i)\b(?:reservation|booking)\s+(?:ID|#|number)?:?\s*(RES-\d{3,8})\b`), confidence: 0.95, group: 1},
		{re: regexp.MustCompile(`\bRES-\d{3,8}\b`), confidence: 0.9},
	},
	KindDate: {
		{re: regexp.MustCompile(`\b\d{4}-\d{1,2}-\d{1,2}\b`), confidence: 0.9},
		{re: regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`), confidence: 0.85},
		{re: regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}(?:,?\s+\d{4})?\b`), confidence: 0.85},
		{re: regexp.MustCompile(`(?i)\b(?:today|tomorrow|yesterday)\b`), confidence: 0.85},
		{re: regexp.MustCompile(`(?i)\b(?:next\s+)?(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`), confidence: 0.8},
	},
	KindTime: {
		{re: regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}\s*(?:am|pm)?\b`), confidence: 0.85},
		{re: regexp.MustCompile(`(?i)\b\d{1,2}\s*(?:am|pm)\b`), confidence: 0.8},
		{re: regexp.MustCompile(`(?i)\bnoon\b`), confidence: 0.8},
	},
	KindDuration: {
		{re: regexp.MustCompile(`(?i)\b\d+\s*(?:hours?|hrs?|minutes?|mins?|days?)\b`), confidence: 0.8},
	},
	KindBuilding: {
		{re: regexp.MustCompile(`(?i)\bbuilding\s+([A-Z0-9]{1,4})\b`), confidence: 0.85, group: 1},
		{re: regexp.MustCompile(`(?i)\b([A-Z])\s+building\b`), confidence: 0.8, group: 1},
	},
	KindParkingSpot: {
		{re: regexp.MustCompile(`(?i)\b(?:spot|space)\s+([A-Z]?\d{1,3}[A-Z]?)\b`), confidence: 0.85, group: 1},
		{re: regexp.MustCompile(`(?i)\b(?:lot|parking)\s+(\d{1,3}|[A-Z]\d{0,2})\b`), confidence: 0.8, group: 1},
	},
	KindEmail: {
		{re: regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`), confidence: 0.95},
	},
	KindPhone: {
		{re: regexp.MustCompile(`\b\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), confidence: 0.85},
	},
	KindDepartment: {
		{re: regexp.MustCompile(`\b(IT|HR|Finance|Operations|Marketing|Sales|Legal|Maintenance|Security)\b`), confidence: 0.8},
	},
	KindServiceType: {
		{re: regexp.MustCompile(`(?i)\b(oil\s+change|tire\s+rotation|brake\s+(?:service|check)|inspection|tune.?up|alignment|battery\s+replacement)\b`), confidence: 0.85, group: 1},
	},
	KindStatus: {
		{re: regexp.MustCompile(`(?i)\b(available|in\s*use|maintenance|out\s+of\s+service|retired)\b`), confidence: 0.8, group: 1},
	},
	KindYear: {
		{re: regexp.MustCompile(`\b(19[5-9]\d|20[0-4]\d)\b`), confidence: 0.7},
	},
}

// timeRanges recognize "2pm-4pm", "2-4pm", and "14:00 - 16:00" style windows;
// group 1 feeds start_time, group 2 feeds end_time. At least one side must
// carry an am/pm marker or both must carry a colon, so the digit-hyphen runs
// inside ISO dates ("2026-04-01") never read as a window.
var timeRanges = []pattern{
	{re: regexp.MustCompile(`(?i)\b(\d{1,2}(?::\d{2})?\s*(?:am|pm))\s*(?:-|to|until)\s*(\d{1,2}(?::\d{2})?\s*(?:am|pm)?)\b`), confidence: 0.9},
	{re: regexp.MustCompile(`(?i)\b(\d{1,2}(?::\d{2})?)\s*(?:-|to|until)\s*(\d{1,2}(?::\d{2})?\s*(?:am|pm))\b`), confidence: 0.9},
	{re: regexp.MustCompile(`(?i)\b(\d{1,2}:\d{2})\s*(?:-|to|until)\s*(\d{1,2}:\d{2})\b`), confidence: 0.9},
}

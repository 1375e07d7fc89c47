package template

// Builtin returns the compiled-in template catalog. A catalog directory, when
// configured, is layered on top of these at load time.
func Builtin() []Template {
	return []Template{
		{
			ID:          "create_reservation",
			Version:     1,
			Category:    "reservation",
			Description: "Reserve a fleet vehicle for a time window",
			Required:    []string{"vehicle_id", "date", "start_time", "end_time"},
			Optional:    []string{"requested_by", "purpose"},
			Rules: map[string]FieldRule{
				"vehicle_id":   {Type: "string", Pattern: `^[A-Z]{1,4}-\d{1,5}$`, Transform: TransformUpper},
				"date":         {Type: "string", Pattern: `^\d{4}-\d{2}-\d{2}$`, Transform: TransformDateISO},
				"start_time":   {Type: "string", Pattern: `^([01]\d|2[0-3]):[0-5]\d$`, Transform: TransformTime24h},
				"end_time":     {Type: "string", Pattern: `^([01]\d|2[0-3]):[0-5]\d$`, Transform: TransformTime24h},
				"requested_by": {Type: "string", MaxLength: intp(120), Transform: TransformTrim},
				"purpose":      {Type: "string", MaxLength: intp(500), Transform: TransformTrim},
			},
			CrossRules: []CrossRule{
				{Name: CrossRuleTimeOrder, Fields: []string{"start_time", "end_time"}},
				{Name: CrossRuleDateNotPast, Fields: []string{"date"}},
			},
			Endpoint: "/api/v1/reservations",
			Priority: 10,
		},
		{
			ID:          "schedule_maintenance",
			Version:     1,
			Category:    "maintenance",
			Description: "Book a service appointment for a vehicle",
			Required:    []string{"vehicle_id", "service_type", "date"},
			Optional:    []string{"time", "notes"},
			Rules: map[string]FieldRule{
				"vehicle_id":   {Type: "string", Pattern: `^[A-Z]{1,4}-\d{1,5}$`, Transform: TransformUpper},
				"service_type": {Type: "string", Enum: []string{"oil change", "tire rotation", "inspection", "brake service", "brake check", "tune-up", "alignment", "battery replacement", "repair", "detailing"}},
				"date":         {Type: "string", Pattern: `^\d{4}-\d{2}-\d{2}$`, Transform: TransformDateISO},
				"time":         {Type: "string", Pattern: `^([01]\d|2[0-3]):[0-5]\d$`, Transform: TransformTime24h},
				"notes":        {Type: "string", MaxLength: intp(1000), Transform: TransformTrim},
			},
			CrossRules: []CrossRule{
				{Name: CrossRuleDateNotPast, Fields: []string{"date"}},
			},
			Endpoint: "/api/v1/maintenance",
			Priority: 10,
		},
		{
			ID:          "create_vehicle",
			Version:     1,
			Category:    "vehicle",
			Description: "Register a new vehicle in the fleet",
			Required:    []string{"vin", "make", "model", "year"},
			Optional:    []string{"license_plate", "department"},
			Rules: map[string]FieldRule{
				"vin":           {Type: "string", Pattern: `^[A-HJ-NPR-Z0-9]{17}$`, Transform: TransformUpper},
				"make":          {Type: "string", MinLength: intp(2), MaxLength: intp(40), Transform: TransformTrim},
				"model":         {Type: "string", MinLength: intp(1), MaxLength: intp(40), Transform: TransformTrim},
				"year":          {Type: "integer", Minimum: floatp(1980), Maximum: floatp(2035), Transform: TransformNumber},
				"license_plate": {Type: "string", Pattern: `^[A-Z0-9-]{2,10}$`, Transform: TransformUpper},
				"department":    {Type: "string", MaxLength: intp(60), Transform: TransformTrim},
			},
			Endpoint: "/api/v1/vehicles",
			Priority: 10,
		},
		{
			ID:          "assign_parking",
			Version:     1,
			Category:    "parking",
			Description: "Assign a vehicle to a parking spot",
			Required:    []string{"vehicle_id", "parking_spot"},
			Optional:    []string{"building", "date"},
			Rules: map[string]FieldRule{
				"vehicle_id":   {Type: "string", Pattern: `^[A-Z]{1,4}-\d{1,5}$`, Transform: TransformUpper},
				"parking_spot": {Type: "string", Pattern: `^[A-Z]?-?\d{1,4}[A-Z]?$`, Transform: TransformUpper},
				"building":     {Type: "string", MaxLength: intp(60), Transform: TransformTrim},
				"date":         {Type: "string", Pattern: `^\d{4}-\d{2}-\d{2}$`, Transform: TransformDateISO},
			},
			Endpoint: "/api/v1/parking/assignments",
			Priority: 10,
		},
		{
			ID:          "update_vehicle_status",
			Version:     1,
			Category:    "status",
			Description: "Change a vehicle's operational status",
			Required:    []string{"vehicle_id", "status"},
			Optional:    []string{"notes"},
			Rules: map[string]FieldRule{
				"vehicle_id": {Type: "string", Pattern: `^[A-Z]{1,4}-\d{1,5}$`, Transform: TransformUpper},
				"status":     {Type: "string", Enum: []string{"available", "in_use", "maintenance", "out_of_service", "retired"}, Transform: TransformSnake},
				"notes":      {Type: "string", MaxLength: intp(1000), Transform: TransformTrim},
			},
			Endpoint: "/api/v1/vehicles/status",
			Priority: 10,
		},
		{
			ID:          "query_vehicle",
			Version:     1,
			Category:    "query",
			Description: "Look up vehicle details or availability",
			Required:    []string{"vehicle_id"},
			Optional:    []string{"date"},
			Rules: map[string]FieldRule{
				"vehicle_id": {Type: "string", Pattern: `^[A-Z]{1,4}-\d{1,5}$`, Transform: TransformUpper},
				"date":       {Type: "string", Pattern: `^\d{4}-\d{2}-\d{2}$`, Transform: TransformDateISO},
			},
			Endpoint: "/api/v1/vehicles/query",
			Priority: 5,
		},
		{
			ID:          "transfer_vehicle",
			Version:     1,
			Category:    "transfer",
			Description: "Move a vehicle to another site or assignee",
			Required:    []string{"vehicle_id", "destination"},
			Optional:    []string{"date", "assignee"},
			Rules: map[string]FieldRule{
				"vehicle_id":  {Type: "string", Pattern: `^[A-Z]{1,4}-\d{1,5}$`, Transform: TransformUpper},
				"destination": {Type: "string", MinLength: intp(2), MaxLength: intp(120), Transform: TransformTrim},
				"date":        {Type: "string", Pattern: `^\d{4}-\d{2}-\d{2}$`, Transform: TransformDateISO},
				"assignee":    {Type: "string", MaxLength: intp(120), Transform: TransformTrim},
			},
			CrossRules: []CrossRule{
				{Name: CrossRuleDateNotPast, Fields: []string{"date"}},
			},
			Endpoint: "/api/v1/transfers",
			Priority: 10,
		},
		{
			ID:          "cancel_reservation",
			Version:     1,
			Category:    "cancellation",
			Description: "Cancel an existing reservation",
			Required:    []string{"reservation_id"},
			Optional:    []string{"vehicle_id", "date"},
			Rules: map[string]FieldRule{
				"reservation_id": {Type: "string", Pattern: `^RES-\d{1,8}$`, Transform: TransformUpper},
				"vehicle_id":     {Type: "string", Pattern: `^[A-Z]{1,4}-\d{1,5}$`, Transform: TransformUpper},
				"date":           {Type: "string", Pattern: `^\d{4}-\d{2}-\d{2}$`, Transform: TransformDateISO},
			},
			Endpoint: "/api/v1/reservations/cancel",
			Priority: 10,
		},
	}
}

func intp(v int) *int { return &v }
func floatp(v float64) *float64 { return &v }

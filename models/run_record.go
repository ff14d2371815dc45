package models

// Infraction types recognised by the scorer.
const (
	InfractionCollisionPedestrian = "collision_pedestrian"
	InfractionCollisionVehicle    = "collision_vehicle"
	InfractionCollisionStatic     = "collision_static"
	InfractionRedLight            = "red_light"
	InfractionStopSign            = "stop_sign"
	InfractionRouteDeviation      = "route_deviation"
	InfractionOffRoad             = "off_road"
	InfractionAgentBlocked        = "agent_blocked"
	InfractionMinSpeed            = "min_speed"
)

// RunRecord is the decoded content of a result artifact. Produced once by the parser
// and never modified afterwards.
type RunRecord struct {
	Entry  string        `json:"entry,omitempty" validate:"max=200"`
	Routes []RouteResult `json:"routes" validate:"required,min=1,dive"`
}

// RouteResult is a single evaluated route.
type RouteResult struct {
	RouteID string `json:"route_id" validate:"required,max=128"`
	// Completion is a pointer so a missing value can be told apart from 0.
	Completion  *float64     `json:"completion" validate:"required,gte=0,lte=1"`
	DistanceKM  float64      `json:"distance_km" validate:"gte=0,lte=1000"`
	Infractions []Infraction `json:"infractions" validate:"dive"`
}

// Infraction is one penalised event on a route.
type Infraction struct {
	Type      string  `json:"type" validate:"required"`
	Severity  float64 `json:"severity" validate:"gte=0,lte=100"`
	Timestamp float64 `json:"timestamp" validate:"gte=0"`
}

// CompletionRatio returns the completion value, 0 when absent.
func (r RouteResult) CompletionRatio() float64 {
	if r.Completion == nil {
		return 0
	}
	return *r.Completion
}

package domain

// BodyProjection is the projected body composition for a future date. All
// metrics are placeholders until a projection model exists.
type BodyProjection struct {
	ProjectedWeight     float64 `json:"projectedWeight"`
	ProjectedBodyFat    float64 `json:"projectedBodyFat"`
	ProjectedMuscleMass float64 `json:"projectedMuscleMass"`
	ProjectionDate      string  `json:"projectionDate"`
	Confidence          float64 `json:"confidence"`
}

package dto

// DistanceBandQuery bounds the distance band lookup in meters.
type DistanceBandQuery struct {
	Min int `form:"min" validate:"min=0"`
	Max int `form:"max" validate:"required,gtefield=Min"`
}

// BatchRequest computes up to Limit missing distances.
type BatchRequest struct {
	Limit int `json:"limit" validate:"omitempty,min=1,max=5000"`
}

// BatchResult summarises a batch computation run.
type BatchResult struct {
	Requested int  `json:"requested"`
	Computed  int  `json:"computed"`
	Skipped   int  `json:"skipped"`
	Stopped   bool `json:"stoppedByQuota"`
}

// InvalidateResult reports removed distance records.
type InvalidateResult struct {
	UnitID  string `json:"unitId"`
	Removed int64  `json:"removed"`
}

package dto

// AvailabilityQuery selects a month.
type AvailabilityQuery struct {
	Year  int `form:"year" validate:"required,min=2000,max=2100"`
	Month int `form:"month" validate:"required,min=1,max=12"`
}

// UpdateAvailabilityRequest replaces the instructor's dates for a month.
type UpdateAvailabilityRequest struct {
	Year  int      `json:"year" validate:"required,min=2000,max=2100"`
	Month int      `json:"month" validate:"required,min=1,max=12"`
	Dates []string `json:"dates" validate:"dive,datetime=2006-01-02"`
}

package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate is the global validator instance.
var Validate *validator.Validate

func init() {
	Validate = validator.New()

	_ = Validate.RegisterValidation("latitude", validateLatitude)
	_ = Validate.RegisterValidation("longitude", validateLongitude)
	_ = Validate.RegisterValidation("direction", validateDirection)
	_ = Validate.RegisterValidation("decision", validateDecision)
	_ = Validate.RegisterValidation("gender", validateGender)
}

// ValidationError carries per-field messages for a failed payload.
type ValidationError struct {
	Fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	return strings.Join(e.Fields, "; ")
}

// ValidateStruct validates a struct and returns a *ValidationError on failure.
func ValidateStruct(s interface{}) error {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	out := &ValidationError{}
	for _, fe := range validationErrors {
		out.Fields = append(out.Fields, describeField(fe))
	}
	return out
}

func describeField(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "latitude":
		return fmt.Sprintf("%s must be between -90 and 90", fe.Field())
	case "longitude":
		return fmt.Sprintf("%s must be between -180 and 180", fe.Field())
	case "direction":
		return fmt.Sprintf("%s must be one of to_campus, from_campus, unknown", fe.Field())
	case "decision":
		return fmt.Sprintf("%s must be accept or reject", fe.Field())
	case "gender":
		return fmt.Sprintf("%s must be male or female", fe.Field())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

// validateLatitude checks if latitude is within valid range (-90 to 90).
func validateLatitude(fl validator.FieldLevel) bool {
	latitude := fl.Field().Float()
	return latitude >= -90.0 && latitude <= 90.0
}

// validateLongitude checks if longitude is within valid range (-180 to 180).
func validateLongitude(fl validator.FieldLevel) bool {
	longitude := fl.Field().Float()
	return longitude >= -180.0 && longitude <= 180.0
}

// validateDirection checks a travel direction hint.
func validateDirection(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "to_campus", "from_campus", "unknown":
		return true
	}
	return false
}

// validateDecision checks a driver decision verb.
func validateDecision(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "accept", "reject":
		return true
	}
	return false
}

// validateGender checks a gender filter value.
func validateGender(fl validator.FieldLevel) bool {
	switch strings.ToLower(fl.Field().String()) {
	case "male", "female":
		return true
	}
	return false
}

// ValidateCoordinates validates a latitude/longitude pair outside struct tags.
func ValidateCoordinates(latitude, longitude float64) error {
	if latitude < -90.0 || latitude > 90.0 {
		return fmt.Errorf("latitude must be between -90 and 90, got: %f", latitude)
	}
	if longitude < -180.0 || longitude > 180.0 {
		return fmt.Errorf("longitude must be between -180 and 180, got: %f", longitude)
	}
	return nil
}

// ValidateRating validates a rating value (1-5).
func ValidateRating(rating float64) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5, got: %g", rating)
	}
	return nil
}

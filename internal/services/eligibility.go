package services

import (
	"strings"

	"github.com/recrusearch/recrusearch/internal/models"
)

// ValidateCriteria rejects malformed eligibility criteria up front so that a
// stored criteria record is always evaluable.
func ValidateCriteria(c *models.EligibilityCriteria) error {
	if c == nil {
		return NewValidationError("criteria required")
	}
	if c.MinAge != nil && *c.MinAge < models.MinAgeLimit {
		return NewValidationError("minimum age below platform limit")
	}
	if c.MaxAge != nil && *c.MaxAge > models.MaxAgeLimit {
		return NewValidationError("maximum age above platform limit")
	}
	if c.MinAge != nil && c.MaxAge != nil && *c.MinAge > *c.MaxAge {
		return NewValidationError("minimum age exceeds maximum age")
	}
	for _, v := range [](*string){c.Gender, c.Location, c.EducationLevel, c.EmploymentStatus} {
		if v != nil && strings.TrimSpace(*v) == "" {
			return NewValidationError("criteria values must not be blank")
		}
	}
	return nil
}

// Evaluate reports whether the participant satisfies every defined criterion.
// String comparisons are case-insensitive. A participant field left empty
// fails any criterion defined on that dimension. Deterministic and free of
// side effects, so it is safe to re-run.
func Evaluate(c *models.EligibilityCriteria, info *models.ParticipantInfo) bool {
	if c == nil {
		return true
	}
	if info == nil {
		return false
	}
	if c.MinAge != nil && info.Age < *c.MinAge {
		return false
	}
	if c.MaxAge != nil && info.Age > *c.MaxAge {
		return false
	}
	if !matchField(c.Gender, info.Gender) {
		return false
	}
	if !matchField(c.Location, info.Location) {
		return false
	}
	if !matchField(c.EducationLevel, info.EducationLevel) {
		return false
	}
	if !matchField(c.EmploymentStatus, info.EmploymentStatus) {
		return false
	}
	for _, excluded := range c.ExcludedConditions {
		for _, reported := range info.MedicalConditions {
			if strings.EqualFold(excluded, reported) {
				return false
			}
		}
	}
	for _, required := range c.CustomRequirements {
		if !containsFold(info.Attributes, required) {
			return false
		}
	}
	return true
}

func matchField(required *string, actual string) bool {
	if required == nil {
		return true
	}
	return actual != "" && strings.EqualFold(*required, actual)
}

func containsFold(haystack []string, needle string) bool {
	for _, v := range haystack {
		if strings.EqualFold(v, needle) {
			return true
		}
	}
	return false
}

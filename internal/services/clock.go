package services

import "time"

// WithClock swaps the time source. Used by callers that need deterministic
// window and cooldown behavior.
func (s *StudyService) WithClock(now func() time.Time) *StudyService {
	s.now = now
	return s
}

func (s *ConsentService) WithClock(now func() time.Time) *ConsentService {
	s.now = now
	return s
}

func (s *SubmissionService) WithClock(now func() time.Time) *SubmissionService {
	s.now = now
	return s
}

func (s *RewardService) WithClock(now func() time.Time) *RewardService {
	s.now = now
	return s
}

func (s *AdminService) WithClock(now func() time.Time) *AdminService {
	s.now = now
	return s
}

func (s *SchemaService) WithClock(now func() time.Time) *SchemaService {
	s.now = now
	return s
}

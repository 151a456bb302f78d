package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/recrusearch/recrusearch/internal/models"
)

type ErrorCode string

const (
	ErrorValidation   ErrorCode = "validation"
	ErrorUnauthorized ErrorCode = "unauthorized"
	ErrorState        ErrorCode = "state"
	ErrorData         ErrorCode = "data"
	ErrorParticipant  ErrorCode = "participant"
	ErrorFunds        ErrorCode = "funds"
	ErrorArithmetic   ErrorCode = "arithmetic"
	ErrorNotFound     ErrorCode = "not_found"
	ErrorConflict     ErrorCode = "conflict"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewValidationError(msg string) error   { return &ServiceError{Code: ErrorValidation, Message: msg} }
func NewUnauthorizedError(msg string) error { return &ServiceError{Code: ErrorUnauthorized, Message: msg} }
func NewStateError(msg string) error        { return &ServiceError{Code: ErrorState, Message: msg} }
func NewDataError(msg string) error         { return &ServiceError{Code: ErrorData, Message: msg} }
func NewParticipantError(msg string) error  { return &ServiceError{Code: ErrorParticipant, Message: msg} }
func NewFundsError(msg string) error        { return &ServiceError{Code: ErrorFunds, Message: msg} }
func NewArithmeticError(msg string) error   { return &ServiceError{Code: ErrorArithmetic, Message: msg} }
func NewNotFoundError(msg string) error     { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error     { return &ServiceError{Code: ErrorConflict, Message: msg} }

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

type StudyStore interface {
	CreateStudy(st *models.Study) error
	GetStudy(id string) (*models.Study, error)
	UpdateStudy(st *models.Study) error
	AddAudit(entry AuditEntry)
}

// StudyService owns the study lifecycle: Draft -> Published -> Active ->
// Closed -> Archived. Archived is terminal.
type StudyService struct {
	store StudyStore
	admin *AdminService
	now   func() time.Time
	idGen func() string
}

type CreateStudyRequest struct {
	Title             string
	Description       string
	EnrollmentStart   int64
	EnrollmentEnd     int64
	DataCollectionEnd int64
	MaxParticipants   uint32
	RewardAmount      uint64
}

func NewStudyService(store StudyStore, admin *AdminService) *StudyService {
	return &StudyService{
		store: store,
		admin: admin,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(12) },
	}
}

func (s *StudyService) CreateStudy(researcherID string, req CreateStudyRequest) (*models.Study, error) {
	if researcherID == "" {
		return nil, NewUnauthorizedError("researcher required")
	}
	if req.Title == "" || len(req.Title) > models.MaxTitleLength {
		return nil, NewValidationError("title must be 1-100 characters")
	}
	if len(req.Description) > models.MaxDescriptionLength {
		return nil, NewValidationError("description exceeds 500 characters")
	}
	if req.MaxParticipants == 0 || req.MaxParticipants > models.MaxParticipantsPerStudy {
		return nil, NewValidationError("max participants must be between 1 and 10000")
	}
	if req.RewardAmount == 0 {
		return nil, NewValidationError("reward amount must be positive")
	}
	now := s.now().Unix()
	if req.EnrollmentStart <= now {
		return nil, NewValidationError("enrollment start must be in the future")
	}
	if req.EnrollmentEnd <= req.EnrollmentStart {
		return nil, NewValidationError("enrollment end must be after enrollment start")
	}
	if req.EnrollmentEnd-req.EnrollmentStart < models.MinEnrollmentWindow {
		return nil, NewValidationError("enrollment period must be at least 1 hour")
	}
	if req.DataCollectionEnd <= req.EnrollmentEnd {
		return nil, NewValidationError("data collection end must be after enrollment end")
	}
	minDur, maxDur := s.admin.DurationBounds()
	total := req.DataCollectionEnd - req.EnrollmentStart
	if total < minDur || total > maxDur {
		return nil, NewValidationError("study duration outside allowed bounds")
	}

	st := &models.Study{
		ID:                s.idGen(),
		ResearcherID:      researcherID,
		Title:             req.Title,
		Description:       req.Description,
		EnrollmentStart:   req.EnrollmentStart,
		EnrollmentEnd:     req.EnrollmentEnd,
		DataCollectionEnd: req.DataCollectionEnd,
		MaxParticipants:   req.MaxParticipants,
		RewardAmount:      req.RewardAmount,
		Status:            models.StudyDraft,
		CreatedAt:         s.now(),
	}
	if err := s.store.CreateStudy(st); err != nil {
		return nil, err
	}
	if err := s.admin.RecordStudyCreated(); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: researcherID, Action: "study_create", Target: st.ID, Note: st.Title})
	return st, nil
}

func (s *StudyService) PublishStudy(researcherID, studyID string) (*models.Study, error) {
	st, err := s.ownedStudy(researcherID, studyID)
	if err != nil {
		return nil, err
	}
	if st.Status != models.StudyDraft {
		return nil, NewStateError("only draft studies can be published")
	}
	if st.MaxParticipants == 0 {
		return nil, NewValidationError("study has no participant capacity")
	}
	// Publishing is allowed until the enrollment window closes, so a study
	// whose enrollment has already opened can still go live.
	if s.now().Unix() >= st.EnrollmentEnd {
		return nil, NewStateError("enrollment window already closed")
	}
	st.Status = models.StudyPublished
	if err := s.store.UpdateStudy(st); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: researcherID, Action: "study_publish", Target: st.ID})
	return st, nil
}

func (s *StudyService) CloseStudy(researcherID, studyID string) (*models.Study, error) {
	st, err := s.ownedStudy(researcherID, studyID)
	if err != nil {
		return nil, err
	}
	if st.Status == models.StudyClosed || st.Status == models.StudyArchived {
		return nil, NewStateError("study already closed")
	}
	st.Status = models.StudyClosed
	if err := s.store.UpdateStudy(st); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{
		Time: s.now(), Actor: researcherID, Action: "study_close", Target: st.ID,
		Note: fmt.Sprintf("enrolled=%d completed=%d", st.EnrolledCount, st.CompletedCount),
	})
	return st, nil
}

func (s *StudyService) ArchiveStudy(researcherID, studyID string) (*models.Study, error) {
	st, err := s.ownedStudy(researcherID, studyID)
	if err != nil {
		return nil, err
	}
	if st.Status != models.StudyClosed {
		return nil, NewStateError("only closed studies can be archived")
	}
	st.Status = models.StudyArchived
	if err := s.store.UpdateStudy(st); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: researcherID, Action: "study_archive", Target: st.ID})
	return st, nil
}

// TransitionStudyState applies time-driven transitions: Published becomes
// Active once the enrollment window ends, Active becomes Closed once data
// collection ends. Anyone may call it; when no boundary has been crossed it
// succeeds without changing anything.
func (s *StudyService) TransitionStudyState(studyID string) (*models.Study, error) {
	st, err := s.getStudy(studyID)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	switch st.Status {
	case models.StudyPublished:
		if now >= st.EnrollmentEnd {
			st.Status = models.StudyActive
		}
	case models.StudyActive:
		if now >= st.DataCollectionEnd {
			st.Status = models.StudyClosed
		}
	default:
		return nil, NewStateError("no automatic transition from " + string(st.Status))
	}
	if err := s.store.UpdateStudy(st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *StudyService) SetEligibilityCriteria(researcherID, studyID string, criteria models.EligibilityCriteria) (*models.Study, error) {
	st, err := s.ownedStudy(researcherID, studyID)
	if err != nil {
		return nil, err
	}
	if st.Status != models.StudyDraft {
		return nil, NewStateError("criteria can only be set on draft studies")
	}
	if err := ValidateCriteria(&criteria); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(&criteria)
	if err != nil {
		return nil, NewDataError("criteria not serializable")
	}
	if len(encoded) > models.MaxCriteriaSize {
		return nil, NewValidationError("criteria exceed maximum size")
	}
	st.Criteria = &criteria
	st.HasEligibilityCriteria = true
	if err := s.store.UpdateStudy(st); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: researcherID, Action: "criteria_set", Target: st.ID})
	return st, nil
}

func (s *StudyService) GetStudyInfo(studyID string) (*StudyInfo, error) {
	st, err := s.getStudy(studyID)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	return &StudyInfo{
		StudyID:            st.ID,
		Title:              st.Title,
		Description:        st.Description,
		ResearcherID:       st.ResearcherID,
		Status:             string(st.Status),
		EnrollmentProgress: enrollmentProgress(st, now),
		TimeRemaining:      timeRemaining(st, now),
		MaxParticipants:    st.MaxParticipants,
		EnrolledCount:      st.EnrolledCount,
		CompletedCount:     st.CompletedCount,
		RewardAmount:       st.RewardAmount,
		CreatedAt:          st.CreatedAt,
	}, nil
}

func (s *StudyService) getStudy(id string) (*models.Study, error) {
	if id == "" {
		return nil, NewValidationError("study id required")
	}
	st, err := s.store.GetStudy(id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, NewNotFoundError("study not found")
	}
	return st, nil
}

func (s *StudyService) ownedStudy(researcherID, id string) (*models.Study, error) {
	st, err := s.getStudy(id)
	if err != nil {
		return nil, err
	}
	if researcherID == "" || st.ResearcherID != researcherID {
		return nil, NewUnauthorizedError("only the study researcher can perform this action")
	}
	return st, nil
}

func enrollmentProgress(st *models.Study, now int64) EnrollmentProgress {
	participants := 0
	if st.MaxParticipants > 0 {
		participants = int(float64(st.EnrolledCount) / float64(st.MaxParticipants) * 100)
	}
	timePct := 0
	if st.EnrollmentEnd > st.EnrollmentStart {
		elapsed := float64(now-st.EnrollmentStart) / float64(st.EnrollmentEnd-st.EnrollmentStart) * 100
		timePct = int(math.Min(100, math.Max(0, elapsed)))
	}
	return EnrollmentProgress{
		ParticipantsPercentage: participants,
		TimePercentage:         timePct,
		IsEnrollmentOpen:       now >= st.EnrollmentStart && now <= st.EnrollmentEnd,
	}
}

func timeRemaining(st *models.Study, now int64) TimeRemaining {
	return TimeRemaining{
		UntilEnrollmentStart:   maxInt64(st.EnrollmentStart-now, 0),
		UntilEnrollmentEnd:     maxInt64(st.EnrollmentEnd-now, 0),
		UntilDataCollectionEnd: maxInt64(st.DataCollectionEnd-now, 0),
		CurrentPhase:           currentPhase(st, now),
	}
}

func currentPhase(st *models.Study, now int64) string {
	switch {
	case st.Status == models.StudyDraft:
		return "draft"
	case now < st.EnrollmentStart:
		return "pre_enrollment"
	case now <= st.EnrollmentEnd:
		return "enrollment"
	case now <= st.DataCollectionEnd:
		return "data_collection"
	default:
		return "completed"
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

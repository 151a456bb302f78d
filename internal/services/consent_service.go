package services

import (
	"encoding/json"
	"time"

	"github.com/recrusearch/recrusearch/internal/models"
)

type ConsentStore interface {
	GetStudy(id string) (*models.Study, error)
	UpdateStudy(st *models.Study) error
	GetConsent(studyID, participantID string) (*models.Consent, error)
	CreateConsent(c *models.Consent) error
	UpdateConsent(c *models.Consent) error
	GetSubmission(studyID, participantID string) (*models.Submission, error)
	AddAudit(entry AuditEntry)
}

// ConsentService is the enrollment ledger: one consent per (study,
// participant), revocable until data has been submitted.
type ConsentService struct {
	store   ConsentStore
	custody Custody
	admin   *AdminService
	now     func() time.Time
}

func NewConsentService(store ConsentStore, custody Custody, admin *AdminService) *ConsentService {
	return &ConsentService{
		store:   store,
		custody: custody,
		admin:   admin,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Enroll records a participant's consent for a published study. When the
// study defines eligibility criteria the proof must decode to participant
// info that satisfies them. The enrollment credential is minted before any
// record is written so a custody failure leaves no partial state.
func (s *ConsentService) Enroll(participantID, studyID string, eligibilityProof []byte) (*models.Consent, error) {
	if participantID == "" {
		return nil, NewUnauthorizedError("participant required")
	}
	st, err := s.store.GetStudy(studyID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, NewNotFoundError("study not found")
	}
	if st.Status != models.StudyPublished {
		return nil, NewStateError("study is not accepting enrollments")
	}
	now := s.now()
	if now.Unix() < st.EnrollmentStart || now.Unix() > st.EnrollmentEnd {
		return nil, NewStateError("outside the enrollment window")
	}
	if st.EnrolledCount >= st.MaxParticipants {
		return nil, NewStateError("study is full")
	}
	if len(eligibilityProof) == 0 {
		return nil, NewDataError("eligibility proof required")
	}
	existing, err := s.store.GetConsent(studyID, participantID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("consent already exists for this study")
	}
	if st.HasEligibilityCriteria {
		var info models.ParticipantInfo
		if err := json.Unmarshal(eligibilityProof, &info); err != nil {
			return nil, NewDataError("eligibility proof is malformed")
		}
		if !Evaluate(st.Criteria, &info) {
			return nil, NewDataError("participant does not meet the eligibility criteria")
		}
	}

	credID, err := s.custody.MintCredential(participantID, CredentialConsent, studyID)
	if err != nil {
		return nil, err
	}
	consent := &models.Consent{
		StudyID:          studyID,
		ParticipantID:    participantID,
		Timestamp:        now,
		EligibilityProof: eligibilityProof,
		CredentialID:     credID,
	}
	if err := s.store.CreateConsent(consent); err != nil {
		return nil, err
	}
	enrolled, err := checkedAddU32(st.EnrolledCount, 1)
	if err != nil {
		return nil, err
	}
	st.EnrolledCount = enrolled
	if err := s.store.UpdateStudy(st); err != nil {
		return nil, err
	}
	if err := s.admin.RecordEnrollment(); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: now, Actor: participantID, Action: "consent_enroll", Target: studyID, Note: credID})
	return consent, nil
}

// RevokeConsent withdraws a participant from a study. Revocation is blocked
// once data has been submitted; the enrolled count is deliberately left
// unchanged so capacity is not reopened after a withdrawal.
func (s *ConsentService) RevokeConsent(participantID, studyID string) (*models.Consent, error) {
	if participantID == "" {
		return nil, NewUnauthorizedError("participant required")
	}
	consent, err := s.store.GetConsent(studyID, participantID)
	if err != nil {
		return nil, err
	}
	if consent == nil {
		return nil, NewNotFoundError("consent not found")
	}
	if consent.ParticipantID != participantID {
		return nil, NewUnauthorizedError("only the enrolled participant can revoke")
	}
	if consent.IsRevoked {
		return nil, NewParticipantError("consent already revoked")
	}
	sub, err := s.store.GetSubmission(studyID, participantID)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		return nil, NewParticipantError("cannot revoke consent after data submission")
	}

	if err := s.custody.BurnCredential(consent.CredentialID); err != nil {
		return nil, err
	}
	now := s.now()
	consent.IsRevoked = true
	consent.RevocationTimestamp = &now
	if err := s.store.UpdateConsent(consent); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: now, Actor: participantID, Action: "consent_revoke", Target: studyID})
	return consent, nil
}

func (s *ConsentService) GetConsentStatus(studyID, participantID string) (*ConsentStatus, error) {
	if studyID == "" || participantID == "" {
		return nil, NewValidationError("study id and participant id required")
	}
	consent, err := s.store.GetConsent(studyID, participantID)
	if err != nil {
		return nil, err
	}
	status := &ConsentStatus{StudyID: studyID, ParticipantID: participantID}
	if consent == nil {
		return status, nil
	}
	sub, err := s.store.GetSubmission(studyID, participantID)
	if err != nil {
		return nil, err
	}
	ts := consent.Timestamp
	status.HasConsented = true
	status.IsRevoked = consent.IsRevoked
	status.ConsentTimestamp = &ts
	status.RevocationTimestamp = consent.RevocationTimestamp
	status.HasSubmitted = sub != nil
	return status, nil
}

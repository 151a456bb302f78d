package services

import (
	"strings"
	"time"

	"github.com/recrusearch/recrusearch/internal/models"
)

type SubmissionStore interface {
	GetStudy(id string) (*models.Study, error)
	GetConsent(studyID, participantID string) (*models.Consent, error)
	GetSubmission(studyID, participantID string) (*models.Submission, error)
	CreateSubmission(sub *models.Submission) error
	UpdateSubmission(sub *models.Submission) error
	AddAudit(entry AuditEntry)
}

// SubmissionService is the data-submission ledger: one submission per
// (study, participant), requiring a live consent and an open collection
// window.
type SubmissionService struct {
	store SubmissionStore
	now   func() time.Time
}

func NewSubmissionService(store SubmissionStore) *SubmissionService {
	return &SubmissionService{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SubmissionService) SubmitData(participantID, studyID string, dataHash [32]byte, contentID string) (*models.Submission, error) {
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
	if st.Status != models.StudyPublished && st.Status != models.StudyActive {
		return nil, NewStateError("study is not accepting submissions")
	}
	consent, err := s.store.GetConsent(studyID, participantID)
	if err != nil {
		return nil, err
	}
	if consent == nil {
		return nil, NewParticipantError("no consent on record for this study")
	}
	if consent.IsRevoked {
		return nil, NewParticipantError("consent has been revoked")
	}
	now := s.now()
	if now.Unix() > st.DataCollectionEnd {
		return nil, NewStateError("data collection period has ended")
	}
	if err := validateContentID(contentID); err != nil {
		return nil, err
	}
	if dataHash == ([32]byte{}) {
		return nil, NewDataError("data hash must not be zero")
	}
	existing, err := s.store.GetSubmission(studyID, participantID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("data already submitted for this study")
	}

	sub := &models.Submission{
		StudyID:       studyID,
		ParticipantID: participantID,
		DataHash:      dataHash,
		ContentID:     contentID,
		SubmittedAt:   now,
	}
	if err := s.store.CreateSubmission(sub); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: now, Actor: participantID, Action: "data_submit", Target: studyID, Note: contentID})
	return sub, nil
}

// VerifySubmission lets the researcher mark a submission as reviewed. The
// flag can only be set once and never cleared.
func (s *SubmissionService) VerifySubmission(researcherID, studyID, participantID string) (*models.Submission, error) {
	st, err := s.store.GetStudy(studyID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, NewNotFoundError("study not found")
	}
	if researcherID == "" || st.ResearcherID != researcherID {
		return nil, NewUnauthorizedError("only the study researcher can verify submissions")
	}
	sub, err := s.store.GetSubmission(studyID, participantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, NewNotFoundError("submission not found")
	}
	if sub.IsVerified {
		return nil, NewConflictError("submission already verified")
	}
	sub.IsVerified = true
	if err := s.store.UpdateSubmission(sub); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: researcherID, Action: "submission_verify", Target: studyID, Note: participantID})
	return sub, nil
}

// validateContentID checks the off-chain content identifier: bounded length
// and a recognized content-addressing prefix. The payload behind it is never
// inspected.
func validateContentID(cid string) error {
	if len(cid) < models.MinContentIDLength || len(cid) > models.MaxContentIDLength {
		return NewDataError("content identifier must be 10-100 characters")
	}
	if !strings.HasPrefix(cid, "Qm") && !strings.HasPrefix(cid, "bafy") {
		return NewDataError("content identifier has an unrecognized prefix")
	}
	return nil
}

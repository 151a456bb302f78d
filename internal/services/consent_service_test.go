package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/recrusearch/recrusearch/internal/models"
)

func seedPublishedStudy(store *stubStore, maxParticipants uint32, criteria *models.EligibilityCriteria) *models.Study {
	st := &models.Study{
		ID:                "S1",
		ResearcherID:      "r1",
		Title:             "Study",
		EnrollmentStart:   testNow.Add(-time.Hour).Unix(),
		EnrollmentEnd:     testNow.Add(time.Hour).Unix(),
		DataCollectionEnd: testNow.Add(48 * time.Hour).Unix(),
		MaxParticipants:   maxParticipants,
		RewardAmount:      100,
		Status:            models.StudyPublished,
		CreatedAt:         testNow.Add(-2 * time.Hour),
	}
	if criteria != nil {
		st.Criteria = criteria
		st.HasEligibilityCriteria = true
	}
	store.studies[st.ID] = st
	return st
}

func proofBytes(t *testing.T, info models.ParticipantInfo) []byte {
	t.Helper()
	b, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("marshal proof: %v", err)
	}
	return b
}

func newConsentFixture(store *stubStore, custody *stubCustody) *ConsentService {
	svc := NewConsentService(store, custody, NewAdminService(store))
	svc.now = fixedClock(testNow)
	return svc
}

func TestEnroll(t *testing.T) {
	store := newStubStore()
	custody := newStubCustody()
	seedPublishedStudy(store, 10, nil)
	svc := newConsentFixture(store, custody)

	consent, err := svc.Enroll("p1", "S1", proofBytes(t, models.ParticipantInfo{Age: 30}))
	if err != nil {
		t.Fatalf("Enroll error: %v", err)
	}
	if consent.IsRevoked || consent.CredentialID == "" {
		t.Fatalf("unexpected consent: %+v", consent)
	}
	st, _ := store.GetStudy("S1")
	if st.EnrolledCount != 1 {
		t.Fatalf("enrolled_count = %d, want 1", st.EnrolledCount)
	}
	if len(custody.minted) != 1 {
		t.Fatalf("expected one minted credential")
	}
}

func TestEnrollDuplicate(t *testing.T) {
	store := newStubStore()
	seedPublishedStudy(store, 10, nil)
	svc := newConsentFixture(store, newStubCustody())

	proof := proofBytes(t, models.ParticipantInfo{Age: 30})
	if _, err := svc.Enroll("p1", "S1", proof); err != nil {
		t.Fatalf("first enroll: %v", err)
	}
	_, err := svc.Enroll("p1", "S1", proof)
	if err == nil {
		t.Fatalf("second enroll must fail")
	}
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	st, _ := store.GetStudy("S1")
	if st.EnrolledCount != 1 {
		t.Fatalf("enrolled_count must not double-increment, got %d", st.EnrolledCount)
	}
}

func TestEnrollStudyFull(t *testing.T) {
	store := newStubStore()
	seedPublishedStudy(store, 1, nil)
	svc := newConsentFixture(store, newStubCustody())

	if _, err := svc.Enroll("p1", "S1", proofBytes(t, models.ParticipantInfo{Age: 30})); err != nil {
		t.Fatalf("first enroll: %v", err)
	}
	_, err := svc.Enroll("p2", "S1", proofBytes(t, models.ParticipantInfo{Age: 40}))
	if err == nil {
		t.Fatalf("enrolling past capacity must fail")
	}
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorState {
		t.Fatalf("expected state error for full study, got %v", err)
	}
}

func TestEnrollEligibility(t *testing.T) {
	store := newStubStore()
	seedPublishedStudy(store, 10, &models.EligibilityCriteria{MinAge: intPtr(18), MaxAge: intPtr(65)})
	svc := newConsentFixture(store, newStubCustody())

	_, err := svc.Enroll("p1", "S1", proofBytes(t, models.ParticipantInfo{Age: 16}))
	if err == nil {
		t.Fatalf("ineligible participant must be rejected")
	}
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorData {
		t.Fatalf("expected data error, got %v", err)
	}
	st, _ := store.GetStudy("S1")
	if st.EnrolledCount != 0 {
		t.Fatalf("rejected enrollment must not count")
	}

	if _, err := svc.Enroll("p1", "S1", proofBytes(t, models.ParticipantInfo{Age: 30})); err != nil {
		t.Fatalf("eligible participant rejected: %v", err)
	}
}

func TestEnrollMalformedProof(t *testing.T) {
	store := newStubStore()
	seedPublishedStudy(store, 10, &models.EligibilityCriteria{MinAge: intPtr(18)})
	svc := newConsentFixture(store, newStubCustody())

	if _, err := svc.Enroll("p1", "S1", []byte("not json")); err == nil {
		t.Fatalf("malformed proof must be rejected")
	}
	if _, err := svc.Enroll("p1", "S1", nil); err == nil {
		t.Fatalf("empty proof must be rejected")
	}
}

func TestEnrollOutsideWindow(t *testing.T) {
	store := newStubStore()
	st := seedPublishedStudy(store, 10, nil)
	svc := newConsentFixture(store, newStubCustody())

	svc.now = fixedClock(time.Unix(st.EnrollmentEnd, 0).Add(time.Minute))
	if _, err := svc.Enroll("p1", "S1", proofBytes(t, models.ParticipantInfo{Age: 30})); err == nil {
		t.Fatalf("enrollment after the window must fail")
	}

	svc.now = fixedClock(time.Unix(st.EnrollmentStart, 0).Add(-time.Minute))
	if _, err := svc.Enroll("p1", "S1", proofBytes(t, models.ParticipantInfo{Age: 30})); err == nil {
		t.Fatalf("enrollment before the window must fail")
	}
}

func TestEnrollUnpublishedStudy(t *testing.T) {
	store := newStubStore()
	st := seedPublishedStudy(store, 10, nil)
	st.Status = models.StudyDraft
	svc := newConsentFixture(store, newStubCustody())

	_, err := svc.Enroll("p1", "S1", proofBytes(t, models.ParticipantInfo{Age: 30}))
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorState {
		t.Fatalf("expected state error, got %v", err)
	}
}

func TestEnrollCustodyFailureAborts(t *testing.T) {
	store := newStubStore()
	custody := newStubCustody()
	custody.failMint = true
	seedPublishedStudy(store, 10, nil)
	svc := newConsentFixture(store, custody)

	if _, err := svc.Enroll("p1", "S1", proofBytes(t, models.ParticipantInfo{Age: 30})); err == nil {
		t.Fatalf("custody failure must abort enrollment")
	}
	if len(store.consents) != 0 {
		t.Fatalf("no consent may persist after custody failure")
	}
	st, _ := store.GetStudy("S1")
	if st.EnrolledCount != 0 {
		t.Fatalf("counter must not move after custody failure")
	}
}

func TestRevokeConsent(t *testing.T) {
	store := newStubStore()
	custody := newStubCustody()
	seedPublishedStudy(store, 10, nil)
	svc := newConsentFixture(store, custody)

	if _, err := svc.Enroll("p1", "S1", proofBytes(t, models.ParticipantInfo{Age: 30})); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	revoked, err := svc.RevokeConsent("p1", "S1")
	if err != nil {
		t.Fatalf("RevokeConsent error: %v", err)
	}
	if !revoked.IsRevoked || revoked.RevocationTimestamp == nil {
		t.Fatalf("revocation not recorded: %+v", revoked)
	}
	if len(custody.burned) != 1 {
		t.Fatalf("credential must be burned on revocation")
	}
	// Enrolled count stays: capacity is not reopened.
	st, _ := store.GetStudy("S1")
	if st.EnrolledCount != 1 {
		t.Fatalf("enrolled_count must not decrement on revoke")
	}
	if _, err := svc.RevokeConsent("p1", "S1"); err == nil {
		t.Fatalf("revoking twice must fail")
	}
}

func TestRevokeAfterSubmissionBlocked(t *testing.T) {
	store := newStubStore()
	seedPublishedStudy(store, 10, nil)
	svc := newConsentFixture(store, newStubCustody())

	if _, err := svc.Enroll("p1", "S1", proofBytes(t, models.ParticipantInfo{Age: 30})); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	store.submissions[consentKey{"S1", "p1"}] = &models.Submission{StudyID: "S1", ParticipantID: "p1", SubmittedAt: testNow}

	_, err := svc.RevokeConsent("p1", "S1")
	if err == nil {
		t.Fatalf("revocation after submission must fail")
	}
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorParticipant {
		t.Fatalf("expected participant error, got %v", err)
	}
	c, _ := store.GetConsent("S1", "p1")
	if c.IsRevoked {
		t.Fatalf("consent must stay unrevoked after a blocked revocation")
	}
}

func TestGetConsentStatus(t *testing.T) {
	store := newStubStore()
	seedPublishedStudy(store, 10, nil)
	svc := newConsentFixture(store, newStubCustody())

	status, err := svc.GetConsentStatus("S1", "p1")
	if err != nil {
		t.Fatalf("GetConsentStatus error: %v", err)
	}
	if status.HasConsented {
		t.Fatalf("no consent recorded yet")
	}

	if _, err := svc.Enroll("p1", "S1", proofBytes(t, models.ParticipantInfo{Age: 30})); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	status, err = svc.GetConsentStatus("S1", "p1")
	if err != nil {
		t.Fatalf("GetConsentStatus error: %v", err)
	}
	if !status.HasConsented || status.IsRevoked || status.HasSubmitted {
		t.Fatalf("unexpected status: %+v", status)
	}
}

package services

import (
	"math"
	"time"

	"github.com/recrusearch/recrusearch/internal/models"
)

type RewardStore interface {
	GetStudy(id string) (*models.Study, error)
	UpdateStudy(st *models.Study) error
	GetVault(studyID string) (*models.RewardVault, error)
	CreateVault(v *models.RewardVault) error
	UpdateVault(v *models.RewardVault) error
	GetSubmission(studyID, participantID string) (*models.Submission, error)
	UpdateSubmission(sub *models.Submission) error
	AddAudit(entry AuditEntry)
}

// RewardService owns vault custody and reward settlement. The
// reward-distributed flag on a submission is the sole double-payment guard;
// everything else is re-validated on each attempt so retries are safe.
type RewardService struct {
	store   RewardStore
	custody Custody
	admin   *AdminService
	now     func() time.Time
}

func NewRewardService(store RewardStore, custody Custody, admin *AdminService) *RewardService {
	return &RewardService{
		store:   store,
		custody: custody,
		admin:   admin,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateRewardVault funds a study's vault with a deposit covering every
// possible payout. The transfer into custody happens before the vault record
// is written so a failed transfer creates nothing.
func (s *RewardService) CreateRewardVault(researcherID, studyID, assetID string, deposit uint64) (*models.RewardVault, error) {
	st, err := s.store.GetStudy(studyID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, NewNotFoundError("study not found")
	}
	if researcherID == "" || st.ResearcherID != researcherID {
		return nil, NewUnauthorizedError("only the study researcher can create the vault")
	}
	if assetID == "" {
		return nil, NewValidationError("asset id required")
	}
	existing, err := s.store.GetVault(studyID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("vault already exists for this study")
	}
	required, err := checkedMulU64(st.RewardAmount, uint64(st.MaxParticipants))
	if err != nil {
		return nil, err
	}
	if deposit < required {
		return nil, NewFundsError("deposit does not cover the full participant reward pool")
	}
	if s.custody.Balance(assetID, researcherID) < deposit {
		return nil, NewFundsError("insufficient balance for initial deposit")
	}

	if err := s.custody.TransferToVault(assetID, researcherID, studyID, deposit); err != nil {
		return nil, err
	}
	vault := &models.RewardVault{
		StudyID:        studyID,
		AssetID:        assetID,
		TotalDeposited: deposit,
		CreatedAt:      s.now(),
	}
	if err := s.store.CreateVault(vault); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: researcherID, Action: "vault_create", Target: studyID})
	return vault, nil
}

// SettleReward pays one participant's reward and marks the submission
// claimed. Either the study researcher or the participant may trigger it.
func (s *RewardService) SettleReward(actorID, studyID, participantID string) (*models.Submission, error) {
	st, err := s.store.GetStudy(studyID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, NewNotFoundError("study not found")
	}
	if actorID == "" || (actorID != st.ResearcherID && actorID != participantID) {
		return nil, NewUnauthorizedError("only the researcher or the participant can settle")
	}
	if st.Status != models.StudyActive && st.Status != models.StudyClosed {
		return nil, NewStateError("study is not in a settleable state")
	}
	sub, err := s.store.GetSubmission(studyID, participantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, NewNotFoundError("submission not found")
	}
	if sub.RewardDistributed {
		return nil, NewFundsError("reward already claimed")
	}
	now := s.now()
	if now.Sub(sub.SubmittedAt) < models.RewardCooldown {
		return nil, NewStateError("settlement cooldown has not elapsed")
	}
	vault, err := s.store.GetVault(studyID)
	if err != nil {
		return nil, err
	}
	if vault == nil {
		return nil, NewNotFoundError("reward vault not found")
	}
	if vault.TotalDeposited-vault.TotalDistributed < st.RewardAmount {
		return nil, NewFundsError("vault balance below reward amount")
	}

	// Custody calls come before any record mutation: a failed transfer or
	// mint aborts the settlement with no state change.
	credID, err := s.custody.MintCredential(participantID, CredentialCompletion, studyID)
	if err != nil {
		return nil, err
	}
	if err := s.custody.TransferFromVault(vault.AssetID, studyID, participantID, st.RewardAmount); err != nil {
		return nil, err
	}

	distributed, err := checkedAddU64(vault.TotalDistributed, st.RewardAmount)
	if err != nil {
		return nil, err
	}
	studyTotal, err := checkedAddU64(st.TotalRewardsDistributed, st.RewardAmount)
	if err != nil {
		return nil, err
	}
	completed, err := checkedAddU32(st.CompletedCount, 1)
	if err != nil {
		return nil, err
	}
	vault.TotalDistributed = distributed
	st.TotalRewardsDistributed = studyTotal
	st.CompletedCount = completed
	sub.RewardDistributed = true
	sub.CompletionCredentialID = credID

	if err := s.store.UpdateVault(vault); err != nil {
		return nil, err
	}
	if err := s.store.UpdateStudy(st); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSubmission(sub); err != nil {
		return nil, err
	}
	if err := s.admin.RecordRewardsDistributed(st.RewardAmount); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: now, Actor: actorID, Action: "reward_settle", Target: studyID, Note: participantID})
	return sub, nil
}

func checkedMulU64(a, b uint64) (uint64, error) {
	if a != 0 && b > math.MaxUint64/a {
		return 0, NewArithmeticError("reward pool overflow")
	}
	return a * b, nil
}

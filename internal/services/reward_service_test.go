package services

import (
	"testing"
	"time"

	"github.com/recrusearch/recrusearch/internal/models"
)

func newRewardFixture(store *stubStore, custody *stubCustody) *RewardService {
	svc := NewRewardService(store, custody, NewAdminService(store))
	svc.now = fixedClock(testNow)
	return svc
}

func seedSubmission(store *stubStore, studyID, participantID string, submittedAt time.Time) *models.Submission {
	sub := &models.Submission{
		StudyID:       studyID,
		ParticipantID: participantID,
		DataHash:      testHash,
		ContentID:     testContentID,
		SubmittedAt:   submittedAt,
	}
	store.submissions[consentKey{studyID, participantID}] = sub
	return sub
}

func TestCreateRewardVault(t *testing.T) {
	store := newStubStore()
	custody := newStubCustody()
	seedPublishedStudy(store, 10, nil) // reward 100, so the pool is 1000
	custody.balances["r1"] = 5000
	svc := newRewardFixture(store, custody)

	vault, err := svc.CreateRewardVault("r1", "S1", "USDC", 1000)
	if err != nil {
		t.Fatalf("CreateRewardVault error: %v", err)
	}
	if vault.TotalDeposited != 1000 || vault.TotalDistributed != 0 {
		t.Fatalf("unexpected vault: %+v", vault)
	}
	if custody.balances["r1"] != 4000 {
		t.Fatalf("deposit not debited, balance %d", custody.balances["r1"])
	}

	if _, err := svc.CreateRewardVault("r1", "S1", "USDC", 1000); err == nil {
		t.Fatalf("a study has at most one vault")
	}
}

func TestCreateRewardVaultGuards(t *testing.T) {
	store := newStubStore()
	custody := newStubCustody()
	seedPublishedStudy(store, 10, nil)
	custody.balances["r1"] = 5000
	svc := newRewardFixture(store, custody)

	if _, err := svc.CreateRewardVault("other", "S1", "USDC", 1000); err == nil {
		t.Fatalf("only the study researcher funds the vault")
	}
	if _, err := svc.CreateRewardVault("r1", "S1", "", 1000); err == nil {
		t.Fatalf("asset id is required")
	}
	_, err := svc.CreateRewardVault("r1", "S1", "USDC", 999)
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorFunds {
		t.Fatalf("deposit below reward pool must fail with funds error, got %v", err)
	}

	custody.balances["r1"] = 500
	_, err = svc.CreateRewardVault("r1", "S1", "USDC", 1000)
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorFunds {
		t.Fatalf("insufficient balance must fail with funds error, got %v", err)
	}
	if v, _ := store.GetVault("S1"); v != nil {
		t.Fatalf("no vault may exist after a failed funding")
	}
}

func TestSettleReward(t *testing.T) {
	store := newStubStore()
	custody := newStubCustody()
	st := seedPublishedStudy(store, 10, nil)
	st.Status = models.StudyActive
	custody.balances["r1"] = 5000
	svc := newRewardFixture(store, custody)
	if _, err := svc.CreateRewardVault("r1", "S1", "USDC", 1000); err != nil {
		t.Fatalf("fund vault: %v", err)
	}
	seedSubmission(store, "S1", "p1", testNow.Add(-25*time.Hour))

	sub, err := svc.SettleReward("p1", "S1", "p1")
	if err != nil {
		t.Fatalf("SettleReward error: %v", err)
	}
	if !sub.RewardDistributed || sub.CompletionCredentialID == "" {
		t.Fatalf("settlement not recorded: %+v", sub)
	}
	if custody.balances["p1"] != 100 {
		t.Fatalf("participant balance = %d, want 100", custody.balances["p1"])
	}
	vault, _ := store.GetVault("S1")
	if vault.TotalDistributed != 100 {
		t.Fatalf("vault distributed = %d, want 100", vault.TotalDistributed)
	}
	st, _ = store.GetStudy("S1")
	if st.CompletedCount != 1 || st.TotalRewardsDistributed != 100 {
		t.Fatalf("study counters not updated: %+v", st)
	}
}

func TestSettleRewardCooldown(t *testing.T) {
	store := newStubStore()
	custody := newStubCustody()
	st := seedPublishedStudy(store, 10, nil)
	st.Status = models.StudyActive
	custody.balances["r1"] = 5000
	svc := newRewardFixture(store, custody)
	if _, err := svc.CreateRewardVault("r1", "S1", "USDC", 1000); err != nil {
		t.Fatalf("fund vault: %v", err)
	}
	seedSubmission(store, "S1", "p1", testNow.Add(-time.Hour))

	_, err := svc.SettleReward("p1", "S1", "p1")
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorState {
		t.Fatalf("settlement inside the cooldown must fail, got %v", err)
	}

	// The same claim succeeds once the cooldown has elapsed.
	svc.now = fixedClock(testNow.Add(models.RewardCooldown))
	if _, err := svc.SettleReward("p1", "S1", "p1"); err != nil {
		t.Fatalf("settlement after cooldown: %v", err)
	}
}

func TestSettleRewardDoubleClaim(t *testing.T) {
	store := newStubStore()
	custody := newStubCustody()
	st := seedPublishedStudy(store, 10, nil)
	st.Status = models.StudyClosed
	custody.balances["r1"] = 5000
	svc := newRewardFixture(store, custody)
	if _, err := svc.CreateRewardVault("r1", "S1", "USDC", 1000); err != nil {
		t.Fatalf("fund vault: %v", err)
	}
	seedSubmission(store, "S1", "p1", testNow.Add(-25*time.Hour))

	if _, err := svc.SettleReward("r1", "S1", "p1"); err != nil {
		t.Fatalf("first settlement: %v", err)
	}
	_, err := svc.SettleReward("p1", "S1", "p1")
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorFunds {
		t.Fatalf("second settlement must fail with funds error, got %v", err)
	}
	if custody.balances["p1"] != 100 {
		t.Fatalf("participant paid more than once: %d", custody.balances["p1"])
	}
}

func TestSettleRewardGuards(t *testing.T) {
	store := newStubStore()
	custody := newStubCustody()
	st := seedPublishedStudy(store, 10, nil)
	custody.balances["r1"] = 5000
	svc := newRewardFixture(store, custody)
	if _, err := svc.CreateRewardVault("r1", "S1", "USDC", 1000); err != nil {
		t.Fatalf("fund vault: %v", err)
	}
	seedSubmission(store, "S1", "p1", testNow.Add(-25*time.Hour))

	// Published studies cannot settle yet.
	_, err := svc.SettleReward("p1", "S1", "p1")
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorState {
		t.Fatalf("expected state error while published, got %v", err)
	}

	st.Status = models.StudyActive
	if _, err := svc.SettleReward("stranger", "S1", "p1"); err == nil {
		t.Fatalf("a third party cannot settle")
	}
	if _, err := svc.SettleReward("p1", "S1", "p2"); err == nil {
		t.Fatalf("missing submission must fail")
	}
}

func TestSettleRewardCustodyFailureAborts(t *testing.T) {
	store := newStubStore()
	custody := newStubCustody()
	st := seedPublishedStudy(store, 10, nil)
	st.Status = models.StudyActive
	custody.balances["r1"] = 5000
	svc := newRewardFixture(store, custody)
	if _, err := svc.CreateRewardVault("r1", "S1", "USDC", 1000); err != nil {
		t.Fatalf("fund vault: %v", err)
	}
	seedSubmission(store, "S1", "p1", testNow.Add(-25*time.Hour))

	custody.failXfer = true
	if _, err := svc.SettleReward("p1", "S1", "p1"); err == nil {
		t.Fatalf("custody failure must abort settlement")
	}
	sub, _ := store.GetSubmission("S1", "p1")
	if sub.RewardDistributed {
		t.Fatalf("submission must stay unclaimed after an aborted settlement")
	}
	vault, _ := store.GetVault("S1")
	if vault.TotalDistributed != 0 {
		t.Fatalf("vault must be untouched after an aborted settlement")
	}
}

func TestSettleRewardVaultDepleted(t *testing.T) {
	store := newStubStore()
	custody := newStubCustody()
	st := seedPublishedStudy(store, 10, nil)
	st.Status = models.StudyActive
	custody.balances["r1"] = 5000
	svc := newRewardFixture(store, custody)
	if _, err := svc.CreateRewardVault("r1", "S1", "USDC", 1000); err != nil {
		t.Fatalf("fund vault: %v", err)
	}
	vault, _ := store.GetVault("S1")
	vault.TotalDistributed = 950
	if err := store.UpdateVault(vault); err != nil {
		t.Fatalf("update vault: %v", err)
	}
	seedSubmission(store, "S1", "p1", testNow.Add(-25*time.Hour))

	_, err := svc.SettleReward("p1", "S1", "p1")
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorFunds {
		t.Fatalf("depleted vault must fail with funds error, got %v", err)
	}
}

func TestCheckedMulOverflow(t *testing.T) {
	if _, err := checkedMulU64(1<<63, 2); err == nil {
		t.Fatalf("overflowing pool size must fail")
	}
	if v, err := checkedMulU64(0, 5); err != nil || v != 0 {
		t.Fatalf("zero multiplicand: %v %d", v, err)
	}
}

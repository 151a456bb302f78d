package services

import (
	"errors"
	"time"

	"github.com/recrusearch/recrusearch/internal/models"
)

type consentKey struct{ study, participant string }

// stubStore backs the service tests with plain maps and insert-if-absent
// semantics matching the real stores.
type stubStore struct {
	admin       *models.AdminConfig
	studies     map[string]*models.Study
	consents    map[consentKey]*models.Consent
	submissions map[consentKey]*models.Submission
	vaults      map[string]*models.RewardVault
	schemas     map[string]*models.SurveySchema
	users       map[string]*models.User
	audit       []AuditEntry
}

func newStubStore() *stubStore {
	return &stubStore{
		studies:     map[string]*models.Study{},
		consents:    map[consentKey]*models.Consent{},
		submissions: map[consentKey]*models.Submission{},
		vaults:      map[string]*models.RewardVault{},
		schemas:     map[string]*models.SurveySchema{},
		users:       map[string]*models.User{},
	}
}

func (s *stubStore) GetAdminConfig() (*models.AdminConfig, error) { return s.admin, nil }

func (s *stubStore) CreateAdminConfig(cfg *models.AdminConfig) error {
	if s.admin != nil {
		return NewConflictError("admin config exists")
	}
	c := *cfg
	s.admin = &c
	return nil
}

func (s *stubStore) UpdateAdminConfig(cfg *models.AdminConfig) error {
	c := *cfg
	s.admin = &c
	return nil
}

func (s *stubStore) CreateStudy(st *models.Study) error {
	if _, ok := s.studies[st.ID]; ok {
		return NewConflictError("study exists")
	}
	c := *st
	s.studies[st.ID] = &c
	return nil
}

func (s *stubStore) GetStudy(id string) (*models.Study, error) {
	st, ok := s.studies[id]
	if !ok {
		return nil, nil
	}
	c := *st
	return &c, nil
}

func (s *stubStore) UpdateStudy(st *models.Study) error {
	if _, ok := s.studies[st.ID]; !ok {
		return NewNotFoundError("study not found")
	}
	c := *st
	s.studies[st.ID] = &c
	return nil
}

func (s *stubStore) GetConsent(studyID, participantID string) (*models.Consent, error) {
	c, ok := s.consents[consentKey{studyID, participantID}]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *stubStore) CreateConsent(c *models.Consent) error {
	k := consentKey{c.StudyID, c.ParticipantID}
	if _, ok := s.consents[k]; ok {
		return NewConflictError("consent exists")
	}
	cp := *c
	s.consents[k] = &cp
	return nil
}

func (s *stubStore) UpdateConsent(c *models.Consent) error {
	cp := *c
	s.consents[consentKey{c.StudyID, c.ParticipantID}] = &cp
	return nil
}

func (s *stubStore) GetSubmission(studyID, participantID string) (*models.Submission, error) {
	sub, ok := s.submissions[consentKey{studyID, participantID}]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (s *stubStore) CreateSubmission(sub *models.Submission) error {
	k := consentKey{sub.StudyID, sub.ParticipantID}
	if _, ok := s.submissions[k]; ok {
		return NewConflictError("submission exists")
	}
	cp := *sub
	s.submissions[k] = &cp
	return nil
}

func (s *stubStore) UpdateSubmission(sub *models.Submission) error {
	cp := *sub
	s.submissions[consentKey{sub.StudyID, sub.ParticipantID}] = &cp
	return nil
}

func (s *stubStore) GetVault(studyID string) (*models.RewardVault, error) {
	v, ok := s.vaults[studyID]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (s *stubStore) CreateVault(v *models.RewardVault) error {
	if _, ok := s.vaults[v.StudyID]; ok {
		return NewConflictError("vault exists")
	}
	cp := *v
	s.vaults[v.StudyID] = &cp
	return nil
}

func (s *stubStore) UpdateVault(v *models.RewardVault) error {
	cp := *v
	s.vaults[v.StudyID] = &cp
	return nil
}

func (s *stubStore) GetSurveySchema(studyID string) (*models.SurveySchema, error) {
	sc, ok := s.schemas[studyID]
	if !ok {
		return nil, nil
	}
	cp := *sc
	return &cp, nil
}

func (s *stubStore) CreateSurveySchema(sc *models.SurveySchema) error {
	if _, ok := s.schemas[sc.StudyID]; ok {
		return NewConflictError("schema exists")
	}
	cp := *sc
	s.schemas[sc.StudyID] = &cp
	return nil
}

func (s *stubStore) UpdateSurveySchema(sc *models.SurveySchema) error {
	cp := *sc
	s.schemas[sc.StudyID] = &cp
	return nil
}

func (s *stubStore) FindUserByEmail(email string) (*models.User, error) {
	u, ok := s.users[email]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *stubStore) AddUser(u *models.User) error {
	cp := *u
	s.users[u.Email] = &cp
	return nil
}

func (s *stubStore) AddAudit(entry AuditEntry) { s.audit = append(s.audit, entry) }

// stubCustody records calls and can be told to fail.
type stubCustody struct {
	balances  map[string]uint64 // account -> amount, single asset
	minted    []string
	burned    []string
	failMint  bool
	failXfer  bool
	transfers int
}

func newStubCustody() *stubCustody {
	return &stubCustody{balances: map[string]uint64{}}
}

func (c *stubCustody) MintCredential(owner, kind, studyID string) (string, error) {
	if c.failMint {
		return "", errors.New("custody unavailable")
	}
	id := "cred_" + kind + "_" + owner
	c.minted = append(c.minted, id)
	return id, nil
}

func (c *stubCustody) BurnCredential(credentialID string) error {
	c.burned = append(c.burned, credentialID)
	return nil
}

func (c *stubCustody) TransferToVault(assetID, from, studyID string, amount uint64) error {
	return c.transfer(from, "vault:"+studyID, amount)
}

func (c *stubCustody) TransferFromVault(assetID, studyID, to string, amount uint64) error {
	return c.transfer("vault:"+studyID, to, amount)
}

func (c *stubCustody) Balance(assetID, account string) uint64 { return c.balances[account] }

func (c *stubCustody) transfer(from, to string, amount uint64) error {
	if c.failXfer {
		return errors.New("custody unavailable")
	}
	if c.balances[from] < amount {
		return NewFundsError("insufficient balance")
	}
	c.balances[from] -= amount
	c.balances[to] += amount
	c.transfers++
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

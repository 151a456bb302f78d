package api

import (
	"sort"
	"strings"
	"sync"

	"github.com/recrusearch/recrusearch/internal/models"
	"github.com/recrusearch/recrusearch/internal/services"
)

type recordKey struct{ studyID, participantID string }

// memoryStore keeps every record behind one RWMutex and hands out copies, so
// a caller's mutations only land through an explicit Update*. Create* is
// insert-if-absent; the (study, participant) composite key is what makes
// enrollments and submissions unique.
type memoryStore struct {
	mu           sync.RWMutex
	admin        *models.AdminConfig
	studies      map[string]*models.Study
	consents     map[recordKey]*models.Consent
	submissions  map[recordKey]*models.Submission
	vaults       map[string]*models.RewardVault
	schemas      map[string]*models.SurveySchema
	usersByEmail map[string]*models.User
	audit        []services.AuditEntry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		studies:      map[string]*models.Study{},
		consents:     map[recordKey]*models.Consent{},
		submissions:  map[recordKey]*models.Submission{},
		vaults:       map[string]*models.RewardVault{},
		schemas:      map[string]*models.SurveySchema{},
		usersByEmail: map[string]*models.User{},
	}
}

func (s *memoryStore) GetAdminConfig() (*models.AdminConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.admin == nil {
		return nil, nil
	}
	c := *s.admin
	return &c, nil
}

func (s *memoryStore) CreateAdminConfig(cfg *models.AdminConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.admin != nil {
		return services.NewConflictError("protocol already initialized")
	}
	c := *cfg
	s.admin = &c
	return nil
}

func (s *memoryStore) UpdateAdminConfig(cfg *models.AdminConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.admin == nil {
		return services.NewNotFoundError("protocol not initialized")
	}
	c := *cfg
	s.admin = &c
	return nil
}

func (s *memoryStore) CreateStudy(st *models.Study) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.studies[st.ID]; ok {
		return services.NewConflictError("study exists")
	}
	c := *st
	s.studies[st.ID] = &c
	return nil
}

func (s *memoryStore) GetStudy(id string) (*models.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.studies[id]
	if !ok {
		return nil, nil
	}
	c := *st
	return &c, nil
}

func (s *memoryStore) UpdateStudy(st *models.Study) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.studies[st.ID]; !ok {
		return services.NewNotFoundError("study not found")
	}
	c := *st
	s.studies[st.ID] = &c
	return nil
}

func (s *memoryStore) ListStudies() ([]*models.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Study, 0, len(s.studies))
	for _, st := range s.studies {
		c := *st
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) GetConsent(studyID, participantID string) (*models.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consents[recordKey{studyID, participantID}]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *memoryStore) CreateConsent(c *models.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{c.StudyID, c.ParticipantID}
	if _, ok := s.consents[k]; ok {
		return services.NewConflictError("consent exists")
	}
	cp := *c
	s.consents[k] = &cp
	return nil
}

func (s *memoryStore) UpdateConsent(c *models.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{c.StudyID, c.ParticipantID}
	if _, ok := s.consents[k]; !ok {
		return services.NewNotFoundError("consent not found")
	}
	cp := *c
	s.consents[k] = &cp
	return nil
}

func (s *memoryStore) GetSubmission(studyID, participantID string) (*models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[recordKey{studyID, participantID}]
	if !ok {
		return nil, nil
	}
	c := *sub
	return &c, nil
}

func (s *memoryStore) CreateSubmission(sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{sub.StudyID, sub.ParticipantID}
	if _, ok := s.submissions[k]; ok {
		return services.NewConflictError("submission exists")
	}
	c := *sub
	s.submissions[k] = &c
	return nil
}

func (s *memoryStore) UpdateSubmission(sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{sub.StudyID, sub.ParticipantID}
	if _, ok := s.submissions[k]; !ok {
		return services.NewNotFoundError("submission not found")
	}
	c := *sub
	s.submissions[k] = &c
	return nil
}

func (s *memoryStore) GetVault(studyID string) (*models.RewardVault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vaults[studyID]
	if !ok {
		return nil, nil
	}
	c := *v
	return &c, nil
}

func (s *memoryStore) CreateVault(v *models.RewardVault) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vaults[v.StudyID]; ok {
		return services.NewConflictError("vault exists")
	}
	c := *v
	s.vaults[v.StudyID] = &c
	return nil
}

func (s *memoryStore) UpdateVault(v *models.RewardVault) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vaults[v.StudyID]; !ok {
		return services.NewNotFoundError("vault not found")
	}
	c := *v
	s.vaults[v.StudyID] = &c
	return nil
}

func (s *memoryStore) GetSurveySchema(studyID string) (*models.SurveySchema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schemas[studyID]
	if !ok {
		return nil, nil
	}
	c := *sc
	return &c, nil
}

func (s *memoryStore) CreateSurveySchema(sc *models.SurveySchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schemas[sc.StudyID]; ok {
		return services.NewConflictError("schema exists")
	}
	c := *sc
	s.schemas[sc.StudyID] = &c
	return nil
}

func (s *memoryStore) UpdateSurveySchema(sc *models.SurveySchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schemas[sc.StudyID]; !ok {
		return services.NewNotFoundError("schema not found")
	}
	c := *sc
	s.schemas[sc.StudyID] = &c
	return nil
}

func (s *memoryStore) FindUserByEmail(email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (s *memoryStore) AddUser(u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := strings.ToLower(u.Email)
	if _, ok := s.usersByEmail[k]; ok {
		return services.NewConflictError("email exists")
	}
	c := *u
	s.usersByEmail[k] = &c
	return nil
}

func (s *memoryStore) AddAudit(e services.AuditEntry) {
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
}

func (s *memoryStore) ListAudit() []services.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]services.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

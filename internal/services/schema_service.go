package services

import (
	"time"

	"github.com/recrusearch/recrusearch/internal/models"
)

type SchemaStore interface {
	GetStudy(id string) (*models.Study, error)
	GetSurveySchema(studyID string) (*models.SurveySchema, error)
	CreateSurveySchema(sc *models.SurveySchema) error
	UpdateSurveySchema(sc *models.SurveySchema) error
	AddAudit(entry AuditEntry)
}

// SchemaService manages the survey schema reference for a study. The schema
// content itself is off-chain; the engine only holds its content identifier.
type SchemaService struct {
	store SchemaStore
	now   func() time.Time
}

func NewSchemaService(store SchemaStore) *SchemaService {
	return &SchemaService{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SchemaService) CreateSurveySchema(researcherID, studyID, title, schemaContentID string, requiresEncryption bool) (*models.SurveySchema, error) {
	st, err := s.store.GetStudy(studyID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, NewNotFoundError("study not found")
	}
	if researcherID == "" || st.ResearcherID != researcherID {
		return nil, NewUnauthorizedError("only the study researcher can manage the schema")
	}
	if len(title) < models.MinSchemaTitleLength || len(title) > models.MaxTitleLength {
		return nil, NewValidationError("schema title must be 5-100 characters")
	}
	if err := validateContentID(schemaContentID); err != nil {
		return nil, err
	}
	existing, err := s.store.GetSurveySchema(studyID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("schema already exists for this study")
	}
	sc := &models.SurveySchema{
		StudyID:            studyID,
		Title:              title,
		SchemaContentID:    schemaContentID,
		RequiresEncryption: requiresEncryption,
		CreatedAt:          s.now(),
	}
	if err := s.store.CreateSurveySchema(sc); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: researcherID, Action: "schema_create", Target: studyID, Note: title})
	return sc, nil
}

func (s *SchemaService) FinalizeSurveySchema(researcherID, studyID string) (*models.SurveySchema, error) {
	st, err := s.store.GetStudy(studyID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, NewNotFoundError("study not found")
	}
	if researcherID == "" || st.ResearcherID != researcherID {
		return nil, NewUnauthorizedError("only the study researcher can manage the schema")
	}
	sc, err := s.store.GetSurveySchema(studyID)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, NewNotFoundError("schema not found")
	}
	if sc.Finalized {
		return nil, NewConflictError("schema already finalized")
	}
	sc.Finalized = true
	if err := s.store.UpdateSurveySchema(sc); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: researcherID, Action: "schema_finalize", Target: studyID})
	return sc, nil
}

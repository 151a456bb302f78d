package api

import (
	"github.com/recrusearch/recrusearch/internal/models"
	"github.com/recrusearch/recrusearch/internal/services"
)

// Store is the full persistence surface the router wires into the services.
// Every service declares the narrow slice it needs; any Store satisfies all
// of them.
type Store interface {
	GetAdminConfig() (*models.AdminConfig, error)
	CreateAdminConfig(cfg *models.AdminConfig) error
	UpdateAdminConfig(cfg *models.AdminConfig) error

	CreateStudy(st *models.Study) error
	GetStudy(id string) (*models.Study, error)
	UpdateStudy(st *models.Study) error
	ListStudies() ([]*models.Study, error)

	GetConsent(studyID, participantID string) (*models.Consent, error)
	CreateConsent(c *models.Consent) error
	UpdateConsent(c *models.Consent) error

	GetSubmission(studyID, participantID string) (*models.Submission, error)
	CreateSubmission(sub *models.Submission) error
	UpdateSubmission(sub *models.Submission) error

	GetVault(studyID string) (*models.RewardVault, error)
	CreateVault(v *models.RewardVault) error
	UpdateVault(v *models.RewardVault) error

	GetSurveySchema(studyID string) (*models.SurveySchema, error)
	CreateSurveySchema(sc *models.SurveySchema) error
	UpdateSurveySchema(sc *models.SurveySchema) error

	FindUserByEmail(email string) (*models.User, error)
	AddUser(u *models.User) error

	AddAudit(e services.AuditEntry)
	ListAudit() []services.AuditEntry
}

var _ Store = (*memoryStore)(nil)

package models

import "time"

// StudyStatus is the lifecycle phase of a study.
type StudyStatus string

const (
	StudyDraft     StudyStatus = "draft"
	StudyPublished StudyStatus = "published"
	StudyActive    StudyStatus = "active"
	StudyClosed    StudyStatus = "closed"
	StudyArchived  StudyStatus = "archived"
)

// Platform-wide bounds. Durations are in seconds of unix time so they can be
// compared directly against the study's timestamp boundaries.
const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 500

	MinStudyDuration    int64 = 86400    // 1 day
	MaxStudyDuration    int64 = 31536000 // 1 year
	MinEnrollmentWindow int64 = 3600     // 1 hour

	MaxParticipantsPerStudy = 10000

	DefaultProtocolFeeBps = 250  // 2.5%
	MaxProtocolFeeBps     = 1000 // 10%

	MinAgeLimit = 18
	MaxAgeLimit = 100

	MinContentIDLength = 10
	MaxContentIDLength = 100

	MaxCriteriaSize = 500

	MinSchemaTitleLength = 5
)

// RewardCooldown is the mandatory delay between a data submission and the
// settlement of its reward.
const RewardCooldown = 24 * time.Hour

// AdminConfig is the singleton protocol configuration. Counters are advisory
// aggregates updated by the engine operations that own them.
type AdminConfig struct {
	AdminID                 string    `json:"admin_id"`
	ProtocolFeeBps          int       `json:"protocol_fee_bps"`
	MinStudyDuration        int64     `json:"min_study_duration"`
	MaxStudyDuration        int64     `json:"max_study_duration"`
	TotalStudies            uint64    `json:"total_studies"`
	TotalParticipants       uint64    `json:"total_participants"`
	TotalRewardsDistributed uint64    `json:"total_rewards_distributed"`
	CreatedAt               time.Time `json:"created_at"`
}

// Study is a researcher-owned recruitment campaign with timing windows and
// capacity. Studies are never deleted, only archived.
type Study struct {
	ID                      string               `json:"id"`
	ResearcherID            string               `json:"researcher_id"`
	Title                   string               `json:"title"`
	Description             string               `json:"description"`
	EnrollmentStart         int64                `json:"enrollment_start"`
	EnrollmentEnd           int64                `json:"enrollment_end"`
	DataCollectionEnd       int64                `json:"data_collection_end"`
	MaxParticipants         uint32               `json:"max_participants"`
	EnrolledCount           uint32               `json:"enrolled_count"`
	CompletedCount          uint32               `json:"completed_count"`
	RewardAmount            uint64               `json:"reward_amount_per_participant"`
	TotalRewardsDistributed uint64               `json:"total_rewards_distributed"`
	Status                  StudyStatus          `json:"status"`
	HasEligibilityCriteria  bool                 `json:"has_eligibility_criteria"`
	Criteria                *EligibilityCriteria `json:"eligibility_criteria,omitempty"`
	CreatedAt               time.Time            `json:"created_at"`
}

// Consent is a participant's enrollment record in a study, revocable until
// data has been submitted. One consent per (study, participant).
type Consent struct {
	StudyID             string     `json:"study_id"`
	ParticipantID       string     `json:"participant_id"`
	Timestamp           time.Time  `json:"timestamp"`
	IsRevoked           bool       `json:"is_revoked"`
	RevocationTimestamp *time.Time `json:"revocation_timestamp,omitempty"`
	EligibilityProof    []byte     `json:"eligibility_proof,omitempty"`
	CredentialID        string     `json:"credential_id,omitempty"`
}

// Submission records a participant's completed, encrypted data contribution.
// The payload itself lives off-chain; only its hash and content identifier are
// kept here. Immutable except for verification and reward settlement.
type Submission struct {
	StudyID                string    `json:"study_id"`
	ParticipantID          string    `json:"participant_id"`
	DataHash               [32]byte  `json:"-"`
	ContentID              string    `json:"content_id"`
	SubmittedAt            time.Time `json:"submitted_at"`
	IsVerified             bool      `json:"is_verified"`
	RewardDistributed      bool      `json:"reward_distributed"`
	CompletionCredentialID string    `json:"completion_credential_id,omitempty"`
}

// RewardVault is pooled-fund custody scoped to one study. TotalDistributed
// only increases and never exceeds TotalDeposited.
type RewardVault struct {
	StudyID          string    `json:"study_id"`
	AssetID          string    `json:"asset_id"`
	TotalDeposited   uint64    `json:"total_deposited"`
	TotalDistributed uint64    `json:"total_distributed"`
	CreatedAt        time.Time `json:"created_at"`
}

// EligibilityCriteria are researcher-defined constraints a participant must
// satisfy to enroll. A nil/absent field means no constraint on that dimension.
type EligibilityCriteria struct {
	MinAge             *int     `json:"min_age,omitempty"`
	MaxAge             *int     `json:"max_age,omitempty"`
	Gender             *string  `json:"gender,omitempty"`
	Location           *string  `json:"location,omitempty"`
	EducationLevel     *string  `json:"education_level,omitempty"`
	EmploymentStatus   *string  `json:"employment_status,omitempty"`
	ExcludedConditions []string `json:"excluded_conditions,omitempty"`
	CustomRequirements []string `json:"custom_requirements,omitempty"`
}

// ParticipantInfo is the payload a participant submits as eligibility proof.
type ParticipantInfo struct {
	Age               int      `json:"age"`
	Gender            string   `json:"gender,omitempty"`
	Location          string   `json:"location,omitempty"`
	EducationLevel    string   `json:"education_level,omitempty"`
	EmploymentStatus  string   `json:"employment_status,omitempty"`
	MedicalConditions []string `json:"medical_conditions,omitempty"`
	Attributes        []string `json:"attributes,omitempty"`
}

// SurveySchema describes the off-chain survey content for a study. The schema
// body is addressed by content identifier and never inspected by the engine.
type SurveySchema struct {
	StudyID            string    `json:"study_id"`
	Title              string    `json:"title"`
	SchemaContentID    string    `json:"schema_content_id"`
	RequiresEncryption bool      `json:"requires_encryption"`
	Finalized          bool      `json:"finalized"`
	CreatedAt          time.Time `json:"created_at"`
}

// User is a registered account. Role decides which operations the account may
// perform: researchers own studies, participants enroll in them.
type User struct {
	ID        string
	Email     string
	PassHash  []byte
	Role      string
	CreatedAt time.Time
}

const (
	RoleResearcher  = "researcher"
	RoleParticipant = "participant"
	RoleAdmin       = "admin"
)

package services

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is an append-only trace of engine operations.
type AuditEntry struct {
	Time   time.Time
	Actor  string
	Action string
	Target string
	Note   string
}

// EnrollmentProgress summarizes capacity and time progress for a study.
type EnrollmentProgress struct {
	ParticipantsPercentage int  `json:"participants_percentage"`
	TimePercentage         int  `json:"time_percentage"`
	IsEnrollmentOpen       bool `json:"is_enrollment_open"`
}

// TimeRemaining lists seconds left until each phase boundary. Already-passed
// boundaries report zero.
type TimeRemaining struct {
	UntilEnrollmentStart   int64  `json:"until_enrollment_start"`
	UntilEnrollmentEnd     int64  `json:"until_enrollment_end"`
	UntilDataCollectionEnd int64  `json:"until_data_collection_end"`
	CurrentPhase           string `json:"current_phase"`
}

// StudyInfo is the read-only study view returned by GetStudyInfo.
type StudyInfo struct {
	StudyID            string             `json:"study_id"`
	Title              string             `json:"title"`
	Description        string             `json:"description"`
	ResearcherID       string             `json:"researcher_id"`
	Status             string             `json:"status"`
	EnrollmentProgress EnrollmentProgress `json:"enrollment_progress"`
	TimeRemaining      TimeRemaining      `json:"time_remaining"`
	MaxParticipants    uint32             `json:"max_participants"`
	EnrolledCount      uint32             `json:"enrolled_count"`
	CompletedCount     uint32             `json:"completed_count"`
	RewardAmount       uint64             `json:"reward_amount"`
	CreatedAt          time.Time          `json:"created_at"`
}

// ConsentStatus is the read-only consent view for one (study, participant).
type ConsentStatus struct {
	StudyID             string     `json:"study_id"`
	ParticipantID       string     `json:"participant_id"`
	HasConsented        bool       `json:"has_consented"`
	IsRevoked           bool       `json:"is_revoked"`
	ConsentTimestamp    *time.Time `json:"consent_timestamp,omitempty"`
	RevocationTimestamp *time.Time `json:"revocation_timestamp,omitempty"`
	HasSubmitted        bool       `json:"has_submitted"`
}

// ProtocolStats is the global view over the admin configuration.
type ProtocolStats struct {
	AdminID                 string `json:"admin_id"`
	ProtocolFeeBps          int    `json:"protocol_fee_bps"`
	MinStudyDuration        int64  `json:"min_study_duration"`
	MaxStudyDuration        int64  `json:"max_study_duration"`
	TotalStudies            uint64 `json:"total_studies"`
	TotalParticipants       uint64 `json:"total_participants"`
	TotalRewardsDistributed uint64 `json:"total_rewards_distributed"`
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/recrusearch/recrusearch/internal/api"
	"github.com/recrusearch/recrusearch/internal/models"
	"github.com/recrusearch/recrusearch/internal/services"
)

// SQLiteStore is the durable implementation of api.Store. Uniqueness is
// enforced by the schema's primary keys, so concurrent inserts resolve to the
// same conflict errors the in-memory store produces.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func NewStore(db *sql.DB) (api.Store, error) {
	return NewSQLiteStore(db)
}

var _ api.Store = (*SQLiteStore)(nil)

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func (s *SQLiteStore) GetAdminConfig() (*models.AdminConfig, error) {
	row := s.db.QueryRow(`SELECT admin_id, protocol_fee_bps, min_study_duration, max_study_duration,
		total_studies, total_participants, total_rewards_distributed, created_at
		FROM admin_config WHERE id = 1`)
	cfg := &models.AdminConfig{}
	err := row.Scan(&cfg.AdminID, &cfg.ProtocolFeeBps, &cfg.MinStudyDuration, &cfg.MaxStudyDuration,
		&cfg.TotalStudies, &cfg.TotalParticipants, &cfg.TotalRewardsDistributed, &cfg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get admin config: %w", err)
	}
	return cfg, nil
}

func (s *SQLiteStore) CreateAdminConfig(cfg *models.AdminConfig) error {
	_, err := s.db.Exec(`INSERT INTO admin_config (id, admin_id, protocol_fee_bps, min_study_duration,
		max_study_duration, total_studies, total_participants, total_rewards_distributed, created_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.AdminID, cfg.ProtocolFeeBps, cfg.MinStudyDuration, cfg.MaxStudyDuration,
		cfg.TotalStudies, cfg.TotalParticipants, cfg.TotalRewardsDistributed, cfg.CreatedAt)
	if isConstraint(err) {
		return services.NewConflictError("protocol already initialized")
	}
	if err != nil {
		return fmt.Errorf("create admin config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateAdminConfig(cfg *models.AdminConfig) error {
	res, err := s.db.Exec(`UPDATE admin_config SET admin_id = ?, protocol_fee_bps = ?,
		min_study_duration = ?, max_study_duration = ?, total_studies = ?,
		total_participants = ?, total_rewards_distributed = ? WHERE id = 1`,
		cfg.AdminID, cfg.ProtocolFeeBps, cfg.MinStudyDuration, cfg.MaxStudyDuration,
		cfg.TotalStudies, cfg.TotalParticipants, cfg.TotalRewardsDistributed)
	if err != nil {
		return fmt.Errorf("update admin config: %w", err)
	}
	return requireRow(res, "protocol not initialized")
}

func (s *SQLiteStore) CreateStudy(st *models.Study) error {
	criteria, err := encodeCriteria(st.Criteria)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO studies (id, researcher_id, title, description, enrollment_start,
		enrollment_end, data_collection_end, max_participants, enrolled_count, completed_count,
		reward_amount, total_rewards_distributed, status, criteria, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.ResearcherID, st.Title, st.Description, st.EnrollmentStart,
		st.EnrollmentEnd, st.DataCollectionEnd, st.MaxParticipants, st.EnrolledCount, st.CompletedCount,
		st.RewardAmount, st.TotalRewardsDistributed, string(st.Status), criteria, st.CreatedAt)
	if isConstraint(err) {
		return services.NewConflictError("study exists")
	}
	if err != nil {
		return fmt.Errorf("create study: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetStudy(id string) (*models.Study, error) {
	row := s.db.QueryRow(`SELECT id, researcher_id, title, description, enrollment_start,
		enrollment_end, data_collection_end, max_participants, enrolled_count, completed_count,
		reward_amount, total_rewards_distributed, status, criteria, created_at
		FROM studies WHERE id = ?`, id)
	return scanStudy(row)
}

func (s *SQLiteStore) UpdateStudy(st *models.Study) error {
	criteria, err := encodeCriteria(st.Criteria)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE studies SET title = ?, description = ?, enrollment_start = ?,
		enrollment_end = ?, data_collection_end = ?, max_participants = ?, enrolled_count = ?,
		completed_count = ?, reward_amount = ?, total_rewards_distributed = ?, status = ?, criteria = ?
		WHERE id = ?`,
		st.Title, st.Description, st.EnrollmentStart, st.EnrollmentEnd, st.DataCollectionEnd,
		st.MaxParticipants, st.EnrolledCount, st.CompletedCount, st.RewardAmount,
		st.TotalRewardsDistributed, string(st.Status), criteria, st.ID)
	if err != nil {
		return fmt.Errorf("update study: %w", err)
	}
	return requireRow(res, "study not found")
}

func (s *SQLiteStore) ListStudies() ([]*models.Study, error) {
	rows, err := s.db.Query(`SELECT id, researcher_id, title, description, enrollment_start,
		enrollment_end, data_collection_end, max_participants, enrolled_count, completed_count,
		reward_amount, total_rewards_distributed, status, criteria, created_at
		FROM studies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list studies: %w", err)
	}
	defer rows.Close()
	var out []*models.Study
	for rows.Next() {
		st, err := scanStudy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudy(row rowScanner) (*models.Study, error) {
	st := &models.Study{}
	var status string
	var criteria sql.NullString
	err := row.Scan(&st.ID, &st.ResearcherID, &st.Title, &st.Description, &st.EnrollmentStart,
		&st.EnrollmentEnd, &st.DataCollectionEnd, &st.MaxParticipants, &st.EnrolledCount,
		&st.CompletedCount, &st.RewardAmount, &st.TotalRewardsDistributed, &status, &criteria, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan study: %w", err)
	}
	st.Status = models.StudyStatus(status)
	if criteria.Valid && criteria.String != "" {
		c := &models.EligibilityCriteria{}
		if err := json.Unmarshal([]byte(criteria.String), c); err != nil {
			return nil, fmt.Errorf("decode criteria for study %s: %w", st.ID, err)
		}
		st.Criteria = c
		st.HasEligibilityCriteria = true
	}
	return st, nil
}

func encodeCriteria(c *models.EligibilityCriteria) (any, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode criteria: %w", err)
	}
	return string(b), nil
}

func (s *SQLiteStore) GetConsent(studyID, participantID string) (*models.Consent, error) {
	row := s.db.QueryRow(`SELECT study_id, participant_id, ts, is_revoked, revocation_ts,
		eligibility_proof, credential_id FROM consents WHERE study_id = ? AND participant_id = ?`,
		studyID, participantID)
	c := &models.Consent{}
	var revokedAt sql.NullTime
	err := row.Scan(&c.StudyID, &c.ParticipantID, &c.Timestamp, &c.IsRevoked, &revokedAt,
		&c.EligibilityProof, &c.CredentialID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get consent: %w", err)
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		c.RevocationTimestamp = &t
	}
	return c, nil
}

func (s *SQLiteStore) CreateConsent(c *models.Consent) error {
	_, err := s.db.Exec(`INSERT INTO consents (study_id, participant_id, ts, is_revoked,
		revocation_ts, eligibility_proof, credential_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.StudyID, c.ParticipantID, c.Timestamp, c.IsRevoked, nullTime(c.RevocationTimestamp),
		c.EligibilityProof, c.CredentialID)
	if isConstraint(err) {
		return services.NewConflictError("consent exists")
	}
	if err != nil {
		return fmt.Errorf("create consent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateConsent(c *models.Consent) error {
	res, err := s.db.Exec(`UPDATE consents SET is_revoked = ?, revocation_ts = ?, credential_id = ?
		WHERE study_id = ? AND participant_id = ?`,
		c.IsRevoked, nullTime(c.RevocationTimestamp), c.CredentialID, c.StudyID, c.ParticipantID)
	if err != nil {
		return fmt.Errorf("update consent: %w", err)
	}
	return requireRow(res, "consent not found")
}

func (s *SQLiteStore) GetSubmission(studyID, participantID string) (*models.Submission, error) {
	row := s.db.QueryRow(`SELECT study_id, participant_id, data_hash, content_id, submitted_at,
		is_verified, reward_distributed, completion_credential_id
		FROM submissions WHERE study_id = ? AND participant_id = ?`, studyID, participantID)
	sub := &models.Submission{}
	var hash []byte
	err := row.Scan(&sub.StudyID, &sub.ParticipantID, &hash, &sub.ContentID, &sub.SubmittedAt,
		&sub.IsVerified, &sub.RewardDistributed, &sub.CompletionCredentialID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	copy(sub.DataHash[:], hash)
	return sub, nil
}

func (s *SQLiteStore) CreateSubmission(sub *models.Submission) error {
	_, err := s.db.Exec(`INSERT INTO submissions (study_id, participant_id, data_hash, content_id,
		submitted_at, is_verified, reward_distributed, completion_credential_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.StudyID, sub.ParticipantID, sub.DataHash[:], sub.ContentID, sub.SubmittedAt,
		sub.IsVerified, sub.RewardDistributed, sub.CompletionCredentialID)
	if isConstraint(err) {
		return services.NewConflictError("submission exists")
	}
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSubmission(sub *models.Submission) error {
	res, err := s.db.Exec(`UPDATE submissions SET is_verified = ?, reward_distributed = ?,
		completion_credential_id = ? WHERE study_id = ? AND participant_id = ?`,
		sub.IsVerified, sub.RewardDistributed, sub.CompletionCredentialID, sub.StudyID, sub.ParticipantID)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	return requireRow(res, "submission not found")
}

func (s *SQLiteStore) GetVault(studyID string) (*models.RewardVault, error) {
	row := s.db.QueryRow(`SELECT study_id, asset_id, total_deposited, total_distributed, created_at
		FROM reward_vaults WHERE study_id = ?`, studyID)
	v := &models.RewardVault{}
	err := row.Scan(&v.StudyID, &v.AssetID, &v.TotalDeposited, &v.TotalDistributed, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vault: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) CreateVault(v *models.RewardVault) error {
	_, err := s.db.Exec(`INSERT INTO reward_vaults (study_id, asset_id, total_deposited,
		total_distributed, created_at) VALUES (?, ?, ?, ?, ?)`,
		v.StudyID, v.AssetID, v.TotalDeposited, v.TotalDistributed, v.CreatedAt)
	if isConstraint(err) {
		return services.NewConflictError("vault exists")
	}
	if err != nil {
		return fmt.Errorf("create vault: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateVault(v *models.RewardVault) error {
	res, err := s.db.Exec(`UPDATE reward_vaults SET total_deposited = ?, total_distributed = ?
		WHERE study_id = ?`, v.TotalDeposited, v.TotalDistributed, v.StudyID)
	if err != nil {
		return fmt.Errorf("update vault: %w", err)
	}
	return requireRow(res, "vault not found")
}

func (s *SQLiteStore) GetSurveySchema(studyID string) (*models.SurveySchema, error) {
	row := s.db.QueryRow(`SELECT study_id, title, schema_content_id, requires_encryption, finalized,
		created_at FROM survey_schemas WHERE study_id = ?`, studyID)
	sc := &models.SurveySchema{}
	err := row.Scan(&sc.StudyID, &sc.Title, &sc.SchemaContentID, &sc.RequiresEncryption,
		&sc.Finalized, &sc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schema: %w", err)
	}
	return sc, nil
}

func (s *SQLiteStore) CreateSurveySchema(sc *models.SurveySchema) error {
	_, err := s.db.Exec(`INSERT INTO survey_schemas (study_id, title, schema_content_id,
		requires_encryption, finalized, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sc.StudyID, sc.Title, sc.SchemaContentID, sc.RequiresEncryption, sc.Finalized, sc.CreatedAt)
	if isConstraint(err) {
		return services.NewConflictError("schema exists")
	}
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSurveySchema(sc *models.SurveySchema) error {
	res, err := s.db.Exec(`UPDATE survey_schemas SET title = ?, schema_content_id = ?,
		requires_encryption = ?, finalized = ? WHERE study_id = ?`,
		sc.Title, sc.SchemaContentID, sc.RequiresEncryption, sc.Finalized, sc.StudyID)
	if err != nil {
		return fmt.Errorf("update schema: %w", err)
	}
	return requireRow(res, "schema not found")
}

func (s *SQLiteStore) FindUserByEmail(email string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT id, email, pass_hash, role, created_at FROM users WHERE email = ?`, email)
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Email, &u.PassHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) AddUser(u *models.User) error {
	_, err := s.db.Exec(`INSERT INTO users (id, email, pass_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?)`, u.ID, u.Email, u.PassHash, u.Role, u.CreatedAt)
	if isConstraint(err) {
		return services.NewConflictError("email exists")
	}
	if err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddAudit(e services.AuditEntry) {
	_, err := s.db.Exec(`INSERT INTO audit_log (ts, actor, action, target, note) VALUES (?, ?, ?, ?, ?)`,
		e.Time, e.Actor, e.Action, e.Target, e.Note)
	if err != nil {
		log.Printf("sqlite store: add audit: %v", err)
	}
}

func (s *SQLiteStore) ListAudit() []services.AuditEntry {
	rows, err := s.db.Query(`SELECT ts, actor, action, target, note FROM audit_log ORDER BY id`)
	if err != nil {
		log.Printf("sqlite store: list audit: %v", err)
		return nil
	}
	defer rows.Close()
	var out []services.AuditEntry
	for rows.Next() {
		var e services.AuditEntry
		if err := rows.Scan(&e.Time, &e.Actor, &e.Action, &e.Target, &e.Note); err != nil {
			log.Printf("sqlite store: scan audit: %v", err)
			return out
		}
		out = append(out, e)
	}
	return out
}

func requireRow(res sql.Result, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return services.NewNotFoundError(msg)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

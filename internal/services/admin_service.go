package services

import (
	"math"
	"time"

	"github.com/recrusearch/recrusearch/internal/models"
)

type AdminStore interface {
	GetAdminConfig() (*models.AdminConfig, error)
	CreateAdminConfig(cfg *models.AdminConfig) error
	UpdateAdminConfig(cfg *models.AdminConfig) error
	AddAudit(entry AuditEntry)
}

// AdminService holds the singleton protocol configuration and its aggregate
// counters. Engine operations update the counters through the Record*
// accessors as part of their own atomic unit; the counters are advisory and
// never gate other operations.
type AdminService struct {
	store AdminStore
	now   func() time.Time
}

type InitializeProtocolRequest struct {
	FeeBps           *int
	MinStudyDuration *int64
	MaxStudyDuration *int64
}

func NewAdminService(store AdminStore) *AdminService {
	return &AdminService{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// InitializeProtocol creates the protocol configuration. It can only succeed
// once; unset parameters fall back to platform defaults.
func (s *AdminService) InitializeProtocol(adminID string, req InitializeProtocolRequest) (*models.AdminConfig, error) {
	if adminID == "" {
		return nil, NewUnauthorizedError("admin required")
	}
	existing, err := s.store.GetAdminConfig()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("protocol already initialized")
	}
	fee := models.DefaultProtocolFeeBps
	if req.FeeBps != nil {
		fee = *req.FeeBps
	}
	if fee < 0 || fee > models.MaxProtocolFeeBps {
		return nil, NewValidationError("protocol fee exceeds maximum of 10%")
	}
	minDur := models.MinStudyDuration
	if req.MinStudyDuration != nil {
		minDur = *req.MinStudyDuration
	}
	maxDur := models.MaxStudyDuration
	if req.MaxStudyDuration != nil {
		maxDur = *req.MaxStudyDuration
	}
	if minDur <= 0 || maxDur <= minDur {
		return nil, NewValidationError("maximum duration must exceed minimum duration")
	}
	cfg := &models.AdminConfig{
		AdminID:          adminID,
		ProtocolFeeBps:   fee,
		MinStudyDuration: minDur,
		MaxStudyDuration: maxDur,
		CreatedAt:        s.now(),
	}
	if err := s.store.CreateAdminConfig(cfg); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: adminID, Action: "protocol_init"})
	return cfg, nil
}

func (s *AdminService) Stats() (*ProtocolStats, error) {
	cfg, err := s.store.GetAdminConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, NewNotFoundError("protocol not initialized")
	}
	return &ProtocolStats{
		AdminID:                 cfg.AdminID,
		ProtocolFeeBps:          cfg.ProtocolFeeBps,
		MinStudyDuration:        cfg.MinStudyDuration,
		MaxStudyDuration:        cfg.MaxStudyDuration,
		TotalStudies:            cfg.TotalStudies,
		TotalParticipants:       cfg.TotalParticipants,
		TotalRewardsDistributed: cfg.TotalRewardsDistributed,
	}, nil
}

// DurationBounds returns the configured study duration bounds, or the
// platform defaults when the protocol has not been initialized yet.
func (s *AdminService) DurationBounds() (int64, int64) {
	cfg, err := s.store.GetAdminConfig()
	if err != nil || cfg == nil {
		return models.MinStudyDuration, models.MaxStudyDuration
	}
	return cfg.MinStudyDuration, cfg.MaxStudyDuration
}

func (s *AdminService) RecordStudyCreated() error {
	return s.bump(func(cfg *models.AdminConfig) error {
		v, err := checkedAddU64(cfg.TotalStudies, 1)
		if err != nil {
			return err
		}
		cfg.TotalStudies = v
		return nil
	})
}

func (s *AdminService) RecordEnrollment() error {
	return s.bump(func(cfg *models.AdminConfig) error {
		v, err := checkedAddU64(cfg.TotalParticipants, 1)
		if err != nil {
			return err
		}
		cfg.TotalParticipants = v
		return nil
	})
}

func (s *AdminService) RecordRewardsDistributed(amount uint64) error {
	return s.bump(func(cfg *models.AdminConfig) error {
		v, err := checkedAddU64(cfg.TotalRewardsDistributed, amount)
		if err != nil {
			return err
		}
		cfg.TotalRewardsDistributed = v
		return nil
	})
}

// bump applies a counter mutation when the protocol is initialized. Counters
// are advisory, so a missing configuration is not an error here.
func (s *AdminService) bump(mutate func(cfg *models.AdminConfig) error) error {
	cfg, err := s.store.GetAdminConfig()
	if err != nil {
		return err
	}
	if cfg == nil {
		return nil
	}
	if err := mutate(cfg); err != nil {
		return err
	}
	return s.store.UpdateAdminConfig(cfg)
}

func checkedAddU64(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, NewArithmeticError("counter overflow")
	}
	return a + b, nil
}

func checkedAddU32(a, b uint32) (uint32, error) {
	if a > math.MaxUint32-b {
		return 0, NewArithmeticError("counter overflow")
	}
	return a + b, nil
}

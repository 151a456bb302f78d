package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/recrusearch/recrusearch/internal/lib"
	"github.com/recrusearch/recrusearch/internal/middleware"
	"github.com/recrusearch/recrusearch/internal/models"
	"github.com/recrusearch/recrusearch/internal/services"
)

// Router wires the HTTP surface to the services. One mutex serializes every
// mutating operation so each request observes and commits a consistent
// snapshot, matching the all-or-nothing semantics the services assume.
type Router struct {
	store    Store
	log      *lib.Logger
	mu       sync.Mutex
	validate *validator.Validate

	auth        *services.AuthService
	admin       *services.AdminService
	studies     *services.StudyService
	consents    *services.ConsentService
	submissions *services.SubmissionService
	rewards     *services.RewardService
	schemas     *services.SchemaService
}

// NewMemoryStore returns the in-process store used by default and in tests.
func NewMemoryStore() Store { return newMemoryStore() }

func NewRouter(store Store, custody services.Custody, signer services.TokenSigner, log *lib.Logger) *Router {
	admin := services.NewAdminService(store)
	return &Router{
		store:       store,
		log:         log,
		validate:    validator.New(),
		auth:        services.NewAuthService(store, signer),
		admin:       admin,
		studies:     services.NewStudyService(store, admin),
		consents:    services.NewConsentService(store, custody, admin),
		submissions: services.NewSubmissionService(store),
		rewards:     services.NewRewardService(store, custody, admin),
		schemas:     services.NewSchemaService(store),
	}
}

// WithClock swaps the time source of every service, for deterministic tests.
func (rt *Router) WithClock(now func() time.Time) *Router {
	rt.admin.WithClock(now)
	rt.studies.WithClock(now)
	rt.consents.WithClock(now)
	rt.submissions.WithClock(now)
	rt.rewards.WithClock(now)
	rt.schemas.WithClock(now)
	return rt
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", rt.handleRegister)
	mux.HandleFunc("POST /api/auth/login", rt.handleLogin)

	mux.HandleFunc("POST /api/admin/init", rt.handleAdminInit)
	mux.HandleFunc("GET /api/admin/stats", rt.handleAdminStats)

	mux.HandleFunc("POST /api/studies", rt.handleCreateStudy)
	mux.HandleFunc("GET /api/studies/{id}", rt.handleGetStudy)
	mux.HandleFunc("POST /api/studies/{id}/criteria", rt.handleSetCriteria)
	mux.HandleFunc("POST /api/studies/{id}/schema", rt.handleCreateSchema)
	mux.HandleFunc("POST /api/studies/{id}/schema/finalize", rt.handleFinalizeSchema)
	mux.HandleFunc("POST /api/studies/{id}/publish", rt.handlePublish)
	mux.HandleFunc("POST /api/studies/{id}/close", rt.handleClose)
	mux.HandleFunc("POST /api/studies/{id}/archive", rt.handleArchive)
	mux.HandleFunc("POST /api/studies/{id}/transition", rt.handleTransition)

	mux.HandleFunc("POST /api/studies/{id}/enroll", rt.handleEnroll)
	mux.HandleFunc("POST /api/studies/{id}/revoke", rt.handleRevoke)
	mux.HandleFunc("GET /api/studies/{id}/consent/{pid}", rt.handleConsentStatus)

	mux.HandleFunc("POST /api/studies/{id}/submissions", rt.handleSubmit)
	mux.HandleFunc("POST /api/studies/{id}/submissions/{pid}/verify", rt.handleVerify)

	mux.HandleFunc("POST /api/studies/{id}/vault", rt.handleCreateVault)
	mux.HandleFunc("POST /api/studies/{id}/settle/{pid}", rt.handleSettle)
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,oneof=researcher participant"`
}

func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !rt.decode(w, r, &req) {
		return
	}
	rt.mu.Lock()
	res, err := rt.auth.Register(req.Email, req.Password, req.Role)
	rt.mu.Unlock()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": res.Token, "user_id": res.UserID, "role": res.Role})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !rt.decode(w, r, &req) {
		return
	}
	res, err := rt.auth.Login(req.Email, req.Password)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": res.Token, "user_id": res.UserID, "role": res.Role})
}

type adminInitRequest struct {
	FeeBps           *int   `json:"fee_bps"`
	MinStudyDuration *int64 `json:"min_study_duration"`
	MaxStudyDuration *int64 `json:"max_study_duration"`
}

func (rt *Router) handleAdminInit(w http.ResponseWriter, r *http.Request) {
	uid, ok := rt.requireRole(w, r, models.RoleAdmin)
	if !ok {
		return
	}
	var req adminInitRequest
	if !rt.decode(w, r, &req) {
		return
	}
	rt.mu.Lock()
	cfg, err := rt.admin.InitializeProtocol(uid, services.InitializeProtocolRequest{
		FeeBps:           req.FeeBps,
		MinStudyDuration: req.MinStudyDuration,
		MaxStudyDuration: req.MaxStudyDuration,
	})
	rt.mu.Unlock()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.log.Infow("protocol initialized", "admin", uid, "fee_bps", cfg.ProtocolFeeBps)
	writeJSON(w, http.StatusOK, cfg)
}

func (rt *Router) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.admin.Stats()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type createStudyRequest struct {
	Title             string `json:"title" validate:"required"`
	Description       string `json:"description"`
	EnrollmentStart   int64  `json:"enrollment_start" validate:"required"`
	EnrollmentEnd     int64  `json:"enrollment_end" validate:"required"`
	DataCollectionEnd int64  `json:"data_collection_end" validate:"required"`
	MaxParticipants   uint32 `json:"max_participants" validate:"required"`
	RewardAmount      uint64 `json:"reward_amount" validate:"required"`
}

func (rt *Router) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	uid, ok := rt.requireRole(w, r, models.RoleResearcher)
	if !ok {
		return
	}
	var req createStudyRequest
	if !rt.decode(w, r, &req) {
		return
	}
	rt.mu.Lock()
	st, err := rt.studies.CreateStudy(uid, services.CreateStudyRequest{
		Title:             req.Title,
		Description:       req.Description,
		EnrollmentStart:   req.EnrollmentStart,
		EnrollmentEnd:     req.EnrollmentEnd,
		DataCollectionEnd: req.DataCollectionEnd,
		MaxParticipants:   req.MaxParticipants,
		RewardAmount:      req.RewardAmount,
	})
	rt.mu.Unlock()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.log.Infow("study created", "study", st.ID, "researcher", uid)
	writeJSON(w, http.StatusCreated, st)
}

func (rt *Router) handleGetStudy(w http.ResponseWriter, r *http.Request) {
	info, err := rt.studies.GetStudyInfo(r.PathValue("id"))
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (rt *Router) handleSetCriteria(w http.ResponseWriter, r *http.Request) {
	uid, ok := rt.requireRole(w, r, models.RoleResearcher)
	if !ok {
		return
	}
	var criteria models.EligibilityCriteria
	if !rt.decode(w, r, &criteria) {
		return
	}
	rt.mu.Lock()
	st, err := rt.studies.SetEligibilityCriteria(uid, r.PathValue("id"), criteria)
	rt.mu.Unlock()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type schemaRequest struct {
	Title              string `json:"title" validate:"required"`
	SchemaContentID    string `json:"schema_content_id" validate:"required"`
	RequiresEncryption bool   `json:"requires_encryption"`
}

func (rt *Router) handleCreateSchema(w http.ResponseWriter, r *http.Request) {
	uid, ok := rt.requireRole(w, r, models.RoleResearcher)
	if !ok {
		return
	}
	var req schemaRequest
	if !rt.decode(w, r, &req) {
		return
	}
	rt.mu.Lock()
	sc, err := rt.schemas.CreateSurveySchema(uid, r.PathValue("id"), req.Title, req.SchemaContentID, req.RequiresEncryption)
	rt.mu.Unlock()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (rt *Router) handleFinalizeSchema(w http.ResponseWriter, r *http.Request) {
	uid, ok := rt.requireRole(w, r, models.RoleResearcher)
	if !ok {
		return
	}
	rt.mu.Lock()
	sc, err := rt.schemas.FinalizeSurveySchema(uid, r.PathValue("id"))
	rt.mu.Unlock()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (rt *Router) handlePublish(w http.ResponseWriter, r *http.Request) {
	rt.lifecycle(w, r, rt.studies.PublishStudy)
}

func (rt *Router) handleClose(w http.ResponseWriter, r *http.Request) {
	rt.lifecycle(w, r, rt.studies.CloseStudy)
}

func (rt *Router) handleArchive(w http.ResponseWriter, r *http.Request) {
	rt.lifecycle(w, r, rt.studies.ArchiveStudy)
}

func (rt *Router) lifecycle(w http.ResponseWriter, r *http.Request, op func(researcherID, studyID string) (*models.Study, error)) {
	uid, ok := rt.requireRole(w, r, models.RoleResearcher)
	if !ok {
		return
	}
	rt.mu.Lock()
	st, err := op(uid, r.PathValue("id"))
	rt.mu.Unlock()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.log.Infow("study status changed", "study", st.ID, "status", st.Status)
	writeJSON(w, http.StatusOK, st)
}

// The transition endpoint is deliberately open: anyone may nudge a study past
// a time boundary, the clock decides the outcome.
func (rt *Router) handleTransition(w http.ResponseWriter, r *http.Request) {
	rt.mu.Lock()
	st, err := rt.studies.TransitionStudyState(r.PathValue("id"))
	rt.mu.Unlock()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type enrollRequest struct {
	EligibilityProof json.RawMessage `json:"eligibility_proof" validate:"required"`
}

func (rt *Router) handleEnroll(w http.ResponseWriter, r *http.Request) {
	uid, ok := rt.requireRole(w, r, models.RoleParticipant)
	if !ok {
		return
	}
	var req enrollRequest
	if !rt.decode(w, r, &req) {
		return
	}
	rt.mu.Lock()
	consent, err := rt.consents.Enroll(uid, r.PathValue("id"), req.EligibilityProof)
	rt.mu.Unlock()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.log.Infow("participant enrolled", "study", consent.StudyID, "participant", uid)
	writeJSON(w, http.StatusCreated, consent)
}

func (rt *Router) handleRevoke(w http.ResponseWriter, r *http.Request) {
	uid, ok := rt.requireRole(w, r, models.RoleParticipant)
	if !ok {
		return
	}
	rt.mu.Lock()
	consent, err := rt.consents.RevokeConsent(uid, r.PathValue("id"))
	rt.mu.Unlock()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.log.Infow("consent revoked", "study", consent.StudyID, "participant", uid)
	writeJSON(w, http.StatusOK, consent)
}

func (rt *Router) handleConsentStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := rt.requireRole(w, r, ""); !ok {
		return
	}
	status, err := rt.consents.GetConsentStatus(r.PathValue("id"), r.PathValue("pid"))
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type submitRequest struct {
	DataHash  string `json:"data_hash" validate:"required,len=64,hexadecimal"`
	ContentID string `json:"content_id" validate:"required"`
}

func (rt *Router) handleSubmit(w http.ResponseWriter, r *http.Request) {
	uid, ok := rt.requireRole(w, r, models.RoleParticipant)
	if !ok {
		return
	}
	var req submitRequest
	if !rt.decode(w, r, &req) {
		return
	}
	raw, err := hex.DecodeString(req.DataHash)
	if err != nil || len(raw) != 32 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "data_hash must be 32 bytes of hex", "code": "validation"})
		return
	}
	var hash [32]byte
	copy(hash[:], raw)
	rt.mu.Lock()
	sub, err := rt.submissions.SubmitData(uid, r.PathValue("id"), hash, req.ContentID)
	rt.mu.Unlock()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.log.Infow("data submitted", "study", sub.StudyID, "participant", uid)
	writeJSON(w, http.StatusCreated, sub)
}

func (rt *Router) handleVerify(w http.ResponseWriter, r *http.Request) {
	uid, ok := rt.requireRole(w, r, models.RoleResearcher)
	if !ok {
		return
	}
	rt.mu.Lock()
	sub, err := rt.submissions.VerifySubmission(uid, r.PathValue("id"), r.PathValue("pid"))
	rt.mu.Unlock()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type vaultRequest struct {
	AssetID string `json:"asset_id" validate:"required"`
	Deposit uint64 `json:"deposit" validate:"required"`
}

func (rt *Router) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	uid, ok := rt.requireRole(w, r, models.RoleResearcher)
	if !ok {
		return
	}
	var req vaultRequest
	if !rt.decode(w, r, &req) {
		return
	}
	rt.mu.Lock()
	vault, err := rt.rewards.CreateRewardVault(uid, r.PathValue("id"), req.AssetID, req.Deposit)
	rt.mu.Unlock()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.log.Infow("vault funded", "study", vault.StudyID, "deposit", vault.TotalDeposited)
	writeJSON(w, http.StatusCreated, vault)
}

func (rt *Router) handleSettle(w http.ResponseWriter, r *http.Request) {
	uid, ok := rt.requireRole(w, r, "")
	if !ok {
		return
	}
	rt.mu.Lock()
	sub, err := rt.rewards.SettleReward(uid, r.PathValue("id"), r.PathValue("pid"))
	rt.mu.Unlock()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.log.Infow("reward settled", "study", sub.StudyID, "participant", sub.ParticipantID)
	writeJSON(w, http.StatusOK, sub)
}

// requireRole extracts the authenticated user and, when role is non-empty,
// enforces it. Ownership checks stay in the services.
func (rt *Router) requireRole(w http.ResponseWriter, r *http.Request, role string) (string, bool) {
	c, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "authentication required", "code": "unauthorized"})
		return "", false
	}
	if role != "" && c.Role != role {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "insufficient role", "code": "unauthorized"})
		return "", false
	}
	return c.UID, true
}

func (rt *Router) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body", "code": "validation"})
		return false
	}
	if err := rt.validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "code": "validation"})
		return false
	}
	return true
}

func (rt *Router) writeError(w http.ResponseWriter, err error) {
	if se, ok := services.AsServiceError(err); ok {
		writeJSON(w, statusFor(se.Code), map[string]any{"error": se.Message, "code": string(se.Code)})
		return
	}
	rt.log.Errorw("internal error", "err", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error", "code": "internal"})
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorValidation, services.ErrorData:
		return http.StatusBadRequest
	case services.ErrorUnauthorized:
		return http.StatusForbidden
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorState, services.ErrorConflict, services.ErrorParticipant, services.ErrorFunds:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/recrusearch/recrusearch/internal/api"
	"github.com/recrusearch/recrusearch/internal/config"
	"github.com/recrusearch/recrusearch/internal/custody"
	"github.com/recrusearch/recrusearch/internal/db"
	"github.com/recrusearch/recrusearch/internal/lib"
	"github.com/recrusearch/recrusearch/internal/middleware"
	"github.com/recrusearch/recrusearch/internal/models"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.ParseEnv()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := lib.NewLogger(cfg.LogLevel, cfg.LogColor, cfg.Prod, cfg.LogJSON)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	seedAdmin(store, cfg, log)

	rt := api.NewRouter(store, custody.NewLedger(), middleware.SignToken, log)
	mux := http.NewServeMux()
	rt.Register(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "name": "RecruSearch API"})
	})

	handler := middleware.CORS(middleware.SecureHeaders(middleware.WithAuth(mux)))
	log.Infof("listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func openStore(cfg *config.Config) (api.Store, error) {
	if cfg.StorePath == "" {
		return api.NewMemoryStore(), nil
	}
	conn, err := sql.Open("sqlite3", cfg.StorePath)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(conn); err != nil {
		return nil, err
	}
	return db.NewStore(conn)
}

// seedAdmin creates the admin account on first start. Self-registration only
// offers the researcher and participant roles.
func seedAdmin(store api.Store, cfg *config.Config, log *lib.Logger) {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return
	}
	existing, err := store.FindUserByEmail(cfg.AdminEmail)
	if err != nil {
		log.Errorf("admin lookup: %v", err)
		return
	}
	if existing != nil {
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Errorf("admin password: %v", err)
		return
	}
	u := &models.User{ID: "admin", Email: cfg.AdminEmail, PassHash: hash, Role: models.RoleAdmin, CreatedAt: time.Now().UTC()}
	if err := store.AddUser(u); err != nil {
		log.Errorf("seed admin: %v", err)
		return
	}
	log.Infow("admin account created", "email", cfg.AdminEmail)
}

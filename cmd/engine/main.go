package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"postulamatic-engine/internal/config"
	"postulamatic-engine/internal/events"
	"postulamatic-engine/internal/httpapi"
	"postulamatic-engine/internal/scheduler"
	"postulamatic-engine/internal/store"
)

func main() {
	// Engine data dir: use env if provided (the desktop shell passes one),
	// else local folder.
	dataDir := os.Getenv("POSTULAMATIC_DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatal(err)
	}

	// One engine per data dir; a second instance would race the quota and
	// the sqlite file.
	lock := flock.New(filepath.Join(dataDir, "engine.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("lock %s: %v", lock.Path(), err)
	}
	if !locked {
		log.Fatalf("another engine instance holds %s", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	defaultCfgPath := filepath.Join("config", "config.yml")
	userCfgPath, err := config.EnsureUserConfig(dataDir, defaultCfgPath)
	if err != nil {
		log.Fatalf("config bootstrap failed: %v", err)
	}

	// Load config and keep it reloadable
	var cfgVal atomic.Value // stores config.Config
	loadCfg := func() (config.Config, error) {
		return config.Load(userCfgPath)
	}
	cfg, err := loadCfg()
	if err != nil {
		log.Fatalf("config load failed (%s): %v", userCfgPath, err)
	}
	cfg, vr := config.NormalizeAndValidate(cfg)
	for _, wmsg := range vr.Warnings {
		log.Printf("[config] warning: %s", wmsg)
	}
	if !vr.OK() {
		for _, emsg := range vr.Errors {
			log.Printf("[config] error: %s", emsg)
		}
		log.Printf("[config] fix %s before triggering a run", userCfgPath)
	}
	cfgVal.Store(cfg)

	dbPath := filepath.Join(dataDir, "postulamatic.db")
	db, err := store.Open(dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := store.Migrate(db.Pool); err != nil {
		log.Fatal(err)
	}

	hub := events.NewHub()

	runOnce := runOnceFunc(db.Pool, hub, &cfgVal)

	var runStatus atomic.Value
	runStatus.Store(httpapi.RunStatus{})

	mux := httpapi.NewMux(httpapi.Deps{
		DB:          db.Pool,
		Hub:         hub,
		CfgVal:      &cfgVal,
		RunStatus:   &runStatus,
		UserCfgPath: userCfgPath,
		LoadCfg:     loadCfg,
		RunPipeline: runOnce,
	})

	// Bind to a predictable local port for now (simpler).
	port := cfg.App.Port
	if port == 0 {
		port = 38471
	}
	addr := net.JoinHostPort("127.0.0.1", itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("engine listening on http://%s (db=%s)", addr, dbPath)

	srv := &http.Server{
		Handler:           httpapi.Chain(mux, httpapi.Recover, httpapi.RequestID, httpapi.AccessLog, httpapi.Cors),
		ReadHeaderTimeout: 5 * time.Second,
	}

	token, err := randomToken(16)
	if err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "shutdown.token"), []byte(token), 0o600); err != nil {
		log.Fatal(err)
	}
	mux.HandleFunc("/shutdown", shutdownHandler(&token, srv))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Automation.Enabled {
		interval := time.Duration(cfg.Automation.IntervalSeconds) * time.Second
		if interval <= 0 {
			interval = time.Hour
		}
		go scheduler.Every(ctx, interval, "automation", func(ctx context.Context) error {
			_, err := runOnce(ctx)
			return err
		})
		log.Printf("[automation] enabled, interval=%s", interval)
	}

	go func() {
		<-ctx.Done()
		shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shCancel()
		_ = srv.Shutdown(shCtx)
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
	log.Printf("engine stopped")
}

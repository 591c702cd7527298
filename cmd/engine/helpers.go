package main

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"postulamatic-engine/internal/config"
	"postulamatic-engine/internal/dispatch"
	"postulamatic-engine/internal/domain"
	"postulamatic-engine/internal/events"
	"postulamatic-engine/internal/generate"
	"postulamatic-engine/internal/pipeline"
	"postulamatic-engine/internal/portal"
	"postulamatic-engine/internal/rank"
	"postulamatic-engine/internal/secrets"
)

func itoa(n int) string { return strconv.Itoa(n) }

// runOnceFunc wires a fresh pipeline from the current config snapshot on
// every invocation, so config edits apply to the next run without a restart.
// A mutex serializes the scheduler against manual triggers.
func runOnceFunc(db *sql.DB, hub *events.Hub, cfgVal *atomic.Value) func(ctx context.Context) (domain.RunLog, error) {
	var mu sync.Mutex
	return func(ctx context.Context) (domain.RunLog, error) {
		if !mu.TryLock() {
			return domain.RunLog{}, fmt.Errorf("a run is already in progress")
		}
		defer mu.Unlock()

		cfg := cfgVal.Load().(config.Config)
		if err := config.Validate(cfg); err != nil {
			return domain.RunLog{}, err
		}

		runner, err := buildRunner(db, hub, cfg)
		if err != nil {
			return domain.RunLog{}, err
		}
		return runner.Run(ctx)
	}
}

func buildRunner(db *sql.DB, hub *events.Hub, cfg config.Config) (*pipeline.Runner, error) {
	rps := cfg.Portal.RequestsPerSec
	if rps <= 0 {
		rps = 0.5
	}
	limiter := portal.NewHostLimiter(rps, 1)

	client, err := portal.New(portal.Config{
		BaseURL:       cfg.Portal.BaseURL,
		LoginPath:     cfg.Portal.LoginPath,
		BoardPath:     cfg.Portal.BoardPath,
		DetailPattern: cfg.Portal.DetailPattern,
	}, limiter)
	if err != nil {
		return nil, err
	}

	gen, err := generate.NewTemplateGenerator("", "")
	if err != nil {
		return nil, err
	}

	sender, err := buildSender(cfg)
	if err != nil {
		return nil, err
	}

	d := &dispatch.Dispatcher{
		DB:               db,
		Sender:           sender,
		Generator:        gen,
		UserID:           cfg.UserID(),
		DailyLimit:       cfg.Dispatch.DailyLimit,
		MinPause:         time.Duration(cfg.Dispatch.MinPauseSeconds) * time.Second,
		MaxPause:         time.Duration(cfg.Dispatch.MaxPauseSeconds) * time.Second,
		DryRun:           cfg.Dispatch.DryRun,
		From:             cfg.SMTP.From,
		FromName:         cfg.SMTP.FromName,
		CandidateName:    cfg.SMTP.FromName,
		ResumeHighlights: cfg.Resume.Highlights,
	}
	d.SetAttachment(cfg.Resume.File)

	return &pipeline.Runner{
		Cfg:    cfg,
		DB:     db,
		Client: client,
		Creds: func(_ context.Context) (portal.Credentials, error) {
			pw, err := secrets.Get(secrets.PortalAccount(cfg))
			if err != nil {
				return portal.Credentials{}, err
			}
			return portal.Credentials{Username: cfg.Portal.Username, Password: pw}, nil
		},
		Scorer: rank.WeightedScorer{
			SkillsWeight:    cfg.Matching.SkillsWeight,
			SeniorityWeight: cfg.Matching.SeniorityWeight,
		},
		Dispatcher: d,
		Hub:        hub,
	}, nil
}

// buildSender fetches the SMTP password only when a real send can happen;
// dry runs never touch the keychain.
func buildSender(cfg config.Config) (dispatch.Sender, error) {
	if cfg.Dispatch.DryRun {
		return dispatch.NewSMTPSender(dispatch.SMTPConfig{Host: cfg.SMTP.Host, Port: cfg.SMTP.Port}), nil
	}
	pw, err := secrets.Get(secrets.SMTPAccount(cfg))
	if err != nil {
		return nil, err
	}
	return dispatch.NewSMTPSender(dispatch.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		UseTLS:   cfg.SMTP.UseTLS,
		UseSSL:   cfg.SMTP.UseSSL,
		Username: cfg.SMTP.Username,
		Password: pw,
	}), nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func shutdownHandler(token *string, srv *http.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		// Local-only guard (covers typical desktop usage)
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			// RemoteAddr can sometimes be just a host; fall back safely
			host = r.RemoteAddr
		}
		if host != "127.0.0.1" && host != "::1" && host != "localhost" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		// Token guard
		got := r.Header.Get("X-Shutdown-Token")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(*token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		// Respond immediately, then shutdown asynchronously
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("shutting down\n"))

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}
}

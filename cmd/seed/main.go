// Package main seeds doctors into the configured store and prints a
// development session token.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/medicare-plus/frontdesk/internal/auth"
	"github.com/medicare-plus/frontdesk/internal/bootstrap"
	"github.com/medicare-plus/frontdesk/internal/config"
	"github.com/medicare-plus/frontdesk/internal/domain/doctor"
)

// doctors are the front-desk staff of the demo clinic
var doctors = []doctor.Doctor{
	{ID: "DOC-001", Name: "Asha Rao", Phone: "9876500001", Email: "asha.rao@medicareplus.example", Specialization: "Cardiology"},
	{ID: "DOC-002", Name: "Vikram Mehta", Phone: "9876500002", Email: "vikram.mehta@medicareplus.example", Specialization: "Neurology"},
	{ID: "DOC-003", Name: "Leena Thomas", Phone: "9876500003", Email: "leena.thomas@medicareplus.example", Specialization: "Orthopedics"},
	{ID: "DOC-004", Name: "Farah Khan", Phone: "9876500004", Email: "farah.khan@medicareplus.example", Specialization: "General Medicine"},
}

type store interface {
	PutDoctor(ctx context.Context, d *doctor.Doctor) error
}

func main() {
	password := flag.String("password", "frontdesk-dev", "password given to every seeded doctor")
	tokenFor := flag.String("token-for", "DOC-001", "doctor id to issue a session token for; empty for none")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := bootstrap.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.ValidateStore(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := bootstrap.OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer conn.Close()

	seeded, err := seedDoctors(ctx, conn.Store, *password, time.Now().UTC())
	if err != nil {
		logger.Fatal("seeding failed", zap.Error(err))
	}
	for _, d := range seeded {
		logger.Info("doctor seeded",
			zap.String("doctor_id", d.ID),
			zap.String("specialization", d.Specialization))
	}

	if *tokenFor == "" {
		return
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required to issue a token")
	}
	tokens := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	token, claims, err := tokens.Generate(*tokenFor, auth.RoleDoctor)
	if err != nil {
		logger.Fatal("failed to sign token", zap.Error(err))
	}
	if cfg.Auth.RedisAddr != "" {
		sessions, err := auth.NewRedisSessions(ctx, cfg.Auth.RedisAddr, cfg.Auth.RedisPassword)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer sessions.Close()
		if err := sessions.Create(ctx, claims); err != nil {
			logger.Fatal("failed to register session", zap.Error(err))
		}
	}
	fmt.Println(token)
}

// seedDoctors upserts every demo doctor with a bcrypt hash of password
func seedDoctors(ctx context.Context, s store, password string, now time.Time) ([]doctor.Doctor, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	out := make([]doctor.Doctor, 0, len(doctors))
	for _, d := range doctors {
		d.PasswordHash = string(hash)
		d.CreatedAt = now
		if err := s.PutDoctor(ctx, &d); err != nil {
			return nil, fmt.Errorf("put doctor %s: %w", d.ID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

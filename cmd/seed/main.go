package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"inpaint-backend/internal/config"
	"inpaint-backend/internal/domain"
	"inpaint-backend/internal/domain/model"
	"inpaint-backend/internal/domain/ports/repository"
	pg "inpaint-backend/internal/infra/db/postgres"
	"inpaint-backend/internal/infra/web"
)

// Seeds an administrator and a demo user account, prints a bearer token
// for each. Idempotent: existing accounts are left untouched.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	accounts := pg.NewAccountRepo(pool)
	auth := web.NewAuthManager(cfg.Auth.JWTSecret, 30*24*time.Hour)

	seed := []struct {
		Email   string
		Role    model.AccountRole
		Balance string
	}{
		{"admin@example.com", model.RoleAdmin, "0"},
		{"demo@example.com", model.RoleUser, "100"},
	}

	for _, s := range seed {
		acct, err := ensureAccount(ctx, accounts, s.Email, s.Role, s.Balance)
		if err != nil {
			log.Fatalf("seed %s: %v", s.Email, err)
		}

		token, err := auth.Mint(acct.ID, string(acct.Role))
		if err != nil {
			log.Fatalf("mint token for %s: %v", s.Email, err)
		}
		fmt.Printf("%s (%s) id=%s balance=%s\n  token: %s\n", acct.Email, acct.Role, acct.ID, acct.Balance, token)
	}
}

func ensureAccount(ctx context.Context, accounts repository.AccountRepository, email string, role model.AccountRole, balance string) (*model.Account, error) {
	existing, err := accounts.FindByEmail(ctx, repository.NoTX, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	acct, err := model.NewAccount("", email, role)
	if err != nil {
		return nil, err
	}
	acct.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, err
	}
	if err := accounts.Save(ctx, repository.NoTX, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

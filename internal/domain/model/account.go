package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"inpaint-backend/internal/domain"
)

type AccountRole string

const (
	RoleUser  AccountRole = "user"
	RoleAdmin AccountRole = "admin"
)

// Account is a user's token account. Balance is mutated only by the token
// ledger inside a database transaction and never goes below zero in
// committed state.
type Account struct {
	ID        string
	Email     string
	Balance   decimal.Decimal
	Role      AccountRole
	CreatedAt time.Time
}

func NewAccount(id, email string, role AccountRole) (*Account, error) {
	if id == "" {
		id = uuid.NewString()
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, domain.ErrInvalidArgument
	}
	if role == "" {
		role = RoleUser
	}
	return &Account{
		ID:        id,
		Email:     email,
		Balance:   decimal.Zero,
		Role:      role,
		CreatedAt: time.Now(),
	}, nil
}

func (a *Account) IsAdmin() bool { return a != nil && a.Role == RoleAdmin }
func (a *Account) IsZero() bool  { return a == nil || a.ID == "" }

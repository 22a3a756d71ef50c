package auth

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PasswordResets stores reset tickets. Lookups happen by ID because the
// ticket ID is the token mailed to the account owner.
type PasswordResets interface {
	repository.Repository[*PasswordReset]

	Create(ctx context.Context, record *PasswordReset, criteria ...repository.InsertCriteria) (*PasswordReset, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *PasswordReset, criteria ...repository.InsertCriteria) (*PasswordReset, error)
}

type passwordResets struct {
	repository.Repository[*PasswordReset]
	db *bun.DB
}

var (
	_ PasswordResets                        = (*passwordResets)(nil)
	_ repository.Repository[*PasswordReset] = (*passwordResets)(nil)
)

func NewPasswordResetsRepository(db *bun.DB) PasswordResets {
	repo := repository.NewRepository[*PasswordReset](db, repository.ModelHandlers[*PasswordReset]{
		NewRecord: func() *PasswordReset { return &PasswordReset{} },
		GetID: func(r *PasswordReset) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *PasswordReset, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
	})

	return &passwordResets{
		Repository: repo,
		db:         db,
	}
}

func (a *passwordResets) Create(ctx context.Context, record *PasswordReset, criteria ...repository.InsertCriteria) (*PasswordReset, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *passwordResets) CreateTx(ctx context.Context, tx bun.IDB, record *PasswordReset, criteria ...repository.InsertCriteria) (*PasswordReset, error) {
	prepareResetDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func prepareResetDefaults(record *PasswordReset) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.Status == "" {
		record.Status = ResetStatusRequested
	}
}

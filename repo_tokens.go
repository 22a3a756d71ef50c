package auth

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AccessTokens interface {
	repository.Repository[*AccessToken]

	Create(ctx context.Context, record *AccessToken, criteria ...repository.InsertCriteria) (*AccessToken, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *AccessToken, criteria ...repository.InsertCriteria) (*AccessToken, error)
	GetByToken(ctx context.Context, token string) (*AccessToken, error)
	GetByTokenTx(ctx context.Context, tx bun.IDB, token string) (*AccessToken, error)
	DeleteByToken(ctx context.Context, token string) error
	DeleteByTokenTx(ctx context.Context, tx bun.IDB, token string) error
	DeleteExpired(ctx context.Context) (int64, error)
	DeleteExpiredTx(ctx context.Context, tx bun.IDB) (int64, error)
}

type accessTokens struct {
	repository.Repository[*AccessToken]
	db *bun.DB
}

var _ AccessTokens = (*accessTokens)(nil)

func NewAccessTokensRepository(db *bun.DB) AccessTokens {
	repo := repository.NewRepository[*AccessToken](db, repository.ModelHandlers[*AccessToken]{
		NewRecord: func() *AccessToken { return &AccessToken{} },
		GetID: func(t *AccessToken) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *AccessToken, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
	})

	return &accessTokens{Repository: repo, db: db}
}

func (a *accessTokens) Create(ctx context.Context, record *AccessToken, criteria ...repository.InsertCriteria) (*AccessToken, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *accessTokens) CreateTx(ctx context.Context, tx bun.IDB, record *AccessToken, criteria ...repository.InsertCriteria) (*AccessToken, error) {
	if record != nil && record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *accessTokens) GetByToken(ctx context.Context, token string) (*AccessToken, error) {
	return a.GetByTokenTx(ctx, a.db, token)
}

func (a *accessTokens) GetByTokenTx(ctx context.Context, tx bun.IDB, token string) (*AccessToken, error) {
	record := &AccessToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"token": token})
		}
		return nil, err
	}

	return record, nil
}

// DeleteByToken removes the record if present. Deleting a token that
// does not exist is not an error.
func (a *accessTokens) DeleteByToken(ctx context.Context, token string) error {
	return a.DeleteByTokenTx(ctx, a.db, token)
}

func (a *accessTokens) DeleteByTokenTx(ctx context.Context, tx bun.IDB, token string) error {
	_, err := tx.NewDelete().
		Model((*AccessToken)(nil)).
		Where("?TableAlias.token = ?", token).
		Exec(ctx)
	return err
}

func (a *accessTokens) DeleteExpired(ctx context.Context) (int64, error) {
	return a.DeleteExpiredTx(ctx, a.db)
}

func (a *accessTokens) DeleteExpiredTx(ctx context.Context, tx bun.IDB) (int64, error) {
	res, err := tx.NewDelete().
		Model((*AccessToken)(nil)).
		Where("?TableAlias.expires_at IS NOT NULL").
		Where("?TableAlias.expires_at < current_timestamp").
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}

	return n, nil
}

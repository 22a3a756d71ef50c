package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Roles() Roles
	Groups() Groups
	Permissions() Permissions
	AccessTokens() AccessTokens
	PasswordResets() PasswordResets
}

type mngr struct {
	db             *bun.DB
	users          Users
	roles          Roles
	groups         Groups
	permissions    Permissions
	accessTokens   AccessTokens
	passwordResets PasswordResets
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	RegisterModels(db)
	return &mngr{
		db:             db,
		users:          NewUsersRepository(db),
		roles:          NewRolesRepository(db),
		groups:         NewGroupsRepository(db),
		permissions:    NewPermissionsRepository(db),
		accessTokens:   NewAccessTokensRepository(db),
		passwordResets: NewPasswordResetsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.roles == nil {
		return errors.New("repository roles should be initialized")
	}

	if m.groups == nil {
		return errors.New("repository groups should be initialized")
	}

	if m.permissions == nil {
		return errors.New("repository permissions should be initialized")
	}

	if m.accessTokens == nil {
		return errors.New("repository accessTokens should be initialized")
	}

	if m.passwordResets == nil {
		return errors.New("repository passwordResets should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Roles() Roles {
	return m.roles
}

func (m mngr) Groups() Groups {
	return m.groups
}

func (m mngr) Permissions() Permissions {
	return m.permissions
}

func (m mngr) AccessTokens() AccessTokens {
	return m.accessTokens
}

func (m mngr) PasswordResets() PasswordResets {
	return m.passwordResets
}

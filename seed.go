package auth

import (
	"context"
	"fmt"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// EnsureRoleIdentity guarantees a bootstrap identity for the given role
// key. It creates the role if absent, then either returns the first
// user already holding it or creates one named after the role key, with
// the role key as the initial password. The whole check-then-create
// runs in one transaction, so repeat invocations return the same
// identity without duplicating rows.
func EnsureRoleIdentity(ctx context.Context, repo RepositoryManager, roleKey string) (*User, error) {
	if roleKey == "" {
		return nil, errors.New("role key is required", errors.CategoryBadInput)
	}

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.CategoryOperation, "context cancelled during role identity seeding")
	default:
	}

	var user *User

	err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		role, err := repo.Roles().GetOrCreateByKeyTx(ctx, tx, roleKey)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to ensure role")
		}

		existing, err := firstUserWithRoleTx(ctx, tx, role.ID)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to look up role identity")
		}

		if existing != nil {
			user = existing
			return nil
		}

		hash, err := HashPassword(roleKey)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to hash bootstrap password")
		}

		record := &User{
			Username:     roleKey,
			Email:        fmt.Sprintf("%s@example.com", roleKey),
			PasswordHash: hash,
			Status:       UserStatusActive,
		}

		if id, err := hashid.NewUUID(record.Email); err == nil {
			record.ID = id
		}

		record, err = repo.Users().CreateTx(ctx, tx, record)
		if err != nil {
			return errors.Wrap(err, errors.CategoryConflict, "could not create role identity")
		}

		if err := repo.Roles().AssignToUserTx(ctx, tx, role.ID, record.ID); err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to link role identity")
		}

		user = record
		return nil
	})

	if err != nil {
		var richErr *errors.Error
		if errors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "role identity seeding failed")
	}

	return user, nil
}

func firstUserWithRoleTx(ctx context.Context, tx bun.IDB, roleID uuid.UUID) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Join("JOIN user_roles AS url ON url.user_id = usr.id").
		Where("url.role_id = ?", roleID).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	return record, nil
}

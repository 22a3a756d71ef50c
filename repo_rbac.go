package auth

import (
	"context"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Membership queries answer the guard's three dimension checks. Each
// check is a single select; the permission check folds direct grants,
// role permissions, and group-role permissions into one query.

type Roles interface {
	repository.Repository[*Role]

	GetByKey(ctx context.Context, key string) (*Role, error)
	GetByKeyTx(ctx context.Context, tx bun.IDB, key string) (*Role, error)
	GetOrCreateByKey(ctx context.Context, key string) (*Role, error)
	GetOrCreateByKeyTx(ctx context.Context, tx bun.IDB, key string) (*Role, error)
	AssignToUserTx(ctx context.Context, tx bun.IDB, roleID, userID uuid.UUID) error
	GrantPermissionTx(ctx context.Context, tx bun.IDB, roleID, permissionID uuid.UUID) error
	UserHasAnyTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, keys []string) (bool, error)
}

type Groups interface {
	repository.Repository[*Group]

	GetOrCreateByKey(ctx context.Context, key string) (*Group, error)
	GetOrCreateByKeyTx(ctx context.Context, tx bun.IDB, key string) (*Group, error)
	AssignToUserTx(ctx context.Context, tx bun.IDB, groupID, userID uuid.UUID) error
	GrantRoleTx(ctx context.Context, tx bun.IDB, groupID, roleID uuid.UUID) error
	UserHasAnyTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, keys []string) (bool, error)
}

type Permissions interface {
	repository.Repository[*Permission]

	GetOrCreateByKey(ctx context.Context, key string) (*Permission, error)
	GetOrCreateByKeyTx(ctx context.Context, tx bun.IDB, key string) (*Permission, error)
	GrantToUserTx(ctx context.Context, tx bun.IDB, permissionID, userID uuid.UUID) error
	UserHasAnyTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, keys []string) (bool, error)
}

type roles struct {
	repository.Repository[*Role]
	db *bun.DB
}

var _ Roles = (*roles)(nil)

func NewRolesRepository(db *bun.DB) Roles {
	repo := repository.NewRepository[*Role](db, repository.ModelHandlers[*Role]{
		NewRecord: func() *Role { return &Role{} },
		GetID: func(r *Role) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *Role, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
	})

	return &roles{Repository: repo, db: db}
}

func (r *roles) GetByKey(ctx context.Context, key string) (*Role, error) {
	return r.GetByKeyTx(ctx, r.db, key)
}

func (r *roles) GetByKeyTx(ctx context.Context, tx bun.IDB, key string) (*Role, error) {
	record := &Role{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.key = ?", strings.TrimSpace(key)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"key": key})
		}
		return nil, err
	}

	return record, nil
}

func (r *roles) GetOrCreateByKey(ctx context.Context, key string) (*Role, error) {
	return r.GetOrCreateByKeyTx(ctx, r.db, key)
}

func (r *roles) GetOrCreateByKeyTx(ctx context.Context, tx bun.IDB, key string) (*Role, error) {
	record, err := r.GetByKeyTx(ctx, tx, key)
	if err == nil {
		return record, nil
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	record = &Role{
		ID:   uuid.New(),
		Key:  strings.TrimSpace(key),
		Name: strings.TrimSpace(key),
	}

	return r.Repository.CreateTx(ctx, tx, record)
}

func (r *roles) AssignToUserTx(ctx context.Context, tx bun.IDB, roleID, userID uuid.UUID) error {
	link := &UserRole{UserID: userID, RoleID: roleID}
	_, err := tx.NewInsert().
		Model(link).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return err
}

func (r *roles) GrantPermissionTx(ctx context.Context, tx bun.IDB, roleID, permissionID uuid.UUID) error {
	link := &RolePermission{RoleID: roleID, PermissionID: permissionID}
	_, err := tx.NewInsert().
		Model(link).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return err
}

func (r *roles) UserHasAnyTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, keys []string) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}

	return tx.NewSelect().
		Model((*UserRole)(nil)).
		Join("JOIN roles AS rol ON rol.id = url.role_id").
		Where("url.user_id = ?", userID).
		Where("rol.key IN (?)", bun.In(keys)).
		Exists(ctx)
}

type groups struct {
	repository.Repository[*Group]
	db *bun.DB
}

var _ Groups = (*groups)(nil)

func NewGroupsRepository(db *bun.DB) Groups {
	repo := repository.NewRepository[*Group](db, repository.ModelHandlers[*Group]{
		NewRecord: func() *Group { return &Group{} },
		GetID: func(g *Group) uuid.UUID {
			if g == nil {
				return uuid.Nil
			}
			return g.ID
		},
		SetID: func(g *Group, id uuid.UUID) {
			if g != nil {
				g.ID = id
			}
		},
	})

	return &groups{Repository: repo, db: db}
}

func (g *groups) GetOrCreateByKey(ctx context.Context, key string) (*Group, error) {
	return g.GetOrCreateByKeyTx(ctx, g.db, key)
}

func (g *groups) GetOrCreateByKeyTx(ctx context.Context, tx bun.IDB, key string) (*Group, error) {
	record := &Group{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.key = ?", strings.TrimSpace(key)).
		Limit(1).
		Scan(ctx)

	if err == nil {
		return record, nil
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	record = &Group{
		ID:   uuid.New(),
		Key:  strings.TrimSpace(key),
		Name: strings.TrimSpace(key),
	}

	return g.Repository.CreateTx(ctx, tx, record)
}

func (g *groups) AssignToUserTx(ctx context.Context, tx bun.IDB, groupID, userID uuid.UUID) error {
	link := &UserGroup{UserID: userID, GroupID: groupID}
	_, err := tx.NewInsert().
		Model(link).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return err
}

func (g *groups) GrantRoleTx(ctx context.Context, tx bun.IDB, groupID, roleID uuid.UUID) error {
	link := &GroupRole{GroupID: groupID, RoleID: roleID}
	_, err := tx.NewInsert().
		Model(link).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return err
}

func (g *groups) UserHasAnyTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, keys []string) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}

	return tx.NewSelect().
		Model((*UserGroup)(nil)).
		Join("JOIN groups AS grp ON grp.id = ugr.group_id").
		Where("ugr.user_id = ?", userID).
		Where("grp.key IN (?)", bun.In(keys)).
		Exists(ctx)
}

type permissions struct {
	repository.Repository[*Permission]
	db *bun.DB
}

var _ Permissions = (*permissions)(nil)

func NewPermissionsRepository(db *bun.DB) Permissions {
	repo := repository.NewRepository[*Permission](db, repository.ModelHandlers[*Permission]{
		NewRecord: func() *Permission { return &Permission{} },
		GetID: func(p *Permission) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Permission, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
	})

	return &permissions{Repository: repo, db: db}
}

func (p *permissions) GetOrCreateByKey(ctx context.Context, key string) (*Permission, error) {
	return p.GetOrCreateByKeyTx(ctx, p.db, key)
}

func (p *permissions) GetOrCreateByKeyTx(ctx context.Context, tx bun.IDB, key string) (*Permission, error) {
	record := &Permission{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.key = ?", strings.TrimSpace(key)).
		Limit(1).
		Scan(ctx)

	if err == nil {
		return record, nil
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	record = &Permission{
		ID:   uuid.New(),
		Key:  strings.TrimSpace(key),
		Name: strings.TrimSpace(key),
	}

	return p.Repository.CreateTx(ctx, tx, record)
}

func (p *permissions) GrantToUserTx(ctx context.Context, tx bun.IDB, permissionID, userID uuid.UUID) error {
	link := &UserPermission{UserID: userID, PermissionID: permissionID}
	_, err := tx.NewInsert().
		Model(link).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return err
}

// userPermissionClosureSQL matches a permission key through any of the
// three grant paths: direct user grants, permissions of the user's
// roles, and permissions of roles conferred by the user's groups.
var userPermissionClosureSQL = `SELECT EXISTS (
	SELECT 1 FROM "permissions" AS "perm"
	WHERE "perm"."key" IN (?)
	AND (
		EXISTS (
			SELECT 1 FROM "user_permissions" AS "upr"
			WHERE "upr"."user_id" = ? AND "upr"."permission_id" = "perm"."id"
		)
		OR EXISTS (
			SELECT 1 FROM "role_permissions" AS "rpr"
			WHERE "rpr"."permission_id" = "perm"."id"
			AND "rpr"."role_id" IN (
				SELECT "url"."role_id" FROM "user_roles" AS "url"
				WHERE "url"."user_id" = ?
				UNION
				SELECT "grl"."role_id" FROM "group_roles" AS "grl"
				JOIN "user_groups" AS "ugr" ON "ugr"."group_id" = "grl"."group_id"
				WHERE "ugr"."user_id" = ?
			)
		)
	)
)`

func (p *permissions) UserHasAnyTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, keys []string) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}

	var found bool
	err := tx.NewRaw(userPermissionClosureSQL, bun.In(keys), userID, userID, userID).
		Scan(ctx, &found)
	if err != nil {
		return false, err
	}

	return found, nil
}

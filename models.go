package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserStatus gates whether an identity may authenticate
type UserStatus = string

const (
	// UserStatusActive accounts can log in and hold sessions
	UserStatusActive UserStatus = "active"
	// UserStatusPending accounts exist but cannot log in yet
	UserStatusPending UserStatus = "pending"
	// UserStatusDisabled accounts are locked out
	UserStatusDisabled UserStatus = "disabled"
)

// User is the user model
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	FirstName      string         `bun:"first_name" json:"first_name,omitempty"`
	LastName       string         `bun:"last_name" json:"last_name,omitempty"`
	Username       string         `bun:"username,notnull,unique" json:"username,omitempty"`
	ProfilePicture string         `bun:"profile_picture" json:"profile_picture,omitempty"`
	Email          string         `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone          string         `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash   string         `bun:"password_hash" json:"-"`
	Status         UserStatus     `bun:"status,notnull,default:'active'" json:"status,omitempty"`
	LoginAttempts  int            `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time     `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time     `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	Metadata       map[string]any `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`

	Roles       []*Role       `bun:"m2m:user_roles,join:User=Role" json:"roles,omitempty"`
	Groups      []*Group      `bun:"m2m:user_groups,join:User=Group" json:"groups,omitempty"`
	Permissions []*Permission `bun:"m2m:user_permissions,join:User=Permission" json:"permissions,omitempty"`
}

// EnsureStatus normalizes records created before status existed
func (u *User) EnsureStatus() {
	if u.Status == "" {
		u.Status = UserStatusActive
	}
}

// IsActive reports whether the user may authenticate
func (u *User) IsActive() bool {
	u.EnsureStatus()
	return u.Status == UserStatusActive
}

// AddMetadata will append information to a metadata attribute
func (u *User) AddMetadata(key string, val any) *User {
	if u.Metadata == nil {
		u.Metadata = make(map[string]interface{})
	}
	u.Metadata[key] = val
	return u
}

// TokenPayload is the identity snapshot written into issued tokens
func (u *User) TokenPayload() TokenPayload {
	return TokenPayload{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
		Active:   u.IsActive(),
	}
}

// Role is a named bundle of permissions granted to users and groups
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rol"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Key           string     `bun:"key,notnull,unique" json:"key,omitempty"`
	Name          string     `bun:"name" json:"name,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`

	Permissions []*Permission `bun:"m2m:role_permissions,join:Role=Permission" json:"permissions,omitempty"`
}

// Group collects users and grants them roles
type Group struct {
	bun.BaseModel `bun:"table:groups,alias:grp"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Key           string     `bun:"key,notnull,unique" json:"key,omitempty"`
	Name          string     `bun:"name" json:"name,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`

	Roles []*Role `bun:"m2m:group_roles,join:Group=Role" json:"roles,omitempty"`
}

// Permission is the atomic grant checked by route requirements
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:perm"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Key           string     `bun:"key,notnull,unique" json:"key,omitempty"`
	Name          string     `bun:"name" json:"name,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// UserRole links users to roles
type UserRole struct {
	bun.BaseModel `bun:"table:user_roles,alias:url"`
	UserID        uuid.UUID `bun:"user_id,pk,type:uuid" json:"user_id"`
	User          *User     `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	RoleID        uuid.UUID `bun:"role_id,pk,type:uuid" json:"role_id"`
	Role          *Role     `bun:"rel:belongs-to,join:role_id=id" json:"role,omitempty"`
}

// UserGroup links users to groups
type UserGroup struct {
	bun.BaseModel `bun:"table:user_groups,alias:ugr"`
	UserID        uuid.UUID `bun:"user_id,pk,type:uuid" json:"user_id"`
	User          *User     `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	GroupID       uuid.UUID `bun:"group_id,pk,type:uuid" json:"group_id"`
	Group         *Group    `bun:"rel:belongs-to,join:group_id=id" json:"group,omitempty"`
}

// UserPermission links users to directly granted permissions
type UserPermission struct {
	bun.BaseModel `bun:"table:user_permissions,alias:upr"`
	UserID        uuid.UUID   `bun:"user_id,pk,type:uuid" json:"user_id"`
	User          *User       `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	PermissionID  uuid.UUID   `bun:"permission_id,pk,type:uuid" json:"permission_id"`
	Permission    *Permission `bun:"rel:belongs-to,join:permission_id=id" json:"permission,omitempty"`
}

// GroupRole links groups to the roles they confer
type GroupRole struct {
	bun.BaseModel `bun:"table:group_roles,alias:grl"`
	GroupID       uuid.UUID `bun:"group_id,pk,type:uuid" json:"group_id"`
	Group         *Group    `bun:"rel:belongs-to,join:group_id=id" json:"group,omitempty"`
	RoleID        uuid.UUID `bun:"role_id,pk,type:uuid" json:"role_id"`
	Role          *Role     `bun:"rel:belongs-to,join:role_id=id" json:"role,omitempty"`
}

// RolePermission links roles to permissions
type RolePermission struct {
	bun.BaseModel `bun:"table:role_permissions,alias:rpr"`
	RoleID        uuid.UUID   `bun:"role_id,pk,type:uuid" json:"role_id"`
	Role          *Role       `bun:"rel:belongs-to,join:role_id=id" json:"role,omitempty"`
	PermissionID  uuid.UUID   `bun:"permission_id,pk,type:uuid" json:"permission_id"`
	Permission    *Permission `bun:"rel:belongs-to,join:permission_id=id" json:"permission,omitempty"`
}

// ResetStatus tracks what happened to a password reset ticket
type ResetStatus = string

const (
	// ResetStatusRequested tickets are live and can still be redeemed
	ResetStatusRequested ResetStatus = "requested"
	// ResetStatusConsumed tickets were redeemed and are spent
	ResetStatusConsumed ResetStatus = "consumed"
)

// PasswordReset is the ticket mailed to an account owner who forgot
// their password. The row ID doubles as the opaque session token in
// the reset link.
type PasswordReset struct {
	bun.BaseModel `bun:"table:password_resets,alias:pwdr"`
	ID            uuid.UUID   `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        *uuid.UUID  `bun:"user_id,notnull" json:"user_id,omitempty"`
	User          *User       `bun:"rel:has-one,join:user_id=id" json:"user,omitempty"`
	Status        ResetStatus `bun:"status,notnull" json:"status,omitempty"`
	Email         string      `bun:"email,notnull" json:"email,omitempty"`
	ConsumedAt    *time.Time  `bun:"consumed_at,nullzero" json:"consumed_at,omitempty"`
	CreatedAt     *time.Time  `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time  `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time  `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// MarkResetConsumed builds the partial update that retires a ticket
func MarkResetConsumed(id uuid.UUID, at time.Time) *PasswordReset {
	return &PasswordReset{
		ID:         id,
		Status:     ResetStatusConsumed,
		ConsumedAt: &at,
	}
}

// AccessToken is the persisted session record used by the database
// token store. ExpiresAt nil means the token never expires.
type AccessToken struct {
	bun.BaseModel `bun:"table:access_tokens,alias:atk"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Token         string     `bun:"token,notnull,unique" json:"token,omitempty"`
	Payload       string     `bun:"payload,notnull" json:"payload,omitempty"`
	IssuedAt      *time.Time `bun:"issued_at,nullzero,default:current_timestamp" json:"issued_at,omitempty"`
	ExpiresAt     *time.Time `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
}

// Expired reports whether the record is past its expiry at the given time
func (t *AccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// TokenPayload is the identity snapshot a token carries. Stores persist
// or sign it verbatim; resolvers treat only Username as trusted input and
// re-fetch the live user from it.
type TokenPayload struct {
	UserID   uuid.UUID `json:"user_id,omitempty"`
	Username string    `json:"username"`
	Email    string    `json:"email,omitempty"`
	Active   bool      `json:"active"`
}

// RegisterModels registers the m2m join models bun needs before any
// relation query runs. Call it once per bun.DB.
func RegisterModels(db *bun.DB) {
	db.RegisterModel(
		(*UserRole)(nil),
		(*UserGroup)(nil),
		(*UserPermission)(nil),
		(*GroupRole)(nil),
		(*RolePermission)(nil),
	)
}

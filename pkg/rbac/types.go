package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// Role is a unified per-organization role. Roles are totally ordered:
// RoleRootAdmin > RoleAdmin > RoleEditor > RoleViewer > RoleNone.
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleEditor
	RoleAdmin
	RoleRootAdmin
)

// ErrUnknownRole is returned when parsing an unrecognized role name
var ErrUnknownRole = errors.New("unknown role")

var roleNames = map[Role]string{
	RoleNone:      "none",
	RoleViewer:    "viewer",
	RoleEditor:    "editor",
	RoleAdmin:     "admin",
	RoleRootAdmin: "root_admin",
}

// Roles returns every role from lowest to highest
func Roles() []Role {
	return []Role{RoleNone, RoleViewer, RoleEditor, RoleAdmin, RoleRootAdmin}
}

// String returns the wire name of the role
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Valid reports whether r is one of the defined roles
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// AtLeast reports whether r is the same as or higher than other
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && r >= other
}

// MarshalText implements encoding.TextMarshaler
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole parses a role wire name
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for role, roleName := range roleNames {
		if roleName == name {
			return role, nil
		}
	}
	return RoleNone, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// LegacyRole is the single-value role stored on accounts by the legacy schema
type LegacyRole string

const (
	LegacyUnknown         LegacyRole = ""
	LegacyRoot            LegacyRole = "root"
	LegacyInternalAdmin   LegacyRole = "internal_admin"
	LegacyInternalEditor  LegacyRole = "internal_editor"
	LegacyInternalAnalyst LegacyRole = "internal_analyst"
	LegacyExternalAdmin   LegacyRole = "external_admin"
	LegacyExternalEditor  LegacyRole = "external_editor"
	LegacyExternalAnalyst LegacyRole = "external_analyst"
	LegacyOperatorAdmin   LegacyRole = "operator_admin" // "Exploitant"
	LegacyManagerAdmin    LegacyRole = "manager_admin"  // "Beheerder"
	LegacyOperatorAnalyst LegacyRole = "operator_analyst"
)

// LegacyRoles returns every recognized legacy role
func LegacyRoles() []LegacyRole {
	return []LegacyRole{
		LegacyRoot,
		LegacyInternalAdmin,
		LegacyInternalEditor,
		LegacyInternalAnalyst,
		LegacyExternalAdmin,
		LegacyExternalEditor,
		LegacyExternalAnalyst,
		LegacyOperatorAdmin,
		LegacyManagerAdmin,
		LegacyOperatorAnalyst,
	}
}

// ParseLegacyRole parses a stored legacy role. Unrecognized values parse to LegacyUnknown.
func ParseLegacyRole(s string) LegacyRole {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "exploitant":
		return LegacyOperatorAdmin
	case "beheerder":
		return LegacyManagerAdmin
	}
	for _, legacy := range LegacyRoles() {
		if string(legacy) == name {
			return legacy
		}
	}
	return LegacyUnknown
}

// Topic is a capability area gated by the permission matrix
type Topic string

const (
	TopicPlatformSuperAdmin      Topic = "platform_super_admin"
	TopicPlatformAdmin           Topic = "platform_admin"
	TopicOperatorAssignment      Topic = "operator_assignment"
	TopicDataOwnerUsersFull      Topic = "data_owner_users_full"
	TopicDataOwnerUsersLimited   Topic = "data_owner_users_limited"
	TopicDataOwnerSettings       Topic = "data_owner_settings"
	TopicSiteContent             Topic = "site_content"
	TopicFacilitySettingsFull    Topic = "facility_settings_full"
	TopicFacilitySettingsLimited Topic = "facility_settings_limited"
	TopicReporting               Topic = "reporting"
	TopicQueueOversight          Topic = "queue_oversight"
)

// Topics returns every permission topic
func Topics() []Topic {
	return []Topic{
		TopicPlatformSuperAdmin,
		TopicPlatformAdmin,
		TopicOperatorAssignment,
		TopicDataOwnerUsersFull,
		TopicDataOwnerUsersLimited,
		TopicDataOwnerSettings,
		TopicSiteContent,
		TopicFacilitySettingsFull,
		TopicFacilitySettingsLimited,
		TopicReporting,
		TopicQueueOversight,
	}
}

// Valid reports whether t is a known topic
func (t Topic) Valid() bool {
	for _, topic := range Topics() {
		if topic == t {
			return true
		}
	}
	return false
}

// CRUD holds the create/read/update/delete rights for one topic
type CRUD struct {
	Create bool `json:"create"`
	Read   bool `json:"read"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`
}

var (
	allowNone       = CRUD{}
	allowRead       = CRUD{Read: true}
	allowReadUpdate = CRUD{Read: true, Update: true}
	allowCRUD       = CRUD{Create: true, Read: true, Update: true, Delete: true}
)

// Any reports whether at least one right is granted
func (c CRUD) Any() bool {
	return c.Create || c.Read || c.Update || c.Delete
}

// Covers reports whether c grants every right other grants
func (c CRUD) Covers(other CRUD) bool {
	return (c.Create || !other.Create) &&
		(c.Read || !other.Read) &&
		(c.Update || !other.Update) &&
		(c.Delete || !other.Delete)
}

// Matrix maps every topic to its rights. A compiled matrix is total.
type Matrix map[Topic]CRUD

package rbac

import "github.com/platinummonkey/facilityrbac/pkg/accounts"

// ToRole maps a legacy role onto the unified role model. isHome reports whether
// the organization being evaluated is the user's own organization. ToRole is total:
// unknown legacy roles yield RoleNone.
func ToRole(legacy LegacyRole, isHome bool) Role {
	switch legacy {
	case LegacyRoot:
		if isHome {
			return RoleRootAdmin
		}
		return RoleAdmin
	case LegacyOperatorAdmin, LegacyInternalAdmin:
		return RoleAdmin
	case LegacyInternalEditor:
		return RoleEditor
	case LegacyOperatorAnalyst, LegacyInternalAnalyst:
		return RoleViewer
	case LegacyExternalAdmin, LegacyManagerAdmin:
		if isHome {
			return RoleAdmin
		}
	case LegacyExternalEditor:
		if isHome {
			return RoleEditor
		}
	case LegacyExternalAnalyst:
		if isHome {
			return RoleViewer
		}
	}
	return RoleNone
}

// ToLegacy maps a unified role back to the legacy role recorded for an account of
// the given class. The second return value is false when no legacy role applies.
// RoleRootAdmin only exists as a legacy value for internal accounts; other classes
// receive their class-specific admin role.
func ToLegacy(role Role, class accounts.Class) (LegacyRole, bool) {
	var legacy LegacyRole

	switch class {
	case accounts.ClassInternal:
		switch role {
		case RoleRootAdmin:
			legacy = LegacyRoot
		case RoleAdmin:
			legacy = LegacyInternalAdmin
		case RoleEditor:
			legacy = LegacyInternalEditor
		case RoleViewer:
			legacy = LegacyInternalAnalyst
		}
	case accounts.ClassExternal:
		switch role {
		case RoleRootAdmin, RoleAdmin:
			legacy = LegacyExternalAdmin
		case RoleEditor:
			legacy = LegacyExternalEditor
		case RoleViewer:
			legacy = LegacyExternalAnalyst
		}
	case accounts.ClassOperator:
		switch role {
		case RoleRootAdmin, RoleAdmin:
			legacy = LegacyOperatorAdmin
		case RoleViewer:
			legacy = LegacyOperatorAnalyst
		}
	case accounts.ClassManager:
		switch role {
		case RoleRootAdmin, RoleAdmin:
			legacy = LegacyManagerAdmin
		case RoleViewer:
			legacy = LegacyOperatorAnalyst
		}
	}

	return legacy, legacy != LegacyUnknown
}

// Package accounts defines platform user accounts and their account classes.
package accounts

import (
	"errors"
	"fmt"
	"strings"
)

// Class is the account class a user belongs to
type Class string

const (
	ClassInternal Class = "internal"
	ClassExternal Class = "external"
	ClassOperator Class = "operator"
	ClassManager  Class = "manager"
)

// ErrUnknownClass is returned when parsing an unrecognized account class
var ErrUnknownClass = errors.New("unknown account class")

// Classes returns every account class
func Classes() []Class {
	return []Class{ClassInternal, ClassExternal, ClassOperator, ClassManager}
}

// Valid reports whether c is one of the known classes
func (c Class) Valid() bool {
	switch c {
	case ClassInternal, ClassExternal, ClassOperator, ClassManager:
		return true
	}
	return false
}

// ParseClass parses a stored or user-supplied account class
func ParseClass(s string) (Class, error) {
	c := Class(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownClass, s)
	}
	return c, nil
}

// User represents a platform account
type User struct {
	ID                    int64   `json:"id" yaml:"id"`
	Class                 Class   `json:"account_class" yaml:"class"`
	LegacyRole            string  `json:"legacy_role" yaml:"legacy_role"`
	HomeOrganizationID    int64   `json:"home_organization_id" yaml:"home"`
	DelegateOfUserID      *int64  `json:"delegate_of_user_id,omitempty" yaml:"delegate_of,omitempty"`
	LinkedOrganizationIDs []int64 `json:"linked_organization_ids,omitempty" yaml:"linked,omitempty"`
}

// IsDelegate reports whether the user is a sub-account acting for a primary account
func (u User) IsDelegate() bool {
	return u.DelegateOfUserID != nil
}

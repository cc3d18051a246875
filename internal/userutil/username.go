// Package userutil validates the target account name that configured
// commands run as.
package userutil

import (
	"errors"
	"fmt"
	"regexp"
)

// usernamePattern is the conservative POSIX account-name shape. The
// value later becomes a runuser argument, so anything outside it is
// refused at startup rather than sanitized.
var usernamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9._-]{0,31}\$?$`)

// ValidateUsername reports whether value can be a local account name.
func ValidateUsername(value string) error {
	if value == "" {
		return errors.New("user must not be empty")
	}
	if !usernamePattern.MatchString(value) {
		return fmt.Errorf("invalid user %q", value)
	}
	return nil
}

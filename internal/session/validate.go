package session

import (
	"fmt"
	"regexp"
)

// Names may not start with '-' so they never parse as a flag in chatctl.
var nameRegexp = regexp.MustCompile(`^[a-z0-9_][a-z0-9_-]{0,63}$`)

// ValidateName checks that name conforms to session naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use 1-64 of [a-z0-9_-], not starting with '-'", name)
	}
	return nil
}

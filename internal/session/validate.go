package session

import (
	"fmt"
	"regexp"
)

const maxNameLen = 64

var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateName checks that a profile name is safe to use as a directory name
// and cannot be mistaken for a flag.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("profile name is empty")
	case len(name) > maxNameLen:
		return fmt.Errorf("profile name %q is longer than %d characters", name, maxNameLen)
	case !nameRegexp.MatchString(name):
		return fmt.Errorf("invalid profile name %q: use lowercase letters, digits, '-' and '_', starting with a letter or digit", name)
	}
	return nil
}

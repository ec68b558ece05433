package device

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxNameLength   = 100
	minSecretLength = 8
)

// moduleIDRegex matches MC-XXXX-CODE; the code is checked against typeCodes.
var moduleIDRegex = regexp.MustCompile(`^MC-[A-Z0-9]{4}-([A-Z]{2,3})$`)

// ParseModuleID validates id and returns the module type encoded in it.
func ParseModuleID(id string) (Type, error) {
	m := moduleIDRegex.FindStringSubmatch(id)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidModuleID, id)
	}
	t, ok := typeCodes[m[1]]
	if !ok {
		return "", fmt.Errorf("%w: unknown type code %q", ErrInvalidModuleID, m[1])
	}
	return t, nil
}

// IsValidModuleID reports whether id follows the MC-XXXX-TYPE convention.
func IsValidModuleID(id string) bool {
	_, err := ParseModuleID(id)
	return err == nil
}

// ValidateModule checks a module before provisioning and fills in the
// type and name from the ID when they are empty.
func ValidateModule(m *Module) error {
	derived, err := ParseModuleID(m.ID)
	if err != nil {
		return err
	}

	switch {
	case m.Type == "":
		m.Type = derived
	case m.Type != derived:
		return fmt.Errorf("%w: %q does not match id %s", ErrInvalidType, m.Type, m.ID)
	}

	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		m.Name = m.ID
	}
	if utf8.RuneCountInString(m.Name) > maxNameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateSecret checks a provisioning secret.
func ValidateSecret(secret string) error {
	if len(secret) < minSecretLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidSecret, minSecretLength)
	}
	return nil
}

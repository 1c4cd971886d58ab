package meshberry

import "unicode"

// validUsername reports whether s is usable as a username: non-empty,
// no control characters, and at most 64 bytes long.
func validUsername(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// validSessionName reports whether s is usable as a session name, the
// same constraints as a username.
func validSessionName(s string) bool {
	return validUsername(s)
}

package services

const identityLength = 16

// IsValidIdentity reports whether token is an acceptable identity key:
// exactly 16 characters, each a hexadecimal digit (either case). Every
// identity-keyed endpoint gates on this before touching the ledger.
func IsValidIdentity(token string) bool {
	if len(token) != identityLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

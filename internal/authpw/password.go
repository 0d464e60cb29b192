package authpw

import (
	"net/mail"
	"strings"
	"unicode"

	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/errs"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes
	maxPasswordBytes = 72
)

type passwordRule struct {
	message string
	ok      func(string) bool
}

var passwordRules = []passwordRule{
	{
		message: "Password must be at least 8 characters long",
		ok:      func(p string) bool { return len([]rune(p)) >= minPasswordLength },
	},
	{
		message: "Password must be at most 72 bytes long",
		ok:      func(p string) bool { return len(p) <= maxPasswordBytes },
	},
	{
		message: "Password must contain at least one uppercase letter",
		ok:      func(p string) bool { return strings.IndexFunc(p, unicode.IsUpper) >= 0 },
	},
	{
		message: "Password must contain at least one lowercase letter",
		ok:      func(p string) bool { return strings.IndexFunc(p, unicode.IsLower) >= 0 },
	},
	{
		message: "Password must contain at least one digit",
		ok:      func(p string) bool { return strings.IndexFunc(p, unicode.IsDigit) >= 0 },
	},
	{
		message: "Password must contain at least one special character",
		ok:      func(p string) bool { return strings.IndexFunc(p, isSymbol) >= 0 },
	},
}

func isSymbol(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
}

// PasswordViolations returns the message of every rule password breaks, in
// rule order. An empty result means the password is acceptable.
func PasswordViolations(password string) []string {
	var violations []string
	for _, rule := range passwordRules {
		if !rule.ok(password) {
			violations = append(violations, rule.message)
		}
	}
	return violations
}

// ValidatePassword reports the first violation as the message and all of
// them as details.
func ValidatePassword(password string) error {
	violations := PasswordViolations(password)
	if len(violations) == 0 {
		return nil
	}
	return errs.New(errs.KindInvalidInput, violations[0], map[string]any{"violations": violations})
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail accepts a bare address with a non-empty local part and a dotted domain.
func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return false
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return false
	}
	domain := email[at+1:]
	dot := strings.LastIndex(domain, ".")
	return dot > 0 && dot < len(domain)-1
}

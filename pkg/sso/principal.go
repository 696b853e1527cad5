package sso

import "fmt"

// Principal is the authenticated identity attached to a session after a
// successful login. Immutable once constructed. Provider schemas vary, so
// everything the resource server returned is preserved in RawAttributes.
type Principal struct {
	Subject       string
	DisplayName   string
	RawAttributes map[string]any
}

// claim names tried in order when mapping the identity document
var (
	subjectClaims     = []string{"sub", "id", "user_id", "login"}
	displayNameClaims = []string{"name", "display_name", "login", "email"}
)

func NewPrincipalFromAttributes(attrs map[string]any) (*Principal, error) {
	p := &Principal{
		RawAttributes: attrs,
	}

	for _, claim := range subjectClaims {
		if v, ok := attrs[claim]; ok {
			p.Subject = stringify(v)
			break
		}
	}
	if p.Subject == "" {
		return nil, fmt.Errorf("identity document contains no subject")
	}

	for _, claim := range displayNameClaims {
		if v, ok := attrs[claim]; ok {
			p.DisplayName = stringify(v)
			break
		}
	}

	return p, nil
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		// JSON numbers decode as float64; identifiers are integral
		return fmt.Sprintf("%.0f", s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

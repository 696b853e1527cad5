package oauth2

import "fmt"

// ClientAuthScheme selects how client credentials are presented to the
// token endpoint. Providers differ: some expect HTTP Basic, some form
// fields, some query parameters. The three schemes are mutually exclusive.
type ClientAuthScheme string

const (
	ClientAuthSchemeQuery ClientAuthScheme = "query"
	ClientAuthSchemeForm  ClientAuthScheme = "form"
	ClientAuthSchemeBasic ClientAuthScheme = "basic"
)

func ParseClientAuthScheme(s string) (ClientAuthScheme, error) {
	switch ClientAuthScheme(s) {
	case ClientAuthSchemeQuery, ClientAuthSchemeForm, ClientAuthSchemeBasic:
		return ClientAuthScheme(s), nil
	case "":
		return ClientAuthSchemeForm, nil
	default:
		return "", fmt.Errorf("unknown client auth scheme: %q", s)
	}
}

// BearerPlacement selects how the access token is presented to the
// resource server.
type BearerPlacement string

const (
	BearerInHeader BearerPlacement = "header"
	BearerInQuery  BearerPlacement = "query"
)

func ParseBearerPlacement(s string) (BearerPlacement, error) {
	switch BearerPlacement(s) {
	case BearerInHeader, BearerInQuery:
		return BearerPlacement(s), nil
	case "":
		return BearerInHeader, nil
	default:
		return "", fmt.Errorf("unknown bearer placement: %q", s)
	}
}

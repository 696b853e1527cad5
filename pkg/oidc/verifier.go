package oidc

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Verifier checks ID tokens issued by one OpenID provider against the
// signing keys from its discovery document.
type Verifier struct {
	issuer            string
	clientID          string
	discoveryDocument *DiscoveryDocument
	keyCache          *jwk.Cache
}

func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	discoveryDocumentURL := issuer + "/.well-known/openid-configuration"
	doc, err := FetchDiscoveryDocument(discoveryDocumentURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document from %s: %w", discoveryDocumentURL, err)
	}

	// auto-refreshing signing key cache
	keyCache := jwk.NewCache(ctx)
	keyCache.Register(doc.JwksURI, jwk.WithMinRefreshInterval(15*time.Minute))
	_, err = keyCache.Refresh(ctx, doc.JwksURI)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signing keys: %w", err)
	}

	return &Verifier{
		issuer:            issuer,
		clientID:          clientID,
		discoveryDocument: doc,
		keyCache:          keyCache,
	}, nil
}

func (v *Verifier) Issuer() string {
	return v.issuer
}

func (v *Verifier) DiscoveryDocument() *DiscoveryDocument {
	return v.discoveryDocument
}

// VerifyIDToken parses the serialized token, verifies the signature
// against the cached key set and checks issuer, audience, expiry and the
// nonce bound to the login attempt. Returns the token claims as a map.
func (v *Verifier) VerifyIDToken(ctx context.Context, serialized, nonce string) (map[string]any, error) {
	keySet, err := v.keyCache.Get(ctx, v.discoveryDocument.JwksURI)
	if err != nil {
		return nil, fmt.Errorf("unable to get key set: %w", err)
	}

	token, err := jwt.ParseString(
		serialized,
		jwt.WithKeySet(keySet),
		jwt.WithIssuer(v.discoveryDocument.Issuer),
		jwt.WithAudience(v.clientID),
		jwt.WithRequiredClaim("exp"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to parse id token: %w", err)
	}

	if nonce != "" {
		tokenNonce, _ := token.PrivateClaims()["nonce"].(string)
		if tokenNonce != nonce {
			return nil, fmt.Errorf("id token nonce mismatch")
		}
	}

	return token.AsMap(ctx)
}

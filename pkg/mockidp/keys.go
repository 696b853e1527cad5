package mockidp

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

func randomSigningKey() (jwk.Key, error) {
	rawKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("unable to generate key: %w", err)
	}

	sigKey, err := jwk.FromRaw(rawKey)
	if err != nil {
		return nil, fmt.Errorf("unable to wrap key: %w", err)
	}
	sigKey.Set(jwk.KeyUsageKey, "sig")

	thumbprint, err := sigKey.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("unable to compute thumbprint: %w", err)
	}
	sigKey.Set(jwk.KeyIDKey, base64.RawURLEncoding.EncodeToString(thumbprint))

	return sigKey, nil
}

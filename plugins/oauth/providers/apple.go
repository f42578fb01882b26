package providers

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	appleIssuer = "https://appleid.apple.com"

	// appleSecretLifetime is the validity of each signed client secret
	appleSecretLifetime = 5 * time.Minute
)

// ErrMissingIDToken is returned when the token response has no id_token
var ErrMissingIDToken = errors.New("token response has no id_token")

// AppleOptions holds the Sign in with Apple signing key
type AppleOptions struct {
	TeamID string
	KeyID  string

	// PrivateKey is the .p8 key, PEM or base64 encoded PEM
	PrivateKey string

	// KeySet verifies id_token signatures. Apple's published keys are
	// used when nil.
	KeySet oidc.KeySet
}

// Apple signs users in with Sign in with Apple. The client secret is an
// ES256 JWT signed for each exchange, and the profile is the verified
// id_token's claims.
func Apple(opts Options) (*Provider, error) {
	if err := requireCredentials("apple", opts, false); err != nil {
		return nil, err
	}
	apple := opts.Apple
	if apple == nil || apple.TeamID == "" || apple.KeyID == "" || apple.PrivateKey == "" {
		return nil, fmt.Errorf("apple: team ID, key ID and private key are required")
	}

	key, err := parseApplePrivateKey(apple.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("apple: %w", err)
	}

	keySet := apple.KeySet
	if keySet == nil {
		keySet = oidc.NewRemoteKeySet(context.Background(), appleIssuer+"/auth/keys")
	}
	verifier := oidc.NewVerifier(appleIssuer, keySet, &oidc.Config{ClientID: opts.ClientID})

	p := newProvider("apple", "Apple", opts, oauth2.Endpoint{
		AuthURL:   appleIssuer + "/auth/authorize",
		TokenURL:  appleIssuer + "/auth/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}, []string{"name", "email"}, "")
	p.FormPost = true
	p.AuthParams = []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("response_mode", "form_post")}
	p.ClientSecret = func() (string, error) {
		return appleClientSecret(key, apple.TeamID, apple.KeyID, opts.ClientID, time.Now())
	}
	p.Fetch = func(ctx context.Context, token *oauth2.Token) ([]byte, error) {
		raw, _ := token.Extra("id_token").(string)
		if raw == "" {
			return nil, fmt.Errorf("apple: %w", ErrMissingIDToken)
		}

		idToken, err := verifier.Verify(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("apple: failed to verify id_token: %w", err)
		}

		var claims json.RawMessage
		if err := idToken.Claims(&claims); err != nil {
			return nil, fmt.Errorf("apple: failed to read id_token claims: %w", err)
		}
		return claims, nil
	}
	return p, nil
}

func parseApplePrivateKey(privateKey string) (*ecdsa.PrivateKey, error) {
	block := []byte(privateKey)
	if !strings.Contains(privateKey, "BEGIN") {
		decoded, err := base64.StdEncoding.DecodeString(privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode private key: %w", err)
		}
		block = decoded
	}

	key, err := jwt.ParseECPrivateKeyFromPEM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

func appleClientSecret(key *ecdsa.PrivateKey, teamID, keyID, clientID string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    teamID,
		Subject:   clientID,
		Audience:  jwt.ClaimStrings{appleIssuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(appleSecretLifetime)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = keyID

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign client secret: %w", err)
	}
	return signed, nil
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestCompositeAuthenticator(t *testing.T) {
	store := NewMemoryAPIKeyStore()
	store.AddKey("k1", "ops", "key-1")
	jwtCfg := JWTConfig{Secret: testSecret}
	composite := NewCompositeAuthenticator(
		NewAPIKeyAuthenticator(APIKeyConfig{}, store),
		NewJWTAuthenticator(jwtCfg),
	)
	ctx := context.Background()

	res, err := composite.Authenticate(ctx, apiKeyRequest("key-1"))
	if err != nil || !res.Authenticated || res.Method != "api_key" {
		t.Fatalf("api key result = %+v, %v", res, err)
	}

	token, _ := SignToken(jwtCfg, "bob", nil, time.Minute)
	res, err = composite.Authenticate(ctx, bearer(token))
	if err != nil || !res.Authenticated || res.Identity.Principal != "bob" {
		t.Fatalf("jwt result = %+v, %v", res, err)
	}

	res, _ = composite.Authenticate(ctx, apiKeyRequest("nope"))
	if res.Authenticated || !errors.Is(res.Error, ErrInvalidCredentials) {
		t.Errorf("bad key result = %+v", res)
	}

	empty := &AuthRequest{Headers: http.Header{}}
	if composite.Supports(ctx, empty) {
		t.Error("Supports() = true without credentials")
	}
	res, _ = composite.Authenticate(ctx, empty)
	if !errors.Is(res.Error, ErrMissingCredentials) {
		t.Errorf("no credentials result = %+v", res)
	}
}

func TestCompositeAuthenticator_InternalErrorStops(t *testing.T) {
	boom := errors.New("boom")
	always := func(context.Context, *AuthRequest) bool { return true }
	composite := NewCompositeAuthenticator(
		NewAuthenticatorFunc("broken", always, func(context.Context, *AuthRequest) (*AuthResult, error) {
			return nil, boom
		}),
		NewAuthenticatorFunc("never", always, func(context.Context, *AuthRequest) (*AuthResult, error) {
			t.Fatal("second authenticator called after an internal error")
			return nil, nil
		}),
	)
	if _, err := composite.Authenticate(context.Background(), &AuthRequest{}); err != boom {
		t.Errorf("Authenticate() error = %v, want boom", err)
	}
}

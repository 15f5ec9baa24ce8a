package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/bookporter/api/internal/platform/config"
)

// FirebaseVerifier verifies ID tokens with the Firebase Admin SDK.
type FirebaseVerifier struct {
	client  *firebaseauth.Client
	timeout time.Duration
}

// NewFirebaseVerifier initialises the Admin SDK for cfg.ProjectID. A zero timeout uses the
// package default.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, timeout time.Duration) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: initialise firebase auth client: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	return &FirebaseVerifier{client: client, timeout: timeout}, nil
}

// VerifyIDToken checks the token signature, audience and expiry.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("auth: firebase verifier not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.client.VerifyIDToken(ctx, idToken)
}

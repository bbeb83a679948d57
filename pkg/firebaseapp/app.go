// Package firebaseapp builds the single Firebase Admin handle shared by the
// token verifier and the push notifier.
package firebaseapp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"github.com/diagnosis/afyaplus/pkg/config"
	"google.golang.org/api/option"
)

var ErrNotConfigured = errors.New("firebase is not configured")

// New initialises the Admin SDK from a credentials file, or from inline JSON
// (raw or base64 encoded). With only a project id it falls back to
// application default credentials.
func New(ctx context.Context, cfg config.FirebaseConfig) (*firebase.App, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	var opts []option.ClientOption
	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.CredentialsJSON != "":
		raw, err := credentialsJSON(cfg.CredentialsJSON)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithCredentialsJSON(raw))
	}

	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	return app, nil
}

func credentialsJSON(v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "{") {
		return []byte(v), nil
	}
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("decode FIREBASE_CREDENTIALS_JSON: %w", err)
	}
	return raw, nil
}

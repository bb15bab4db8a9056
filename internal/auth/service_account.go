package auth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ServiceAccountKey is the part of a service account key file that is
// validated before it is stored
type ServiceAccountKey struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
	TokenURI    string `json:"token_uri"`
}

// StoreServiceAccount validates a key file and records it for profile.
// Tokens are minted from the key on demand.
func (m *Manager) StoreServiceAccount(profile, keyFilePath string, scopes []string) (*types.Credentials, error) {
	if keyFilePath == "" {
		return nil, utils.NewCLIError(utils.ErrCodeInvalidArgument, "service account key file required").Err()
	}
	abs, err := filepath.Abs(keyFilePath)
	if err != nil {
		return nil, utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Err()
	}
	key, _, err := readServiceAccountKey(abs)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = utils.ScopesSync
	}

	creds := &types.Credentials{
		Type:                types.AuthTypeServiceAccount,
		Scopes:              scopes,
		ServiceAccountEmail: key.ClientEmail,
		KeyFile:             abs,
	}
	if err := m.SaveCredentials(profile, creds); err != nil {
		return nil, err
	}
	return creds, nil
}

func readServiceAccountKey(path string) (*ServiceAccountKey, []byte, error) {
	invalid := func(msg string) error {
		return utils.NewCLIError(utils.ErrCodeInvalidArgument, msg).WithContext("keyFile", path).Err()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, invalid("cannot read service account key: " + err.Error())
	}
	var key ServiceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, nil, invalid("cannot parse service account key: " + err.Error())
	}
	switch {
	case key.Type != "service_account":
		return nil, nil, invalid("invalid service account key type: " + key.Type)
	case key.ClientEmail == "":
		return nil, nil, invalid("missing client_email in service account key")
	case key.PrivateKey == "":
		return nil, nil, invalid("missing private_key in service account key")
	}
	return &key, data, nil
}

func (m *Manager) serviceAccountTokenSource(ctx context.Context, creds *types.Credentials) (oauth2.TokenSource, error) {
	_, data, err := readServiceAccountKey(creds.KeyFile)
	if err != nil {
		return nil, utils.NewCLIError(utils.ErrCodeAuthFailed, err.Error()).
			WithContext("keyFile", creds.KeyFile).
			Err()
	}
	cfg, err := google.JWTConfigFromJSON(data, creds.Scopes...)
	if err != nil {
		return nil, utils.NewCLIError(utils.ErrCodeAuthFailed, "invalid service account key: "+err.Error()).
			WithContext("keyFile", creds.KeyFile).
			Err()
	}
	return cfg.TokenSource(ctx), nil
}

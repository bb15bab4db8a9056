package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/logging"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	serviceName        = "gsyncfs"
	tokenRefreshBuffer = 5 * time.Minute
)

// Manager stores per-profile credentials and turns them into token sources
type Manager struct {
	configDir      string
	useKeyring     bool
	storage        StorageBackend
	storageWarning string
	endpoint       oauth2.Endpoint
	logger         logging.Logger
	now            func() time.Time
}

// ManagerOptions configures the auth manager
type ManagerOptions struct {
	ForceEncryptedFile bool // skip the keyring even when it is available
	ForcePlainFile     bool // unencrypted files, development only
	Logger             logging.Logger
}

// NewManager creates a manager storing credentials under configDir. The
// system keyring is preferred, then encrypted files.
func NewManager(configDir string, opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	mgr := &Manager{
		configDir: configDir,
		endpoint:  google.Endpoint,
		logger:    logger.With(logging.F("component", "auth")),
		now:       time.Now,
	}

	switch {
	case opts.ForcePlainFile:
		mgr.storage = NewPlainFileStorage(configDir)
		mgr.storageWarning = "WARNING: Using unencrypted file storage. Credentials are stored in plain text."
	case opts.ForceEncryptedFile || !checkKeyringAvailable():
		storage, err := NewEncryptedFileStorage(configDir)
		if err != nil {
			mgr.storage = NewPlainFileStorage(configDir)
			mgr.storageWarning = fmt.Sprintf("WARNING: Encryption setup failed (%v). Using plain file storage.", err)
			break
		}
		mgr.storage = storage
		if !opts.ForceEncryptedFile {
			mgr.storageWarning = "INFO: System keyring not available. Using encrypted file storage."
		}
	default:
		mgr.storage = NewKeyringStorage(serviceName)
		mgr.useKeyring = true
	}
	return mgr
}

func checkKeyringAvailable() bool {
	probe := serviceName + "-probe"
	if err := keyring.Set(serviceName, probe, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(serviceName, probe)
	return true
}

// SaveCredentials stores creds for profile
func (m *Manager) SaveCredentials(profile string, creds *types.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := m.storage.Save(profile, data); err != nil {
		return utils.NewCLIError(utils.ErrCodeInternalError, "cannot store credentials: "+err.Error()).
			WithContext("backend", m.storage.Name()).
			Err()
	}
	if err := m.trackProfile(profile, true); err != nil {
		m.logger.Warn("Failed to update profile list", logging.F("error", err.Error()))
	}
	return nil
}

// SaveToken stores an OAuth token obtained elsewhere together with the
// client it was issued to
func (m *Manager) SaveToken(profile, clientID, clientSecret string, token *oauth2.Token, scopes []string) error {
	if token == nil || (token.AccessToken == "" && token.RefreshToken == "") {
		return utils.NewCLIError(utils.ErrCodeInvalidArgument, "an access token or refresh token is required").Err()
	}
	if token.RefreshToken != "" && clientID == "" {
		return utils.NewCLIError(utils.ErrCodeInvalidArgument, "a refresh token needs the OAuth client id it was issued to").Err()
	}
	if len(scopes) == 0 {
		scopes = utils.ScopesSync
	}
	return m.SaveCredentials(profile, &types.Credentials{
		Type:         types.AuthTypeOAuth,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiryDate:   token.Expiry,
		Scopes:       scopes,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
}

// LoadCredentials loads the credentials of profile. A profile without
// credentials fails with AUTH_FAILED.
func (m *Manager) LoadCredentials(profile string) (*types.Credentials, error) {
	data, err := m.storage.Load(profile)
	if err == errNoCredentials {
		return nil, utils.NewCLIError(utils.ErrCodeAuthFailed,
			fmt.Sprintf("no credentials for profile '%s'; run 'gsyncfs auth store' first", profile)).
			WithContext("profile", profile).
			Err()
	}
	if err != nil {
		return nil, utils.NewCLIError(utils.ErrCodeAuthFailed, "cannot read credentials: "+err.Error()).
			WithContext("profile", profile).
			WithContext("backend", m.storage.Name()).
			Err()
	}

	var creds types.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, utils.NewCLIError(utils.ErrCodeAuthFailed, "stored credentials are corrupt: "+err.Error()).
			WithContext("profile", profile).
			Err()
	}
	return &creds, nil
}

// DeleteCredentials removes the credentials of profile
func (m *Manager) DeleteCredentials(profile string) error {
	if err := m.storage.Delete(profile); err != nil {
		return err
	}
	if err := m.trackProfile(profile, false); err != nil {
		m.logger.Warn("Failed to update profile list", logging.F("error", err.Error()))
	}
	return nil
}

// NeedsRefresh reports whether the access token is expired or about to be
func (m *Manager) NeedsRefresh(creds *types.Credentials) bool {
	return m.now().Add(tokenRefreshBuffer).After(creds.ExpiryDate)
}

// ValidateScopes checks that creds were granted every required scope.
// Credentials recorded without scopes are not checked.
func (m *Manager) ValidateScopes(creds *types.Credentials, required []string) error {
	if len(creds.Scopes) == 0 {
		return nil
	}
	granted := make(map[string]bool, len(creds.Scopes))
	for _, s := range creds.Scopes {
		granted[s] = true
	}
	for _, req := range required {
		if !granted[req] {
			return utils.NewCLIError(utils.ErrCodeAuthFailed, "missing required scope: "+req).
				WithContext("scope", req).
				Err()
		}
	}
	return nil
}

// Status summarizes the stored credentials of profile
func (m *Manager) Status(profile string) (*types.CredentialStatus, error) {
	creds, err := m.LoadCredentials(profile)
	if err != nil {
		return nil, err
	}
	st := &types.CredentialStatus{
		Profile:    profile,
		Type:       creds.Type,
		Backend:    m.storage.Name(),
		ExpiryDate: creds.ExpiryDate,
		Scopes:     creds.Scopes,
	}
	switch creds.Type {
	case types.AuthTypeServiceAccount:
		st.Identity = creds.ServiceAccountEmail
		st.Refreshes = true
	default:
		st.Refreshes = creds.RefreshToken != "" && creds.ClientID != ""
		st.Expired = !creds.ExpiryDate.IsZero() && m.now().After(creds.ExpiryDate)
	}
	return st, nil
}

// TokenSource returns the token provider for profile. OAuth tokens are
// refreshed on demand and refreshed tokens are written back to storage.
func (m *Manager) TokenSource(ctx context.Context, profile string) (oauth2.TokenSource, error) {
	creds, err := m.LoadCredentials(profile)
	if err != nil {
		return nil, err
	}
	if err := m.ValidateScopes(creds, utils.ScopesSync); err != nil {
		return nil, err
	}

	if creds.Type == types.AuthTypeServiceAccount {
		return m.serviceAccountTokenSource(ctx, creds)
	}

	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    creds.TokenType,
		Expiry:       creds.ExpiryDate,
	}
	if creds.RefreshToken == "" || creds.ClientID == "" {
		if creds.AccessToken == "" || (!creds.ExpiryDate.IsZero() && m.now().After(creds.ExpiryDate)) {
			return nil, utils.NewCLIError(utils.ErrCodeAuthFailed,
				"access token expired and cannot be refreshed; run 'gsyncfs auth store' again").
				WithContext("profile", profile).
				Err()
		}
		return oauth2.StaticTokenSource(token), nil
	}

	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scopes:       creds.Scopes,
		Endpoint:     m.endpoint,
	}
	return &persistingSource{
		manager: m,
		profile: profile,
		creds:   *creds,
		source:  oauth2.ReuseTokenSource(token, cfg.TokenSource(ctx, token)),
		last:    creds.AccessToken,
	}, nil
}

// persistingSource writes tokens minted by a refresh back to storage so the
// next process start does not refresh again
type persistingSource struct {
	manager *Manager
	profile string
	source  oauth2.TokenSource

	mu    sync.Mutex
	creds types.Credentials
	last  string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	token, err := s.source.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken == s.last {
		return token, nil
	}
	s.last = token.AccessToken
	s.creds.AccessToken = token.AccessToken
	s.creds.ExpiryDate = token.Expiry
	if token.TokenType != "" {
		s.creds.TokenType = token.TokenType
	}
	if token.RefreshToken != "" {
		s.creds.RefreshToken = token.RefreshToken
	}
	if err := s.manager.SaveCredentials(s.profile, &s.creds); err != nil {
		s.manager.logger.Warn("Failed to persist refreshed token",
			logging.F("profile", s.profile),
			logging.F("error", err.Error()),
		)
	} else {
		s.manager.logger.Debug("Persisted refreshed token", logging.F("profile", s.profile))
	}
	return token, nil
}

// ConfigDir returns the configuration directory
func (m *Manager) ConfigDir() string {
	return m.configDir
}

// StorageBackend returns the name of the storage backend in use
func (m *Manager) StorageBackend() string {
	return m.storage.Name()
}

// StorageWarning returns a notice about a degraded storage backend, if any
func (m *Manager) StorageWarning() string {
	return m.storageWarning
}

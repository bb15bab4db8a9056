package cli

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/dl-alexandre/gsyncfs/internal/api"
	"github.com/dl-alexandre/gsyncfs/internal/auth"
	"github.com/dl-alexandre/gsyncfs/internal/config"
	"github.com/dl-alexandre/gsyncfs/internal/remote"
	syncengine "github.com/dl-alexandre/gsyncfs/internal/sync"
	"github.com/dl-alexandre/gsyncfs/internal/sync/index"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
)

// IndexFileName is the identity cache database under the config directory
const IndexFileName = "index.db"

func getConfigDir() (string, error) {
	dir, err := config.GetConfigDir()
	if err != nil {
		return "", utils.NewCLIError(utils.ErrCodeInternalError, err.Error()).Err()
	}
	return dir, nil
}

func newAuthManager() (*auth.Manager, error) {
	dir, err := getConfigDir()
	if err != nil {
		return nil, err
	}
	return auth.NewManager(dir, auth.ManagerOptions{Logger: GetLogger()}), nil
}

// openStore builds the Drive backed remote store for the active profile
func openStore(ctx context.Context) (*remote.DriveStore, error) {
	mgr, err := newAuthManager()
	if err != nil {
		return nil, err
	}
	if warning := mgr.StorageWarning(); warning != "" {
		GetLogger().Debug(warning)
	}

	var base http.RoundTripper
	if debugTransport != nil {
		base = debugTransport
	}
	svc, err := mgr.DriveService(ctx, globalFlags.Profile, base)
	if err != nil {
		return nil, err
	}

	client := api.NewClient(svc, appConfig.MaxRetries, appConfig.RetryBaseDelay, GetLogger()).
		WithProfile(globalFlags.Profile)
	return remote.NewDriveStore(client), nil
}

func openIndex() (*index.DB, error) {
	dir, err := getConfigDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, IndexFileName)
	db, err := index.Open(path)
	if err != nil {
		return nil, utils.NewCLIError(utils.ErrCodeInternalError, "cannot open index: "+err.Error()).
			WithContext("path", path).
			Err()
	}
	return db, nil
}

// openEngine wires the remote store and the index into a sync engine. The
// caller owns the engine and must Close it.
func openEngine(ctx context.Context) (*syncengine.Engine, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	db, err := openIndex()
	if err != nil {
		return nil, err
	}
	return syncengine.NewEngine(store, db, syncengine.OptionsFromConfig(appConfig), GetLogger()), nil
}

// withRequestTimeout bounds one-shot commands by the configured timeout
func withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, appConfig.GetRequestTimeout())
}

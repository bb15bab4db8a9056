package cli

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/auth"
	"github.com/dl-alexandre/gsyncfs/internal/config"
	"github.com/dl-alexandre/gsyncfs/internal/logging"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored credentials",
	Long: `Store, inspect and remove the credentials a profile uses to reach Google
Drive. Credentials live in the system keyring when one is available and in
an encrypted file under the config directory otherwise.`,
}

var authStoreCmd = &cobra.Command{
	Use:   "store",
	Short: "Store an OAuth token for the profile",
	Long: `Store an OAuth token obtained from any OAuth flow. A refresh token needs
the client it was issued to; the access token is then refreshed on demand
and the refreshed token written back.

Examples:
  gsyncfs auth store --token-file token.json --client-id ID --client-secret SECRET
  gsyncfs auth store --access-token ya29... --expires-in 1h`,
	RunE: runAuthStore,
}

var authServiceAccountCmd = &cobra.Command{
	Use:   "service-account",
	Short: "Use a service account key for the profile",
	RunE:  runAuthServiceAccount,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the credentials of the profile",
	RunE:  runAuthStatus,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the credentials of the profile",
	RunE:  runAuthLogout,
}

var authProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List profiles with stored credentials",
	RunE:  runAuthProfiles,
}

var (
	authAccessToken  string
	authRefreshToken string
	authTokenFile    string
	authExpiresIn    time.Duration
	authClientID     string
	authClientSecret string
	authKeyFile      string
	authScopes       []string
	authNoKeyring    bool
)

func init() {
	authStoreCmd.Flags().StringVar(&authAccessToken, "access-token", "", "OAuth access token")
	authStoreCmd.Flags().StringVar(&authRefreshToken, "refresh-token", "", "OAuth refresh token")
	authStoreCmd.Flags().StringVar(&authTokenFile, "token-file", "", "JSON file holding an OAuth token")
	authStoreCmd.Flags().DurationVar(&authExpiresIn, "expires-in", 0, "Lifetime of the access token")
	authStoreCmd.Flags().StringVar(&authClientID, "client-id", "", "OAuth client ID (or "+config.EnvPrefix+"CLIENT_ID)")
	authStoreCmd.Flags().StringVar(&authClientSecret, "client-secret", "", "OAuth client secret (or "+config.EnvPrefix+"CLIENT_SECRET)")
	authStoreCmd.Flags().StringSliceVar(&authScopes, "scopes", nil, "Scopes the token was granted")

	authServiceAccountCmd.Flags().StringVar(&authKeyFile, "key-file", "", "Path to the service account JSON key file")
	authServiceAccountCmd.Flags().StringSliceVar(&authScopes, "scopes", nil, "Scopes to request")
	_ = authServiceAccountCmd.MarkFlagRequired("key-file")

	authCmd.PersistentFlags().BoolVar(&authNoKeyring, "no-keyring", false, "Store credentials in an encrypted file even when a keyring is available")

	authCmd.AddCommand(authStoreCmd)
	authCmd.AddCommand(authServiceAccountCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authProfilesCmd)
	rootCmd.AddCommand(authCmd)
}

func authManagerForCommand() (*auth.Manager, error) {
	dir, err := getConfigDir()
	if err != nil {
		return nil, err
	}
	return auth.NewManager(dir, auth.ManagerOptions{
		ForceEncryptedFile: authNoKeyring,
		Logger:             GetLogger(),
	}), nil
}

// tokenFromFlags assembles the token to store from --token-file and the
// individual token flags, which take precedence
func tokenFromFlags(now time.Time) (*oauth2.Token, error) {
	token := &oauth2.Token{}
	if authTokenFile != "" {
		data, err := os.ReadFile(authTokenFile)
		if err != nil {
			return nil, utils.NewCLIError(utils.ErrCodeInvalidArgument, "cannot read token file: "+err.Error()).
				WithContext("tokenFile", authTokenFile).
				Err()
		}
		if err := json.Unmarshal(data, token); err != nil {
			return nil, utils.NewCLIError(utils.ErrCodeInvalidArgument, "cannot parse token file: "+err.Error()).
				WithContext("tokenFile", authTokenFile).
				Err()
		}
	}
	if authAccessToken != "" {
		token.AccessToken = authAccessToken
	}
	if authRefreshToken != "" {
		token.RefreshToken = authRefreshToken
	}
	if authExpiresIn > 0 {
		token.Expiry = now.Add(authExpiresIn)
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	return token, nil
}

func runAuthStore(cmd *cobra.Command, args []string) error {
	out := newOutput()
	flags := GetGlobalFlags()

	token, err := tokenFromFlags(time.Now())
	if err != nil {
		return err
	}
	if authClientID == "" {
		authClientID = os.Getenv(config.EnvPrefix + "CLIENT_ID")
	}
	if authClientSecret == "" {
		authClientSecret = os.Getenv(config.EnvPrefix + "CLIENT_SECRET")
	}

	mgr, err := authManagerForCommand()
	if err != nil {
		return err
	}
	if warning := mgr.StorageWarning(); warning != "" {
		out.Log("%s", warning)
	}
	if err := mgr.SaveToken(flags.Profile, authClientID, authClientSecret, token, authScopes); err != nil {
		return err
	}
	status, err := mgr.Status(flags.Profile)
	if err != nil {
		return err
	}

	out.Log("Credentials stored for profile: %s", flags.Profile)
	return out.WriteSuccess("auth.store", status)
}

func runAuthServiceAccount(cmd *cobra.Command, args []string) error {
	out := newOutput()
	flags := GetGlobalFlags()

	mgr, err := authManagerForCommand()
	if err != nil {
		return err
	}
	if _, err := mgr.StoreServiceAccount(flags.Profile, authKeyFile, authScopes); err != nil {
		return err
	}
	status, err := mgr.Status(flags.Profile)
	if err != nil {
		return err
	}

	out.Log("Service account stored for profile: %s", flags.Profile)
	return out.WriteSuccess("auth.service-account", status)
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	out := newOutput()
	flags := GetGlobalFlags()

	mgr, err := authManagerForCommand()
	if err != nil {
		return err
	}
	if warning := mgr.StorageWarning(); warning != "" {
		out.Verbose("%s", warning)
	}

	status, err := mgr.Status(flags.Profile)
	if err != nil {
		return err
	}
	return out.WriteSuccess("auth.status", status)
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	out := newOutput()
	flags := GetGlobalFlags()

	mgr, err := authManagerForCommand()
	if err != nil {
		return err
	}
	// Fails with AUTH_FAILED when there is nothing to remove
	if _, err := mgr.LoadCredentials(flags.Profile); err != nil {
		return err
	}
	if err := mgr.DeleteCredentials(flags.Profile); err != nil {
		return utils.NewCLIError(utils.ErrCodeInternalError, "cannot remove credentials: "+err.Error()).
			WithContext("profile", flags.Profile).
			Err()
	}

	out.Log("Credentials removed for profile: %s", flags.Profile)
	return out.WriteSuccess("auth.logout", map[string]interface{}{
		"profile": flags.Profile,
		"status":  "logged_out",
	})
}

// ProfileList renders `auth profiles`
type ProfileList struct {
	Backend  string                    `json:"storageBackend"`
	Profiles []*types.CredentialStatus `json:"profiles"`
}

func (l *ProfileList) Headers() []string {
	return (&types.CredentialStatus{}).Headers()
}

func (l *ProfileList) Rows() [][]string {
	rows := make([][]string, 0, len(l.Profiles))
	for _, p := range l.Profiles {
		rows = append(rows, p.Rows()...)
	}
	return rows
}

func (l *ProfileList) EmptyMessage() string {
	return "No stored credentials. Run 'gsyncfs auth store' first."
}

func runAuthProfiles(cmd *cobra.Command, args []string) error {
	out := newOutput()

	mgr, err := authManagerForCommand()
	if err != nil {
		return err
	}
	profiles, err := mgr.ListProfiles()
	if err != nil {
		return utils.NewCLIError(utils.ErrCodeInternalError, "cannot list profiles: "+err.Error()).Err()
	}

	list := &ProfileList{Backend: mgr.StorageBackend(), Profiles: []*types.CredentialStatus{}}
	for _, profile := range profiles {
		status, err := mgr.Status(profile)
		if err != nil {
			GetLogger().Warn("Skipping unreadable profile", logging.F("profile", profile), logging.F("error", err.Error()))
			continue
		}
		list.Profiles = append(list.Profiles, status)
	}
	return out.WriteSuccess("auth.profiles", list)
}

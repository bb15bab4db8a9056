package auth

import (
	"context"
	"net/http"

	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v2"
	"google.golang.org/api/option"
)

// NewDriveService builds a Drive v2 service whose requests carry tokens
// from ts. base is the round tripper beneath the token transport, such as
// the debug logging transport; nil means http.DefaultTransport.
func NewDriveService(ctx context.Context, ts oauth2.TokenSource, base http.RoundTripper, opts ...option.ClientOption) (*drive.Service, error) {
	if base == nil {
		base = http.DefaultTransport
	}
	client := &http.Client{Transport: &oauth2.Transport{Source: ts, Base: base}}

	svc, err := drive.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)...)
	if err != nil {
		return nil, utils.NewCLIError(utils.ErrCodeInternalError, "cannot create Drive service: "+err.Error()).Err()
	}
	return svc, nil
}

// DriveService resolves the token source of profile and builds the Drive
// service from it
func (m *Manager) DriveService(ctx context.Context, profile string, base http.RoundTripper, opts ...option.ClientOption) (*drive.Service, error) {
	ts, err := m.TokenSource(ctx, profile)
	if err != nil {
		return nil, err
	}
	return NewDriveService(ctx, ts, base, opts...)
}

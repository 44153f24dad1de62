// Package drive uploads approved videos to Google Drive with a service account.
package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kiranshivaraju/videojobs/internal/config"
	"github.com/kiranshivaraju/videojobs/pkg/models"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrUploadFailed wraps every Drive API failure.
var ErrUploadFailed = errors.New("drive upload failed")

const uploadFields = "id, webViewLink, webContentLink"

// Uploader implements models.Uploader against the Drive v3 API.
type Uploader struct {
	files         *gdrive.FilesService
	defaultFolder string
	logger        *slog.Logger
}

// New authenticates with the service account in cfg.
func New(ctx context.Context, cfg config.DriveConfig) (*Uploader, error) {
	if cfg.ServiceAccountEmail == "" || cfg.PrivateKey == "" {
		return nil, fmt.Errorf("drive: service account email and private key are required")
	}
	if cfg.FolderID == "" {
		return nil, fmt.Errorf("drive: default folder id is required")
	}

	jwtCfg := &jwt.Config{
		Email:      cfg.ServiceAccountEmail,
		PrivateKey: []byte(cfg.PrivateKey),
		Scopes:     []string{gdrive.DriveFileScope},
		TokenURL:   google.JWTTokenURL,
	}
	svc, err := gdrive.NewService(ctx, option.WithHTTPClient(jwtCfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("drive: create service: %w", err)
	}
	return NewWithService(svc, cfg.FolderID), nil
}

// NewWithService wraps an existing Drive service.
func NewWithService(svc *gdrive.Service, defaultFolder string) *Uploader {
	return &Uploader{
		files:         svc.Files,
		defaultFolder: defaultFolder,
		logger:        slog.Default(),
	}
}

// Upload sends localPath to folderID (or the default folder) under name.
func (u *Uploader) Upload(ctx context.Context, localPath, name, folderID string) (models.UploadResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return models.UploadResult{}, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	folder := u.resolveFolder(folderID)
	created, err := u.files.Create(&gdrive.File{Name: name, Parents: []string{folder}}).
		Media(f, googleapi.ContentType("video/mp4")).
		Fields(uploadFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return models.UploadResult{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if created.Id == "" {
		return models.UploadResult{}, fmt.Errorf("%w: no file id returned", ErrUploadFailed)
	}

	u.logger.Info("video uploaded", "file_id", created.Id, "folder_id", folder, "name", name)
	return models.UploadResult{
		FileID:         created.Id,
		WebViewLink:    created.WebViewLink,
		WebContentLink: created.WebContentLink,
	}, nil
}

func (u *Uploader) resolveFolder(folderID string) string {
	if folderID != "" {
		return folderID
	}
	return u.defaultFolder
}

var _ models.Uploader = (*Uploader)(nil)

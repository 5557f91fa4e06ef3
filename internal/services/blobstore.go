package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// CloudinaryBlobStore stores chat attachments in Cloudinary.
type CloudinaryBlobStore struct {
	cld *cloudinary.Cloudinary
}

func NewCloudinaryBlobStore(cloudName, apiKey, apiSecret string) (*CloudinaryBlobStore, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudinary: %w", err)
	}
	return &CloudinaryBlobStore{cld: cld}, nil
}

// Upload stores body under destPath. The directory part becomes the Cloudinary
// folder and the last segment the public id.
func (s *CloudinaryBlobStore) Upload(ctx context.Context, body io.Reader, destPath string) (string, error) {
	res, err := s.cld.Upload.Upload(ctx, body, uploader.UploadParams{
		Folder:       path.Dir(destPath),
		PublicID:     path.Base(destPath),
		ResourceType: "auto",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to Cloudinary: %w", err)
	}
	if res.SecureURL == "" {
		return "", errors.New("cloudinary returned no URL")
	}
	return res.SecureURL, nil
}

// UnconfiguredBlobStore refuses every upload. It stands in when no Cloudinary
// credentials are configured so text chat keeps working.
type UnconfiguredBlobStore struct{}

var ErrBlobStoreUnconfigured = errors.New("attachment storage is not configured")

func (UnconfiguredBlobStore) Upload(context.Context, io.Reader, string) (string, error) {
	return "", ErrBlobStoreUnconfigured
}

package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onera/studio/internal/client"
	"github.com/onera/studio/internal/model"
)

// UploadURLExpiry bounds how long a signed upload URL stays valid
const UploadURLExpiry = 15 * time.Minute

var ErrStorageNotConfigured = errors.New("object storage not configured")

// AssetSigner defines the interface for upload handoff operations
type AssetSigner interface {
	Sign(ctx context.Context, req *model.AssetSignRequest) (*model.AssetSignResponse, error)
}

// AssetService hands out time-limited upload URLs for timeline media
type AssetService struct {
	r2Client client.StorageClient
	now      func() time.Time
}

// NewAssetService creates a new asset service. A nil storage client makes every
// signing request fail with ErrStorageNotConfigured.
func NewAssetService(r2Client client.StorageClient) *AssetService {
	return &AssetService{
		r2Client: r2Client,
		now:      time.Now,
	}
}

// Sign returns a presigned PUT URL and the public URL the object will be served from
func (s *AssetService) Sign(ctx context.Context, req *model.AssetSignRequest) (*model.AssetSignResponse, error) {
	if s.r2Client == nil {
		return nil, ErrStorageNotConfigured
	}

	key := AssetKey(uuid.New().String(), req.Filename)
	uploadURL, err := s.r2Client.PresignPut(ctx, key, req.ContentType, UploadURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign upload: %w", err)
	}

	return &model.AssetSignResponse{
		UploadURL: uploadURL,
		PublicURL: s.r2Client.GetPublicURL(key),
		ExpiresAt: s.now().Add(UploadURLExpiry).UTC(),
	}, nil
}

// AssetKey builds the storage key of an upload. Directory parts of the client
// supplied name are dropped and unsafe characters replaced.
func AssetKey(id, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == "." || name == ".." || name == "/" || strings.Trim(name, "_.") == "" {
		name = "upload"
	}
	return fmt.Sprintf("assets/%s/%s", id, name)
}

package gcs

import (
	"context"
)

// StorageService provides the cloud storage operations used by the
// classifier: catalog downloads and export archiving.
type StorageService interface {
	// FetchFromGCS downloads object bytes from a gs:// URI.
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)

	// UploadBytes writes data to bucket/objectName and returns its gs:// URI.
	UploadBytes(ctx context.Context, bucketName, objectName, contentType string, data []byte) (string, error)
}

// Package storage provides S3-compatible object storage backed by MinIO.
// The funnel uses it to publish generated reports behind presigned links.
package storage

import (
	"time"

	"funnel_backend/internal/funnel/ports"
)

// PresignedURLTTL is how long download links stay valid.
const PresignedURLTTL = 15 * time.Minute

// Config defines the configuration interface for storage.
type Config interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	IsMinIOEnabled() bool
}

var _ ports.ObjectStore = (*MinIOService)(nil)

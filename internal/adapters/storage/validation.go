package storage

import (
	"fmt"
	"mime"
	"strings"
)

// AllowedContentTypes are the report formats the service writes.
var AllowedContentTypes = map[string]bool{
	"text/csv":                                                          true,
	"application/json":                                                  true,
	"application/pdf":                                                   true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

// ValidateContentType checks if the content type is allowed. Parameters such
// as charset are ignored.
func ValidateContentType(contentType string) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("invalid content type %q: %w", contentType, err)
	}
	if !AllowedContentTypes[strings.ToLower(mediaType)] {
		return fmt.Errorf("content type %s is not allowed", mediaType)
	}
	return nil
}

// ValidateFileSize checks if the file size is within limits.
func (s *MinIOService) ValidateFileSize(sizeBytes int64) error {
	if sizeBytes <= 0 {
		return fmt.Errorf("file size must be positive")
	}
	if s.maxFileSize > 0 && sizeBytes > s.maxFileSize {
		return fmt.Errorf("file size %d bytes exceeds maximum allowed size of %d bytes", sizeBytes, s.maxFileSize)
	}
	return nil
}

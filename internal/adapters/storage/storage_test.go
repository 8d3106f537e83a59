package storage

import (
	"strings"
	"testing"
)

type minioConfig struct {
	endpoint string
}

func (c minioConfig) GetMinIOEndpoint() string   { return c.endpoint }
func (c minioConfig) GetMinIOAccessKey() string  { return "access" }
func (c minioConfig) GetMinIOSecretKey() string  { return "secret" }
func (c minioConfig) GetMinIOUseSSL() bool       { return false }
func (c minioConfig) GetMinIOMaxFileSize() int64 { return 1024 }
func (c minioConfig) IsMinIOEnabled() bool       { return c.endpoint != "" }

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		contentType string
		wantErr     bool
	}{
		{contentType: "text/csv", wantErr: false},
		{contentType: "text/csv; charset=utf-8", wantErr: false},
		{contentType: "TEXT/CSV", wantErr: false},
		{contentType: "image/png", wantErr: true},
		{contentType: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			err := ValidateContentType(tt.contentType)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateContentType(%q) error = %v, wantErr %v", tt.contentType, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFileSize(t *testing.T) {
	svc, err := NewMinIOService(minioConfig{endpoint: "localhost:9000"})
	if err != nil {
		t.Fatalf("NewMinIOService returned error: %v", err)
	}

	if err := svc.ValidateFileSize(512); err != nil {
		t.Fatalf("expected 512 bytes to be accepted, got %v", err)
	}
	if err := svc.ValidateFileSize(2048); err == nil {
		t.Fatal("expected size above the limit to be rejected")
	}
	if err := svc.ValidateFileSize(0); err == nil {
		t.Fatal("expected empty file to be rejected")
	}
}

func TestNewMinIOServiceRequiresEndpoint(t *testing.T) {
	if _, err := NewMinIOService(minioConfig{}); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func TestObjectKeyIsUniqueWithinFolder(t *testing.T) {
	first := ObjectKey("/conversion-funnel/tenant/", "funnel-20260101-000000.csv")
	second := ObjectKey("conversion-funnel/tenant", "funnel-20260101-000000.csv")

	if first == second {
		t.Fatalf("expected unique keys, got %s twice", first)
	}
	if !strings.HasPrefix(first, "conversion-funnel/tenant/funnel-20260101-000000_") || !strings.HasSuffix(first, ".csv") {
		t.Fatalf("unexpected key %s", first)
	}
}

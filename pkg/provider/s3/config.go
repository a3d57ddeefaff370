// Package s3 lists object versions from AWS S3 and S3-compatible stores.
//
// Listing requests are built, signed and decoded by this package directly so
// every page is signed afresh by pkg/sigv4 and decoded in server order by
// pkg/s3xml. The aws-sdk-go-v2 client is used only for shared-config
// credential resolution and the bucket versioning preflight.
package s3

import (
	"net/url"
	"strings"
)

// Config configures a Client.
//
// Credential resolution:
//  1. Explicit AccessKeyID/SecretAccessKey (and optional SessionToken)
//  2. Profile from the shared config files, resolved through aws-sdk-go-v2
//  3. The SDK default chain (environment, shared files)
//
// Region handling:
//   - For AWS S3: defaults to us-east-1 when not set via config or environment.
//   - For S3-compatible stores the region is still part of the signing scope.
//     Most stores accept us-east-1; some (e.g., Wasabi) require their own.
type Config struct {
	// Bucket is the bucket name (required).
	Bucket string

	// Region is the signing region.
	Region string

	// Endpoint is the base URL of an S3-compatible store.
	// Leave empty for AWS S3.
	// Examples:
	//   - MinIO: http://localhost:9000
	//   - DigitalOcean: https://nyc3.digitaloceanspaces.com
	Endpoint string

	// Profile is the shared config profile used when no explicit keys are set.
	Profile string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey must also be set.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key. Required if AccessKeyID is set.
	SecretAccessKey string

	// SessionToken is an optional temporary session token.
	SessionToken string

	// ForcePathStyle puts the bucket in the path instead of the host name.
	// Required for most S3-compatible stores.
	ForcePathStyle bool

	// MaxKeys is the default page size.
	// Zero uses DefaultMaxKeys. Values over 1000 are clamped.
	MaxKeys int
}

// DefaultMaxKeys is the default page size for listing operations.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the maximum page size allowed by S3.
const MaxAllowedKeys = 1000

// DefaultAWSRegion is the fallback region when none is configured.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}

	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}

	if c.SessionToken != "" && c.AccessKeyID == "" {
		return &ConfigError{Field: "SessionToken", Message: "session token requires an explicit access key"}
	}

	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil {
			return &ConfigError{Field: "Endpoint", Message: err.Error()}
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return &ConfigError{Field: "Endpoint", Message: "scheme must be http or https"}
		}
		if u.Host == "" {
			return &ConfigError{Field: "Endpoint", Message: "host is required"}
		}
	}

	if c.MaxKeys < 0 {
		return &ConfigError{Field: "MaxKeys", Message: "must not be negative"}
	}

	return nil
}

// hasStaticCredentials reports whether explicit keys were configured.
func (c *Config) hasStaticCredentials() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}

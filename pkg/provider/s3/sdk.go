package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/verscan/pkg/provider"
	"github.com/3leaps/verscan/pkg/sigv4"
)

// ResolveCredentials resolves signing credentials through the aws-sdk-go-v2
// shared config chain. Explicit keys in cfg short-circuit the chain.
func ResolveCredentials(ctx context.Context, cfg Config) (sigv4.Credentials, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return sigv4.Credentials{}, err
	}
	if awsCfg.Credentials == nil {
		return sigv4.Credentials{}, fmt.Errorf("%w: no credential source configured", provider.ErrInvalidCredentials)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return sigv4.Credentials{}, fmt.Errorf("%w: %w", provider.ErrInvalidCredentials, err)
	}
	return sigv4.Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
	}, nil
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Only apply explicit region if set; let the SDK resolve env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	if cfg.hasStaticCredentials() {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	awsCfg.Region = resolveRegion(cfg.Region, awsCfg.Region)

	return awsCfg, nil
}

// resolveRegion determines the final region after SDK config loading.
//
// sdkRegion already incorporates an explicit cfgRegion or env/profile
// resolution. The SDK client needs a signing region even for S3-compatible
// stores, so an unresolved region falls back to DefaultAWSRegion.
func resolveRegion(cfgRegion, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if cfgRegion != "" {
		return cfgRegion
	}
	return DefaultAWSRegion
}

// newSDKClient builds an aws-sdk-go-v2 S3 client for cfg.
func newSDKClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.ForcePathStyle
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// SDKVersioning reads the bucket versioning status through the aws-sdk-go-v2
// client. It is an independent cross-check of Client.Versioning that does not
// depend on this module's signer.
func SDKVersioning(ctx context.Context, cfg Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	client, err := newSDKClient(ctx, cfg)
	if err != nil {
		return "", &provider.ProviderError{Op: "GetBucketVersioning", Provider: provider.ProviderS3, Bucket: cfg.Bucket, Err: err}
	}

	out, err := client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return "", wrapSDKError("GetBucketVersioning", cfg.Bucket, err)
	}
	return string(out.Status), nil
}

// wrapSDKError converts SDK errors to provider errors with sentinel errors.
func wrapSDKError(op, bucket string, err error) error {
	wrapped := &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderS3,
		Bucket:   bucket,
		Err:      err,
	}

	if errors.Is(err, context.Canceled) {
		wrapped.Err = fmt.Errorf("%w: %w", provider.ErrCancelled, err)
		return wrapped
	}

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		wrapped.Err = fmt.Errorf("%w: %w", provider.ErrBucketNotFound, err)
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		var sentinel error
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			sentinel = provider.ErrNotFound
		case "NoSuchBucket":
			sentinel = provider.ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			sentinel = provider.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "RequestTimeTooSkewed":
			sentinel = provider.ErrInvalidCredentials
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequests":
			sentinel = provider.ErrThrottled
		case "ServiceUnavailable", "InternalError":
			sentinel = provider.ErrProviderUnavailable
		}
		if sentinel != nil {
			wrapped.Err = fmt.Errorf("%w: %w", sentinel, err)
		}
		return wrapped
	}

	// Fallback for errors that lost their API shape (e.g., wrapped by middleware).
	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "NoSuchBucket"):
		wrapped.Err = fmt.Errorf("%w: %w", provider.ErrBucketNotFound, err)
	case strings.Contains(errMsg, "AccessDenied") || strings.Contains(errMsg, "StatusCode: 403"):
		wrapped.Err = fmt.Errorf("%w: %w", provider.ErrAccessDenied, err)
	}
	return wrapped
}

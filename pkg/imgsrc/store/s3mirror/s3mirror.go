// Package s3mirror replicates finalized objects to an S3-compatible bucket.
// The local filesystem stays the source of truth; the mirror is best effort.
package s3mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// defaultKeyRoot is the key segment used for objects in the default directory.
const defaultKeyRoot = "default"

// Config options for the S3 mirror
type Config struct {
	Region          string `env:"S3_MIRROR_REGION" env-default:"us-east-1"`
	Bucket          string `env:"S3_MIRROR_BUCKET"`
	AccessKeyID     string `env:"S3_MIRROR_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"S3_MIRROR_SECRET_ACCESS_KEY"`
	Endpoint        string `env:"S3_MIRROR_ENDPOINT"` // Optional endpoint for S3-compatible services
	UsePathStyle    bool   `env:"S3_MIRROR_USE_PATH_STYLE" env-default:"false"`
	Prefix          string `env:"S3_MIRROR_PREFIX"`

	// Server-side encryption
	SSEAlgorithm string `env:"S3_MIRROR_SSE_ALGORITHM"` // AES256 or aws:kms, empty disables
	SSEKMSKeyID  string `env:"S3_MIRROR_SSE_KMS_KEY_ID"`
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// API is the subset of the S3 client the mirror needs.
type API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Option configures a Mirror
type Option func(*Mirror)

// WithLogger sets the mirror logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mirror) {
		if l != nil {
			m.logger = l
		}
	}
}

// Mirror uploads stored objects to a bucket under <prefix>/<index>/<name>.
type Mirror struct {
	client   API
	uploader *manager.Uploader
	config   Config
	logger   *slog.Logger
}

// New loads AWS configuration and builds a mirror for config.Bucket. Static
// credentials are used when both keys are set; otherwise the default
// credential chain applies.
func New(ctx context.Context, config Config, opts ...Option) (*Mirror, error) {
	if err := validate(&config); err != nil {
		return nil, err
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	return NewWithClient(s3.NewFromConfig(awsCfg, s3Options...), config, opts...)
}

// NewWithClient builds a mirror around an existing client.
func NewWithClient(client API, config Config, opts ...Option) (*Mirror, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if err := validate(&config); err != nil {
		return nil, err
	}

	m := &Mirror{
		client:   client,
		uploader: manager.NewUploader(client),
		config:   config,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func validate(config *Config) error {
	if config.Bucket == "" {
		return errors.New("bucket name is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}
	switch config.SSEAlgorithm {
	case "", string(types.ServerSideEncryptionAes256), string(types.ServerSideEncryptionAwsKms):
	default:
		return fmt.Errorf("unsupported SSE algorithm: %s", config.SSEAlgorithm)
	}
	return nil
}

// Bucket returns the destination bucket.
func (m *Mirror) Bucket() string {
	return m.config.Bucket
}

// Key maps a directory index and object name to a bucket key.
func (m *Mirror) Key(index, name string) string {
	if index == "" {
		index = defaultKeyRoot
	}
	return path.Join(m.config.Prefix, index, name)
}

// Exists reports whether key is already present in the bucket.
func (m *Mirror) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.config.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to head object: %w", err)
}

// Put uploads the file at localPath unless the key already exists. Object
// names are content digests, so an existing key holds the same bytes.
func (m *Mirror) Put(ctx context.Context, index, name, localPath, contentType string) (string, error) {
	key := m.Key(index, name)

	exists, err := m.Exists(ctx, key)
	if err != nil {
		return key, err
	}
	if exists {
		m.logger.Debug("Object already mirrored", "bucket", m.config.Bucket, "key", key)
		return key, nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return key, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(m.config.Bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	switch m.config.SSEAlgorithm {
	case string(types.ServerSideEncryptionAes256):
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	case string(types.ServerSideEncryptionAwsKms):
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if m.config.SSEKMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(m.config.SSEKMSKeyID)
		}
	}

	if _, err := m.uploader.Upload(ctx, input); err != nil {
		return key, fmt.Errorf("failed to upload object: %w", err)
	}

	m.logger.Info("Object mirrored", "bucket", m.config.Bucket, "key", key)
	return key, nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

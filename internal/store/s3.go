package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	cerrors "github.com/tommygoverstreet/smart-spreadsheet2025/pkg/errors"
	"github.com/tommygoverstreet/smart-spreadsheet2025/pkg/utils"
)

// maximum keys accepted by a single DeleteObjects call
const s3DeleteBatch = 1000

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	MaxRetries      int    `yaml:"max_retries"`

	// Records at least this large go through the cargoship transporter.
	EnableCargoShip      bool  `yaml:"enable_cargoship"`
	LargeObjectThreshold int64 `yaml:"large_object_threshold"`
	Concurrency          int   `yaml:"concurrency"`
}

// s3API is the subset of the S3 client used by the store.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store keeps one object per record under <prefix>/<collection>/<base64url(key)>.
// Object LastModified doubles as both secondary indexes, so Touch is a no-op.
type S3Store struct {
	client      s3API
	transporter *cargoships3.Transporter
	config      S3Config
	logger      *utils.StructuredLogger
}

// NewS3Store loads AWS configuration and builds the client.
func NewS3Store(ctx context.Context, cfg *S3Config, logger *utils.StructuredLogger) (*S3Store, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, cerrors.NewError(cerrors.ErrCodeInvalidConfig, "s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.MaxRetries > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.MaxRetries))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	var transporter *cargoships3.Transporter
	if cfg.EnableCargoShip {
		concurrency := cfg.Concurrency
		if concurrency <= 0 {
			concurrency = 4
		}
		transporter = cargoships3.NewTransporter(client, awsconfig.S3Config{
			Bucket:             cfg.Bucket,
			StorageClass:       awsconfig.StorageClassStandard,
			MultipartThreshold: 32 * 1024 * 1024,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        concurrency,
		})
	}

	return newS3Store(client, transporter, *cfg, logger), nil
}

func newS3Store(client s3API, transporter *cargoships3.Transporter, cfg S3Config, logger *utils.StructuredLogger) *S3Store {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if cfg.LargeObjectThreshold <= 0 {
		cfg.LargeObjectThreshold = 8 * 1024 * 1024
	}
	return &S3Store{
		client:      client,
		transporter: transporter,
		config:      cfg,
		logger:      logger.WithComponent("store.s3").WithField("bucket", cfg.Bucket),
	}
}

// Put uploads the record as a JSON object.
func (s *S3Store) Put(ctx context.Context, collection string, rec *Record) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if rec == nil {
		return cerrors.NewError(cerrors.ErrCodeValidationFailed, "nil record")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return s.wrap(err, cerrors.ErrCodeStoreWrite, "put", rec.Key)
	}
	key := s.objectKey(collection, rec.Key)
	metadata := map[string]string{
		"cache-type":      rec.Type,
		"cache-timestamp": strconv.FormatInt(rec.Timestamp.UnixMilli(), 10),
		"cache-priority":  strconv.Itoa(rec.Priority),
	}

	if s.transporter != nil && int64(len(data)) >= s.config.LargeObjectThreshold {
		result, uploadErr := s.transporter.Upload(ctx, cargoships3.Archive{
			Key:          key,
			Reader:       bytes.NewReader(data),
			Size:         int64(len(data)),
			StorageClass: awsconfig.StorageClassStandard,
			Metadata:     metadata,
		})
		if uploadErr == nil {
			s.logger.Debug("cargoship upload completed", map[string]interface{}{
				"key":        rec.Key,
				"size":       len(data),
				"throughput": result.Throughput,
				"duration":   result.Duration,
			})
			return nil
		}
		s.logger.Warn("cargoship upload failed, falling back to PutObject", map[string]interface{}{
			"key":   rec.Key,
			"error": uploadErr,
		})
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
		Metadata:      metadata,
	})
	if err != nil {
		return s.wrap(err, cerrors.ErrCodeStoreWrite, "put", rec.Key)
	}
	return nil
}

// Get downloads and decodes a record; NoSuchKey yields (nil, nil).
func (s *S3Store) Get(ctx context.Context, collection, key string) (*Record, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.objectKey(collection, key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, s.wrap(err, cerrors.ErrCodeStoreRead, "get", key)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, s.wrap(err, cerrors.ErrCodeStoreRead, "get", key)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, s.wrap(err, cerrors.ErrCodeStoreCorrupt, "get", key)
	}
	return &rec, nil
}

// Delete removes the object; S3 treats absent keys as success.
func (s *S3Store) Delete(ctx context.Context, collection, key string) error {
	if err := validateCollection(collection); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.objectKey(collection, key)),
	})
	if err != nil {
		return s.wrap(err, cerrors.ErrCodeStoreDelete, "delete", key)
	}
	return nil
}

// Clear deletes every object under the collection prefix.
func (s *S3Store) Clear(ctx context.Context, collection string) error {
	objects, err := s.list(ctx, collection)
	if err != nil {
		return err
	}

	for start := 0; start < len(objects); start += s3DeleteBatch {
		end := start + s3DeleteBatch
		if end > len(objects) {
			end = len(objects)
		}
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, obj := range objects[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.config.Bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return s.wrap(err, cerrors.ErrCodeStoreDelete, "clear", collection)
		}
	}
	return nil
}

// Touch is a no-op: S3 objects carry no separate access time.
func (s *S3Store) Touch(ctx context.Context, collection, key string, at time.Time) error {
	return validateCollection(collection)
}

// Keys lists record keys ordered by LastModified for either index.
func (s *S3Store) Keys(ctx context.Context, collection string, q Query) ([]string, error) {
	objects, err := s.list(ctx, collection)
	if err != nil {
		return nil, err
	}

	type keyed struct {
		key string
		at  time.Time
	}
	prefix := s.collectionPrefix(collection)
	items := make([]keyed, 0, len(objects))
	for _, obj := range objects {
		at := aws.ToTime(obj.LastModified)
		if !q.Before.IsZero() && !at.Before(q.Before) {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		if err != nil {
			s.logger.Warn("skipping foreign object under collection prefix", map[string]interface{}{
				"object": aws.ToString(obj.Key),
			})
			continue
		}
		items = append(items, keyed{key: string(raw), at: at})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].at.Before(items[j].at) })
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.key
	}
	return keys, nil
}

// Ping checks that the bucket is reachable.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.config.Bucket)})
	if err != nil {
		return s.wrap(err, cerrors.ErrCodeStoreUnavailable, "ping", "")
	}
	return nil
}

// Close releases nothing; the SDK client holds no persistent resources.
func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) list(ctx context.Context, collection string) ([]types.Object, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}

	var objects []types.Object
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(s.collectionPrefix(collection)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.wrap(err, cerrors.ErrCodeStoreRead, "list", collection)
		}
		objects = append(objects, page.Contents...)
	}
	return objects, nil
}

func (s *S3Store) collectionPrefix(collection string) string {
	return path.Join(s.config.Prefix, collection) + "/"
}

func (s *S3Store) objectKey(collection, key string) string {
	return s.collectionPrefix(collection) + base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (s *S3Store) wrap(err error, code cerrors.ErrorCode, op, key string) error {
	e := cerrors.Wrap(err, code, "s3 "+op+" failed").
		WithComponent("store.s3").
		WithOperation(op)
	if key != "" {
		e = e.WithContext("key", key)
	}
	return e
}

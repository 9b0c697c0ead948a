package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hitoshi/filekeep/internal/model"
)

// S3API はS3Storeが使用するS3クライアントのメソッド。*s3.Clientが満たす。
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config はS3クライアント生成用の設定。
type S3Config struct {
	Region    string
	Endpoint  string // MinIO等のS3互換ストレージを使う場合に指定する
	AccessKey string
	SecretKey string
}

// NewS3Client はS3クライアントを生成する。
// AccessKeyが空の場合はデフォルトの認証情報チェーン（環境変数、IAMロール等）を使用する。
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Store はS3バケットにblobを保存するStore実装。
type S3Store struct {
	client    S3API
	bucket    string
	keyPrefix string
}

// NewS3Store はS3Storeを生成する。バケットは事前に存在している必要がある。
func NewS3Store(ctx context.Context, client S3API, bucket, keyPrefix string) (*S3Store, error) {
	if client == nil {
		return nil, errors.New("S3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", bucket, err)
	}

	return &S3Store{client: client, bucket: bucket, keyPrefix: keyPrefix}, nil
}

// Save はdataを新しいUUID名でアップロードする。
func (s *S3Store) Save(ctx context.Context, data []byte) (model.ContentRef, error) {
	ref := newContentRef()
	if err := s.put(ctx, string(ref), data); err != nil {
		return "", err
	}
	return ref, nil
}

// SaveDerivative はサムネイルをアップロードする。
func (s *S3Store) SaveDerivative(ctx context.Context, ref model.ContentRef, width int, data []byte) error {
	return s.put(ctx, ref.DerivativeName(width), data)
}

// Read はオブジェクトをダウンロードする。NoSuchKeyはErrNotFoundに変換する。
func (s *S3Store) Read(ctx context.Context, ref model.ContentRef, width int) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(objectName(ref, width))),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

func (s *S3Store) put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to put object to S3: %w", err)
	}
	return nil
}

func (s *S3Store) key(name string) string {
	return s.keyPrefix + name
}

// compile-time interface check
var (
	_ Store = (*S3Store)(nil)
	_ S3API = (*s3.Client)(nil)
)

package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/chtzvt/csvjob/internal/secrets"
)

// S3API abstracts the S3 methods the store uses (for testing).
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type S3Store struct {
	bucket           string
	region           string
	endpoint         string
	usePathStyle     bool
	disableChecksums bool
	bufferType       string
	accessKeyName    string
	secretKeyName    string
	secrets          *secrets.Store

	Client S3API // test only; nil in prod, set by test

	once    sync.Once
	initErr error
}

// NewS3Store builds a store for the bucket named by an s3://bucket/prefix URI.
//
// Options: region, endpoint (or base_endpoint), use_path_style,
// disable_checksums, buffer_type ("memory" or "disk"), and the names of the
// secrets holding static credentials (access_key_id_secret,
// access_key_secret). Without credential secrets the default AWS chain is used.
func NewS3Store(location *url.URL, opts map[string]interface{}, secrets *secrets.Store) (Store, error) {
	bucket := location.Host
	if bucket == "" {
		bucket = optString(opts, "bucket")
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3 store requires a bucket")
	}
	s := &S3Store{
		bucket:           bucket,
		region:           optString(opts, "region"),
		endpoint:         chooseEndpoint(optString(opts, "endpoint"), optString(opts, "base_endpoint")),
		usePathStyle:     toBool(opts["use_path_style"]),
		disableChecksums: toBool(opts["disable_checksums"]),
		bufferType:       optString(opts, "buffer_type"),
		accessKeyName:    optString(opts, "access_key_id_secret"),
		secretKeyName:    optString(opts, "access_key_secret"),
		secrets:          secrets,
	}
	switch s.bufferType {
	case "":
		s.bufferType = "memory"
	case "memory", "disk":
	default:
		return nil, fmt.Errorf("s3 store: unknown buffer_type %q", s.bufferType)
	}
	if (s.accessKeyName != "" || s.secretKeyName != "") && secrets == nil {
		return nil, fmt.Errorf("s3 store: credential secrets configured but no secrets store available")
	}
	return s, nil
}

func (s *S3Store) client(ctx context.Context) (S3API, error) {
	s.once.Do(func() {
		if s.Client != nil {
			return
		}
		s.Client, s.initErr = s.newClient(ctx)
	})
	return s.Client, s.initErr
}

func (s *S3Store) newClient(ctx context.Context) (S3API, error) {
	var awsCfgOpts []func(*config.LoadOptions) error
	if s.region != "" {
		awsCfgOpts = append(awsCfgOpts, config.WithRegion(s.region))
	}
	if s.accessKeyName != "" || s.secretKeyName != "" {
		accessKey, err := s.secrets.Get(ctx, s.accessKeyName)
		if err != nil {
			return nil, fmt.Errorf("missing %s: %w", s.accessKeyName, err)
		}
		secretKey, err := s.secrets.Get(ctx, s.secretKeyName)
		if err != nil {
			return nil, fmt.Errorf("missing %s: %w", s.secretKeyName, err)
		}
		awsCfgOpts = append(awsCfgOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(string(accessKey), string(secretKey), ""),
		))
	}
	if s.disableChecksums {
		awsCfgOpts = append(awsCfgOpts,
			config.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
			config.WithResponseChecksumValidation(aws.ResponseChecksumValidationWhenRequired),
		)
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, awsCfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("aws config load error: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s.endpoint != "" {
			o.BaseEndpoint = aws.String(s.endpoint)
		}
		o.UsePathStyle = s.usePathStyle
	}), nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]Object, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	var out []Object
	p := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, Object{Name: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)})
		}
	}
	return out, nil
}

func (s *S3Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.bucket, name)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, name, err)
	}
	return out.Body, nil
}

// Create buffers the object in memory or in a temporary file, according to
// buffer_type, and uploads it with a single PutObject on Close.
func (s *S3Store) Create(ctx context.Context, name string) (Writer, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	w := &s3Writer{ctx: ctx, store: s, client: client, key: name}
	if s.bufferType == "disk" {
		f, err := os.CreateTemp("", "csvjob-s3-*")
		if err != nil {
			return nil, err
		}
		w.file = f
	}
	return w, nil
}

func (s *S3Store) Delete(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	client, err := s.client(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(names); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(names))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, n := range names[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(n)})
		}
		out, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete from s3://%s: %w", s.bucket, err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("delete s3://%s/%s: %s: %s (%d failed)",
				s.bucket, aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message), len(out.Errors))
		}
	}
	return nil
}

type s3Writer struct {
	ctx    context.Context
	store  *S3Store
	client S3API
	key    string
	buf    bytes.Buffer
	file   *os.File
	done   bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.file != nil {
		return w.file.Write(p)
	}
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	var (
		body io.ReadSeeker
		size int64
	)
	if w.file != nil {
		defer w.cleanupFile()
		off, err := w.file.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		if _, err := w.file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		body, size = w.file, off
	} else {
		body, size = bytes.NewReader(w.buf.Bytes()), int64(w.buf.Len())
	}
	_, err := w.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.store.bucket),
		Key:           aws.String(w.key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType(w.key)),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", w.store.bucket, w.key, err)
	}
	return nil
}

func (w *s3Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	if w.file != nil {
		w.cleanupFile()
	}
	w.buf.Reset()
	return nil
}

func (w *s3Writer) cleanupFile() {
	w.file.Close()
	os.Remove(w.file.Name())
}

func init() {
	Register("s3", NewS3Store)
}

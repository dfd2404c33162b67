package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds configuration for the S3 sink.
type S3Config struct {
	Bucket   string `yaml:"bucket" json:"bucket"`
	Region   string `yaml:"region" json:"region"`
	Endpoint string `yaml:"endpoint" json:"endpoint"` // Optional custom endpoint (for MinIO, LocalStack, etc.)
	Prefix   string `yaml:"prefix" json:"prefix"`     // Optional key prefix
}

// s3API is the subset of *s3.Client the sink uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 stores each record as its own object, named by zero-padded sequence.
// Objects are written with If-None-Match so an entry is never overwritten.
type S3 struct {
	client s3API
	bucket string
	prefix string

	mu  sync.Mutex
	seq uint64
}

// NewS3 loads the default AWS config and recovers the sequence from the bucket.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	})
	return NewS3WithClient(ctx, client, cfg.Bucket, cfg.Prefix)
}

// NewS3WithClient uses an existing client.
func NewS3WithClient(ctx context.Context, client s3API, bucket, prefix string) (*S3, error) {
	s := &S3{client: client, bucket: bucket, prefix: prefix}
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	if n := len(keys); n > 0 {
		s.seq = keys[n-1].seq
	}
	return s, nil
}

type s3Key struct {
	key string
	seq uint64
}

func (s *S3) keys(ctx context.Context) ([]s3Key, error) {
	var out []s3Key
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list failed: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			seq, ok := parseEntryName(s.prefix, key)
			if !ok {
				continue
			}
			out = append(out, s3Key{key: key, seq: seq})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out, nil
}

func parseEntryName(prefix, key string) (uint64, bool) {
	name := strings.TrimPrefix(key, prefix)
	if name == key && prefix != "" {
		return 0, false
	}
	name = strings.TrimSuffix(name, ".json")
	if strings.Contains(name, "/") {
		return 0, false
	}
	seq, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

func (s *S3) Write(ctx context.Context, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.seq + 1
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(entryName(s.prefix, next)),
		Body:        bytes.NewReader(record),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		return fmt.Errorf("s3 put failed: %w", err)
	}
	s.seq = next
	return nil
}

func (s *S3) get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get failed for %s: %w", key, err)
	}
	defer func() { _ = result.Body.Close() }()
	return io.ReadAll(result.Body)
}

func (s *S3) Last(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	seq := s.seq
	s.mu.Unlock()
	if seq == 0 {
		return nil, nil
	}
	return s.get(ctx, entryName(s.prefix, seq))
}

func (s *S3) ReadAll(ctx context.Context) ([][]byte, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		data, err := s.get(ctx, k.key)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

func (s *S3) Close() error { return nil }

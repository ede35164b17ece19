package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	puts    map[string][]byte
	types   map[string]string
	deletes []string
	pages   []*s3.ListObjectsV2Output
	calls   int
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.puts[aws.ToString(in.Key)] = body
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deletes = append(f.deletes, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, f.err
}

func (f *fakeS3) ListObjectsV2(_ context.Context, _ *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.err != nil {
		return nil, f.err
	}
	page := f.pages[f.calls]
	f.calls++
	return page, nil
}

func TestS3Store_PutDeleteURL(t *testing.T) {
	t.Parallel()
	f := &fakeS3{puts: map[string][]byte{}, types: map[string]string{}}
	s := newS3Store(f, S3Options{Bucket: "avatars", Prefix: "profile_pics", PublicURL: "https://cdn.example.com/"})
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a.png", pngBytes, "image/png"))
	assert.Equal(t, pngBytes, f.puts["profile_pics/a.png"])
	assert.Equal(t, "image/png", f.types["profile_pics/a.png"])

	require.NoError(t, s.Delete(ctx, "a.png"))
	assert.Equal(t, []string{"profile_pics/a.png"}, f.deletes)

	assert.Equal(t, "https://cdn.example.com/profile_pics/a.png", s.URL("a.png"))
	assert.ErrorIs(t, s.Put(ctx, "../a.png", pngBytes, "image/png"), ErrInvalidName)
}

func TestS3Store_ListPages(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &fakeS3{pages: []*s3.ListObjectsV2Output{
		{
			Contents: []types.Object{
				{Key: aws.String("profile_pics/a.png"), LastModified: aws.Time(ts)},
				{Key: aws.String("profile_pics/nested/b.png"), LastModified: aws.Time(ts)},
			},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("next"),
		},
		{
			Contents: []types.Object{{Key: aws.String("profile_pics/c.jpg"), LastModified: aws.Time(ts)}},
		},
	}}
	s := newS3Store(f, S3Options{Bucket: "avatars", Prefix: "profile_pics/"})

	objs, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "a.png", objs[0].Name)
	assert.Equal(t, "c.jpg", objs[1].Name)
	assert.Equal(t, ts, objs[0].ModTime)
}

func TestS3Store_Errors(t *testing.T) {
	t.Parallel()
	f := &fakeS3{puts: map[string][]byte{}, types: map[string]string{}, err: errors.New("denied")}
	s := newS3Store(f, S3Options{Bucket: "avatars"})

	assert.Error(t, s.Put(context.Background(), "a.png", pngBytes, "image/png"))
	assert.Error(t, s.Delete(context.Background(), "a.png"))
	_, err := s.List(context.Background())
	assert.Error(t, err)
}

func TestNewS3Store_ConfigError(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	loadDefaultAWSConfig = func(context.Context, ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}
	_, err := NewS3Store(context.Background(), S3Options{Bucket: "b"})
	assert.Error(t, err)

	loadDefaultAWSConfig = func(_ context.Context, opts ...func(*config.LoadOptions) error) (aws.Config, error) {
		var lo config.LoadOptions
		for _, o := range opts {
			require.NoError(t, o(&lo))
		}
		assert.Equal(t, "eu-west-1", lo.Region)
		assert.NotNil(t, lo.Credentials)
		return aws.Config{Region: lo.Region}, nil
	}
	s, err := NewS3Store(context.Background(), S3Options{
		Bucket: "b", Region: "eu-west-1", Endpoint: "http://127.0.0.1:9000", AccessKey: "admin", SecretKey: "secret",
	})
	require.NoError(t, err)
	assert.NotNil(t, s.client)
}

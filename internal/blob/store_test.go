package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	url, err := s.Put(ctx, "abc123/resume.pdf", []byte("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"))
	assert.True(t, strings.HasSuffix(url, "abc123/resume.pdf"))

	got, err := s.Get(ctx, "abc123/resume.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), got)

	require.NoError(t, s.Delete(ctx, "abc123/resume.pdf"))
	_, err = s.Get(ctx, "abc123/resume.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting twice is not an error.
	assert.NoError(t, s.Delete(ctx, "abc123/resume.pdf"))
}

func TestValidKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"ns/cv.pdf", false},
		{"cv.docx", false},
		{"", true},
		{"../etc/passwd", true},
		{"/abs/path", true},
		{`win\path`, true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := validKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type fakeS3 struct {
	objects map[string][]byte
	puts    []*s3.PutObjectInput
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	f.objects[*in.Key] = data
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, errors.New("no such key")
	}
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	s := newS3Store(fake, S3Config{Bucket: "cvs", Prefix: "resumes/"})

	url, err := s.Put(ctx, "ns1/cv.pdf", []byte("pdf"), "")
	require.NoError(t, err)
	assert.Equal(t, "s3://cvs/resumes/ns1/cv.pdf", url)
	require.Len(t, fake.puts, 1)
	assert.Equal(t, "application/octet-stream", *fake.puts[0].ContentType)

	got, err := s.Get(ctx, "ns1/cv.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf"), got)

	_, err = s.Get(ctx, "missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "ns1/cv.pdf"))
	assert.Error(t, s.Delete(ctx, "ns1/cv.pdf"))
}

func TestS3Store_EndpointURL(t *testing.T) {
	s := newS3Store(&fakeS3{objects: map[string][]byte{}}, S3Config{Bucket: "cvs", Endpoint: "http://localhost:9000/"})
	assert.Equal(t, "http://localhost:9000/cvs/a.pdf", s.URL("a.pdf"))
}

package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBucket 记录上传的对象
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]*s3.PutObjectInput
	bodies  map[string]string
	failKey string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{
		objects: make(map[string]*s3.PutObjectInput),
		bodies:  make(map[string]string),
	}
}

func (f *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if key == f.failKey {
		return nil, errors.New("access denied")
	}

	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = in
	f.bodies[key] = string(body)
	return &s3.PutObjectOutput{}, nil
}

func writeDist(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.html":      "<p>x",
		"index.html.br":   "brotli",
		"styles.css":      "a{}",
		"images/logo.svg": "<svg/>",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func TestPublishDir(t *testing.T) {
	dir := writeDist(t)
	bucket := newFakeBucket()

	p := New(bucket, Options{Bucket: "site", Prefix: "/v1/", RPS: 100, Concurrency: 2})
	res, err := p.PublishDir(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Objects)
	assert.Equal(t, int64(len("<p>x")+len("brotli")+len("a{}")+len("<svg/>")), res.Bytes)

	html := bucket.objects["v1/index.html"]
	require.NotNil(t, html)
	assert.Equal(t, "site", aws.ToString(html.Bucket))
	assert.Equal(t, "text/html; charset=utf-8", aws.ToString(html.ContentType))
	assert.Equal(t, "no-cache", aws.ToString(html.CacheControl))
	assert.Nil(t, html.ContentEncoding)

	br := bucket.objects["v1/index.html.br"]
	require.NotNil(t, br)
	assert.Equal(t, "br", aws.ToString(br.ContentEncoding))
	assert.Equal(t, "text/html; charset=utf-8", aws.ToString(br.ContentType))

	svg := bucket.objects["v1/images/logo.svg"]
	require.NotNil(t, svg)
	assert.Equal(t, "image/svg+xml", aws.ToString(svg.ContentType))
	assert.Equal(t, "public, max-age=86400", aws.ToString(svg.CacheControl))
	assert.Equal(t, "<svg/>", bucket.bodies["v1/images/logo.svg"])
}

func TestPublishDir_UploadError(t *testing.T) {
	dir := writeDist(t)
	bucket := newFakeBucket()
	bucket.failKey = "styles.css"

	_, err := New(bucket, Options{Bucket: "site"}).PublishDir(context.Background(), dir)
	require.ErrorIs(t, err, ErrUploadFailed)
	assert.Contains(t, err.Error(), "styles.css")
}

func TestPublishDir_NotConfigured(t *testing.T) {
	_, err := New(newFakeBucket(), Options{}).PublishDir(context.Background(), t.TempDir())
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewR2Client(context.Background(), "", "key", "secret")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "a/b.css", ObjectKey("", "a/b.css"))
	assert.Equal(t, "site/a/b.css", ObjectKey("site/", "a/b.css"))
}

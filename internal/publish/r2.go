/**
 * internal/publish/r2.go
 * 发布构建产物到 Cloudflare R2（S3 兼容）
 *
 * 功能：
 * - 上传输出目录中的所有文件（保持相对路径作为对象 key）
 * - 根据扩展名设置 Content-Type 和 Cache-Control
 * - .br 文件设置 Content-Encoding: br
 * - 令牌桶限制请求速率，errgroup 限制并发
 *
 * 依赖：
 * - github.com/aws/aws-sdk-go-v2 (S3 客户端)
 * - golang.org/x/time/rate (限流)
 * - golang.org/x/sync/errgroup (并发上传)
 */

package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"site-build/internal/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ====================  错误定义 ====================

var (
	// ErrNotConfigured R2 配置不完整
	ErrNotConfigured = errors.New("R2_NOT_CONFIGURED")

	// ErrUploadFailed 上传失败
	ErrUploadFailed = errors.New("UPLOAD_FAILED")
)

// ====================  常量定义 ====================

// contentEncodingBrotli Brotli 编码标识
const contentEncodingBrotli = "br"

// ====================  数据结构 ====================

// ObjectPutter 上传接口（*s3.Client 实现，测试中替换）
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options 发布选项
type Options struct {
	Bucket      string
	Prefix      string // 对象 key 前缀（可为空）
	RPS         int    // 每秒最大请求数，<= 0 表示不限制
	Concurrency int    // 并发上传数
}

// Result 发布统计
type Result struct {
	Objects int
	Bytes   int64
}

// Publisher 目录发布器
type Publisher struct {
	client  ObjectPutter
	opts    Options
	limiter *rate.Limiter
}

// ====================  构造函数 ====================

// NewR2Client 创建 R2 的 S3 客户端
func NewR2Client(ctx context.Context, endpoint, accessKey, secretKey string) (*s3.Client, error) {
	if endpoint == "" || accessKey == "" || secretKey == "" {
		return nil, ErrNotConfigured
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	utils.LogPrintf("[PUBLISH] R2 client initialized: endpoint=%s", endpoint)
	return client, nil
}

// New 创建发布器
func New(client ObjectPutter, opts Options) *Publisher {
	limit := rate.Inf
	burst := 1
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
		burst = opts.RPS
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	return &Publisher{
		client:  client,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// ====================  发布 ====================

// PublishDir 上传目录中的所有文件
// 任意上传失败会取消剩余上传并返回错误
func (p *Publisher) PublishDir(ctx context.Context, dir string) (Result, error) {
	if p.client == nil || p.opts.Bucket == "" {
		return Result{}, ErrNotConfigured
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to walk directory: %w", err)
	}

	utils.LogPrintf("[PUBLISH] Uploading %d files to bucket=%s prefix=%q", len(files), p.opts.Bucket, p.opts.Prefix)

	var (
		result Result
		mu     sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for _, file := range files {
		g.Go(func() error {
			rel, err := filepath.Rel(dir, file)
			if err != nil {
				return err
			}

			size, err := p.upload(gctx, file, filepath.ToSlash(rel))
			if err != nil {
				return err
			}

			mu.Lock()
			result.Objects++
			result.Bytes += size
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	utils.LogPrintf("[PUBLISH] Uploaded %d objects (%s)", result.Objects, utils.FormatBytes(result.Bytes))
	return result, nil
}

// upload 上传单个文件
func (p *Publisher) upload(ctx context.Context, file, rel string) (int64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", rel, err)
	}

	key := ObjectKey(p.opts.Prefix, rel)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(p.opts.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(utils.ContentType(rel)),
		CacheControl:  aws.String(utils.CacheControl(rel)),
	}
	if strings.HasSuffix(rel, ".br") {
		input.ContentEncoding = aws.String(contentEncodingBrotli)
	}

	if _, err := p.client.PutObject(ctx, input); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrUploadFailed, key, err)
	}

	return int64(len(data)), nil
}

// ====================  辅助函数 ====================

// ObjectKey 拼接对象 key
func ObjectKey(prefix, rel string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return rel
	}
	return path.Join(prefix, rel)
}

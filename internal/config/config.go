/**
 * internal/config/config.go
 * 构建配置加载模块
 *
 * 功能：
 * - 从 .env 文件和环境变量加载配置
 * - 支持 YAML 构建文件（site.yaml）覆盖环境变量
 * - 提供默认值和类型转换
 * - 配置验证（必需项检查）
 *
 * 优先级（低 -> 高）：
 *   默认值 -> 环境变量（含 .env） -> 构建文件 -> 命令行参数（由 cmd 层覆盖）
 *
 * 依赖：
 * - github.com/joho/godotenv (.env 文件加载)
 * - gopkg.in/yaml.v3 (构建文件解析)
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"site-build/internal/utils"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ====================  错误定义 ====================

var (
	// ErrMissingRequired 缺少必需的配置项
	ErrMissingRequired = errors.New("MISSING_REQUIRED_CONFIG")

	// ErrInvalidValue 配置值无效
	ErrInvalidValue = errors.New("INVALID_CONFIG_VALUE")

	// ErrBuildFileInvalid 构建文件无法解析
	ErrBuildFileInvalid = errors.New("INVALID_BUILD_FILE")
)

// ====================  常量定义 ====================

const (
	// DefaultBuildFile 默认构建文件名（位于项目根目录）
	DefaultBuildFile = "site.yaml"

	// 默认值
	defaultOutDir             = "dist"
	defaultHTML               = "index.html"
	defaultCSS                = "styles.css"
	defaultJS                 = "script.js"
	defaultPreviewPort        = "3000"
	defaultPublishRPS         = 20
	defaultPublishConcurrency = 4
)

var (
	// defaultStaticDirs 默认静态目录
	defaultStaticDirs = []string{"images", "Projects"}

	// defaultStaticFiles 默认静态文件
	defaultStaticFiles = []string{"robots.txt", "sitemap.xml", "favicon.svg", "favicon.ico"}
)

// ====================  配置结构 ====================

// Config 构建配置
type Config struct {
	// 项目路径
	Root   string // 项目根目录，默认当前目录
	OutDir string // 输出目录（相对 Root），默认 dist

	// 必需资源
	HTMLPath string // HTML 入口，默认 index.html
	CSSPath  string // CSS 入口，默认 styles.css
	JSPath   string // JS 入口，默认 script.js

	// 可选静态资源（按声明顺序处理）
	StaticDirs  []string
	StaticFiles []string

	// 压缩选项
	Dev          bool     // 开发模式（不压缩）
	DropConsole  bool     // 删除 console.* 调用，默认 false
	DropDebugger bool     // 删除 debugger 语句，默认 true
	PureFuncs    []string // 视为无副作用的函数，默认空

	// 构建后处理
	Brotli      bool // 生成 .br 预压缩文件
	Fingerprint bool // 生成 asset-manifest.json
	WebP        bool // 为位图生成 .webp 副本

	// 预览服务器
	PreviewPort string

	// R2 发布配置
	R2Endpoint         string
	R2AccessKey        string
	R2SecretKey        string
	R2Bucket           string
	R2Prefix           string
	PublishRPS         int // 每秒最大上传请求数
	PublishConcurrency int // 并发上传数
}

// buildFile YAML 构建文件结构
// 指针字段用于区分"未设置"和"显式设置为零值"
type buildFile struct {
	Root   string `yaml:"root"`
	OutDir string `yaml:"out"`
	HTML   string `yaml:"html"`
	CSS    string `yaml:"css"`
	JS     string `yaml:"js"`

	Static *struct {
		Dirs  []string `yaml:"dirs"`
		Files []string `yaml:"files"`
	} `yaml:"static"`

	JSOptions *struct {
		DropConsole  *bool    `yaml:"drop_console"`
		DropDebugger *bool    `yaml:"drop_debugger"`
		Pure         []string `yaml:"pure"`
	} `yaml:"js_options"`

	Brotli      *bool `yaml:"brotli"`
	Fingerprint *bool `yaml:"fingerprint"`
	WebP        *bool `yaml:"webp"`

	Publish *struct {
		Bucket      string `yaml:"bucket"`
		Prefix      string `yaml:"prefix"`
		Endpoint    string `yaml:"endpoint"`
		RPS         int    `yaml:"rps"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"publish"`
}

// ====================  配置加载 ====================

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Root:               ".",
		OutDir:             defaultOutDir,
		HTMLPath:           defaultHTML,
		CSSPath:            defaultCSS,
		JSPath:             defaultJS,
		StaticDirs:         append([]string(nil), defaultStaticDirs...),
		StaticFiles:        append([]string(nil), defaultStaticFiles...),
		DropDebugger:       true,
		PreviewPort:        defaultPreviewPort,
		PublishRPS:         defaultPublishRPS,
		PublishConcurrency: defaultPublishConcurrency,
	}
}

// Load 加载配置
// 每次调用都返回新的配置实例（一次构建一个实例）
//
// 参数：
//   - buildFilePath: 构建文件路径，为空时尝试 <root>/site.yaml（不存在不报错）
//
// 返回：
//   - *Config: 配置实例
//   - error: 错误信息
//   - ErrInvalidValue: 环境变量值无效
//   - ErrBuildFileInvalid: 构建文件无法解析
func Load(buildFilePath string) (*Config, error) {
	loadEnvFile()

	cfg := Default()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	explicit := buildFilePath != ""
	if !explicit {
		buildFilePath = filepath.Join(cfg.Root, DefaultBuildFile)
	}

	if err := applyBuildFile(cfg, buildFilePath, explicit); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFile 加载 .env 文件（可选，已存在的环境变量不会被覆盖）
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		utils.LogPrintf("[CONFIG] Loaded .env")
	}
}

// applyEnv 从环境变量覆盖配置
func applyEnv(cfg *Config) error {
	cfg.Root = getEnv("SITE_ROOT", cfg.Root)
	cfg.OutDir = getEnv("SITE_OUT_DIR", cfg.OutDir)
	cfg.HTMLPath = getEnv("SITE_HTML", cfg.HTMLPath)
	cfg.CSSPath = getEnv("SITE_CSS", cfg.CSSPath)
	cfg.JSPath = getEnv("SITE_JS", cfg.JSPath)
	cfg.StaticDirs = getEnvList("SITE_STATIC_DIRS", cfg.StaticDirs)
	cfg.StaticFiles = getEnvList("SITE_STATIC_FILES", cfg.StaticFiles)
	cfg.PureFuncs = getEnvList("SITE_PURE_FUNCS", cfg.PureFuncs)

	var err error
	if cfg.Dev, err = getEnvBool("SITE_DEV", cfg.Dev); err != nil {
		return err
	}
	if cfg.DropConsole, err = getEnvBool("SITE_DROP_CONSOLE", cfg.DropConsole); err != nil {
		return err
	}
	if cfg.DropDebugger, err = getEnvBool("SITE_DROP_DEBUGGER", cfg.DropDebugger); err != nil {
		return err
	}
	if cfg.Brotli, err = getEnvBool("SITE_BROTLI", cfg.Brotli); err != nil {
		return err
	}
	if cfg.Fingerprint, err = getEnvBool("SITE_FINGERPRINT", cfg.Fingerprint); err != nil {
		return err
	}
	if cfg.WebP, err = getEnvBool("SITE_WEBP", cfg.WebP); err != nil {
		return err
	}

	cfg.PreviewPort = getEnv("PREVIEW_PORT", cfg.PreviewPort)

	cfg.R2Endpoint = getEnv("R2_ENDPOINT", cfg.R2Endpoint)
	cfg.R2AccessKey = getEnv("R2_ACCESS_KEY", cfg.R2AccessKey)
	cfg.R2SecretKey = getEnv("R2_SECRET_KEY", cfg.R2SecretKey)
	cfg.R2Bucket = getEnv("R2_BUCKET", cfg.R2Bucket)
	cfg.R2Prefix = getEnv("R2_PREFIX", cfg.R2Prefix)

	if cfg.PublishRPS, err = getEnvInt("PUBLISH_RPS", cfg.PublishRPS); err != nil {
		return err
	}
	if cfg.PublishConcurrency, err = getEnvInt("PUBLISH_CONCURRENCY", cfg.PublishConcurrency); err != nil {
		return err
	}

	return nil
}

// applyBuildFile 读取 YAML 构建文件并覆盖配置
// explicit 为 false 时文件不存在不算错误
func applyBuildFile(cfg *Config, path string, explicit bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("%w: %s: %v", ErrBuildFileInvalid, path, err)
	}

	var bf buildFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBuildFileInvalid, path, err)
	}

	overrideString(&cfg.Root, bf.Root)
	overrideString(&cfg.OutDir, bf.OutDir)
	overrideString(&cfg.HTMLPath, bf.HTML)
	overrideString(&cfg.CSSPath, bf.CSS)
	overrideString(&cfg.JSPath, bf.JS)

	if bf.Static != nil {
		if bf.Static.Dirs != nil {
			cfg.StaticDirs = bf.Static.Dirs
		}
		if bf.Static.Files != nil {
			cfg.StaticFiles = bf.Static.Files
		}
	}

	if bf.JSOptions != nil {
		overrideBool(&cfg.DropConsole, bf.JSOptions.DropConsole)
		overrideBool(&cfg.DropDebugger, bf.JSOptions.DropDebugger)
		if bf.JSOptions.Pure != nil {
			cfg.PureFuncs = bf.JSOptions.Pure
		}
	}

	overrideBool(&cfg.Brotli, bf.Brotli)
	overrideBool(&cfg.Fingerprint, bf.Fingerprint)
	overrideBool(&cfg.WebP, bf.WebP)

	if bf.Publish != nil {
		overrideString(&cfg.R2Bucket, bf.Publish.Bucket)
		overrideString(&cfg.R2Prefix, bf.Publish.Prefix)
		overrideString(&cfg.R2Endpoint, bf.Publish.Endpoint)
		if bf.Publish.RPS > 0 {
			cfg.PublishRPS = bf.Publish.RPS
		}
		if bf.Publish.Concurrency > 0 {
			cfg.PublishConcurrency = bf.Publish.Concurrency
		}
	}

	utils.LogPrintf("[CONFIG] Loaded build file %s", path)
	return nil
}

// ====================  配置验证 ====================

// Validate 验证配置
// 必需资源路径为空时返回 ErrMissingRequired
func (c *Config) Validate() error {
	var missingKeys []string

	if strings.TrimSpace(c.HTMLPath) == "" {
		missingKeys = append(missingKeys, "html")
	}
	if strings.TrimSpace(c.CSSPath) == "" {
		missingKeys = append(missingKeys, "css")
	}
	if strings.TrimSpace(c.JSPath) == "" {
		missingKeys = append(missingKeys, "js")
	}
	if strings.TrimSpace(c.OutDir) == "" {
		missingKeys = append(missingKeys, "out")
	}

	if len(missingKeys) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missingKeys, ", "))
	}

	if c.R2Bucket != "" && !c.IsPublishConfigured() {
		utils.LogPrintf("[CONFIG] WARN: R2 bucket set but credentials incomplete (publish will be disabled)")
	}

	return nil
}

// IsPublishConfigured 检查 R2 发布配置是否完整
func (c *Config) IsPublishConfigured() bool {
	return c.R2Endpoint != "" && c.R2AccessKey != "" && c.R2SecretKey != "" && c.R2Bucket != ""
}

// OutputPath 返回输出目录的完整路径
func (c *Config) OutputPath() string {
	if filepath.IsAbs(c.OutDir) {
		return c.OutDir
	}
	return filepath.Join(c.Root, c.OutDir)
}

// ====================  辅助函数 ====================

// getEnv 获取环境变量，支持默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt 获取正整数环境变量
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%w: %s=%s is not a valid integer", ErrInvalidValue, key, value)
	}

	if intVal <= 0 {
		return defaultValue, fmt.Errorf("%w: %s=%d must be positive", ErrInvalidValue, key, intVal)
	}

	return intVal, nil
}

// getEnvBool 获取布尔环境变量
// 支持 strconv.ParseBool 接受的所有格式（1/0、true/false 等）
func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%w: %s=%s is not a valid boolean", ErrInvalidValue, key, value)
	}
	return b, nil
}

// getEnvList 获取逗号分隔的列表环境变量
// 设置为单个 "-" 表示显式清空列表
func getEnvList(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	if value == "-" {
		return []string{}
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// overrideString 非空时覆盖
func overrideString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// overrideBool 非 nil 时覆盖
func overrideBool(dst *bool, value *bool) {
	if value != nil {
		*dst = *value
	}
}

/**
 * internal/watcher/watcher.go
 * 源文件监听（--watch 模式）
 *
 * 功能：
 * - 递归监听项目目录（新建子目录自动加入）
 * - 忽略输出目录、隐藏文件和编辑器临时文件
 * - 防抖：一批变更稳定后只发出一次信号
 *
 * 依赖：
 * - github.com/fsnotify/fsnotify
 */

package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"site-build/internal/utils"

	"github.com/fsnotify/fsnotify"
)

// ====================  数据结构 ====================

// Watcher 项目源文件监听器
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	ignore    []string
	debounce  time.Duration
	onChange  chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

// Config 监听配置
type Config struct {
	Root        string        // 项目根目录
	Ignore      []string      // 不监听的目录（输出目录）
	DebounceDur time.Duration // 防抖间隔
}

// DefaultConfig 默认配置（300ms 防抖）
func DefaultConfig(root string, ignore ...string) Config {
	return Config{
		Root:        root,
		Ignore:      ignore,
		DebounceDur: 300 * time.Millisecond,
	}
}

// ====================  构造函数 ====================

// New 创建监听器
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	ignore := make([]string, 0, len(cfg.Ignore))
	for _, dir := range cfg.Ignore {
		if abs, err := filepath.Abs(dir); err == nil {
			ignore = append(ignore, abs)
		}
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to resolve root %s: %w", cfg.Root, err)
	}

	return &Watcher{
		fsWatcher: fsw,
		root:      root,
		ignore:    ignore,
		debounce:  cfg.DebounceDur,
		onChange:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// ====================  公开方法 ====================

// Start 开始监听
// 返回的 channel 在一批变更稳定后收到一次信号
func (w *Watcher) Start() (<-chan struct{}, error) {
	if err := w.addDirsRecursive(w.root); err != nil {
		return nil, fmt.Errorf("failed to watch directory %s: %w", w.root, err)
	}

	go w.loop()

	utils.LogPrintf("[WATCH] Watching %s", w.root)
	return w.onChange, nil
}

// Stop 停止监听并释放资源（可重复调用）
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
	})
	return err
}

// ====================  私有方法 ====================

// loop 事件循环（防抖）
func (w *Watcher) loop() {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRelevantEvent(event) {
				continue
			}

			if event.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					_ = w.addDirsRecursive(event.Name)
				}
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			// 已有未消费的信号时不再发送
			select {
			case w.onChange <- struct{}{}:
			default:
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			utils.LogPrintf("[WATCH] WARN: Watcher error: %v", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent 事件是否需要触发重新构建
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return !w.shouldIgnore(event.Name)
}

// shouldIgnore 忽略输出目录、隐藏文件和编辑器临时文件
func (w *Watcher) shouldIgnore(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return true
	}
	for _, dir := range w.ignore {
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return true
		}
	}

	base := filepath.Base(abs)
	switch {
	case strings.HasPrefix(base, "."):
		return true
	case strings.HasSuffix(base, "~"), strings.HasSuffix(base, ".swp"), strings.HasSuffix(base, ".swx"):
		return true
	case strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#"):
		return true
	}
	return false
}

// addDirsRecursive 递归加入子目录
func (w *Watcher) addDirsRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			utils.LogPrintf("[WATCH] WARN: Watch add failed for %s: %v", path, err)
		}
		return nil
	})
}

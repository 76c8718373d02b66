package builder

import (
	"context"

	"site-build/internal/utils"
)

// Watch 每收到一次变更信号重新构建一次，直到 ctx 取消或 changes 关闭
// onBuild 在每次构建结束后同步调用（失败时 err 非空）
func (b *Builder) Watch(ctx context.Context, changes <-chan struct{}, onBuild func(*Result, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}

			utils.LogPrintf("[WATCH] Change detected, rebuilding...")
			res, err := b.Build(ctx)
			if err != nil {
				utils.LogPrintf("[WATCH] ERROR: Rebuild failed: %v", err)
			}
			if onBuild != nil {
				onBuild(res, err)
			}
		}
	}
}

package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	kratoslog "github.com/go-kratos/kratos/v2/log"
)

// Hook 生命周期钩子。Priority 越小越先启动、越晚停止：
// 0-49 基础设施，50-99 后台任务（通知分发），100+ 对外服务
type Hook struct {
	Name     string
	Priority int
	OnStart  func(context.Context) error
	OnStop   func(context.Context) error
}

// LifecycleManager 按优先级启停钩子
type LifecycleManager struct {
	logger kratoslog.Logger

	mu    sync.Mutex
	hooks []Hook
	// reached 已尝试启动的钩子数，-1 表示从未 Start
	reached int

	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	stopOnce    sync.Once
	stopTimeout time.Duration
}

func NewLifecycleManager(logger kratoslog.Logger) *LifecycleManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleManager{
		logger:      logger,
		reached:     -1,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		stopTimeout: 30 * time.Second,
	}
}

// SetStopTimeout 所有 OnStop 共用一个超时
func (lm *LifecycleManager) SetStopTimeout(d time.Duration) {
	if d > 0 {
		lm.stopTimeout = d
	}
}

// AddHook 同优先级保持注册顺序
func (lm *LifecycleManager) AddHook(hook Hook) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.hooks = append(lm.hooks, hook)
	sort.SliceStable(lm.hooks, func(i, j int) bool {
		return lm.hooks[i].Priority < lm.hooks[j].Priority
	})
}

// Start 依次启动，遇到错误立即返回；之后的 Stop 只会停止已到达的钩子
func (lm *LifecycleManager) Start() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.reached = 0
	for _, hook := range lm.hooks {
		lm.reached++
		if hook.OnStart == nil {
			continue
		}
		if err := hook.OnStart(lm.ctx); err != nil {
			lm.logger.Log(kratoslog.LevelError, "msg", "Hook start failed", "name", hook.Name, "error", err)
			return err
		}
		lm.logger.Log(kratoslog.LevelInfo, "msg", "Hook started", "name", hook.Name, "priority", hook.Priority)
	}
	return nil
}

// Stop 逆序停止，只执行一次，返回第一个错误
func (lm *LifecycleManager) Stop() error {
	var stopErr error
	lm.stopOnce.Do(func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), lm.stopTimeout)
		defer cancel()

		n := len(lm.hooks)
		if lm.reached >= 0 {
			n = lm.reached
		}
		for i := n - 1; i >= 0; i-- {
			hook := lm.hooks[i]
			if hook.OnStop == nil {
				continue
			}
			if err := hook.OnStop(ctx); err != nil {
				lm.logger.Log(kratoslog.LevelError, "msg", "Hook stop failed", "name", hook.Name, "error", err)
				if stopErr == nil {
					stopErr = err
				}
				continue
			}
			lm.logger.Log(kratoslog.LevelInfo, "msg", "Hook stopped", "name", hook.Name)
		}

		lm.cancel()
		close(lm.done)
	})
	return stopErr
}

// Wait 阻塞到收到退出信号或 Stop 被调用
func (lm *LifecycleManager) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		lm.logger.Log(kratoslog.LevelInfo, "msg", "Received signal", "signal", sig.String())
		_ = lm.Stop()
	case <-lm.done:
	}
}

// Context Stop 后取消
func (lm *LifecycleManager) Context() context.Context {
	return lm.ctx
}

func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.done
}

func (lm *LifecycleManager) IsRunning() bool {
	select {
	case <-lm.done:
		return false
	default:
		return true
	}
}

package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aihub/support-agent/internal/logger"
	"go.uber.org/zap"
)

// 文件写入完成的静默窗口
// 编辑器与scp分多次写入，等待事件平息后再摄取
const watchDebounce = 2 * time.Second

// DocumentWatcher 监听目录并自动摄取新增/修改的文档
// 丢进目录的文件等价于调用上传接口，适合批量初始化知识库
type DocumentWatcher struct {
	service  *SupportService
	watcher  *fsnotify.Watcher
	dir      string
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer

	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewDocumentWatcher 创建目录监听器
func NewDocumentWatcher(service *SupportService, dir string) (*DocumentWatcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	return &DocumentWatcher{
		service:  service,
		watcher:  watcher,
		dir:      dir,
		debounce: watchDebounce,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// Start 启动监听循环
func (w *DocumentWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.started = true
	go w.loop(ctx)
	logger.Info("Document watcher started", zap.String("dir", w.dir))
}

func (w *DocumentWatcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !w.service.parser.Supports(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Document watcher error", zap.Error(err))
		}
	}
}

// schedule 延迟摄取，同一文件的连续写入事件合并为一次
func (w *DocumentWatcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *DocumentWatcher) ingest(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Watched file read failed", zap.String("path", path), zap.Error(err))
		return
	}

	name := filepath.Base(path)
	if _, err := w.service.IngestUpload(ctx, name, data); err != nil {
		logger.Error("Watched file ingest failed", zap.String("file", name), zap.Error(err))
		return
	}
	logger.Info("Watched file ingested", zap.String("file", name))
}

// Close 停止监听并等待处理循环退出
func (w *DocumentWatcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.watcher.Close()
	if w.started {
		<-w.done
	}

	w.mu.Lock()
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.pending = map[string]*time.Timer{}
	w.mu.Unlock()
	return err
}

// 配置热重载。
//
// 监听配置文件变更，校验后原子替换当前配置并通知订阅方；
// 订阅回调失败时自动回滚到上一个有效配置。
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConfigChange 代表一次配置字段变更
type ConfigChange struct {
	// 变更时间
	Timestamp time.Time `json:"timestamp"`

	// 变更来源（file, manual, rollback）
	Source string `json:"source"`

	// 变更字段路径（例如 "Experiment.EnableBandit"）
	Path string `json:"path"`

	// 变更前的值（敏感字段会被脱敏）
	OldValue any `json:"old_value,omitempty"`

	// 变更后的值（敏感字段会被脱敏）
	NewValue any `json:"new_value,omitempty"`

	// 是否需要重启才能生效
	RequiresRestart bool `json:"requires_restart"`

	// 是否已应用
	Applied bool `json:"applied"`

	// 变更失败原因
	Error string `json:"error,omitempty"`
}

// ReloadCallback 在新配置应用后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// ValidateFunc 配置验证钩子，返回 error 表示拒绝该配置
type ValidateFunc func(newConfig *Config) error

// reloadableField 描述字段的热重载属性
type reloadableField struct {
	// RequiresRestart 指示变更该字段是否需要重启
	RequiresRestart bool

	// Sensitive 指示该字段是否包含敏感数据
	Sensitive bool
}

// reloadableFields 定义各配置字段的热重载属性。
// 未登记的字段一律视为需要重启。
var reloadableFields = map[string]reloadableField{
	// 实验引擎开关 - 可热重载
	"Experiment.EnableBandit":            {},
	"Experiment.AcceptPausedConversions": {},

	// 日志配置 - 可热重载
	"Log.Level":  {},
	"Log.Format": {},

	// 缓存 TTL - 可热重载
	"Redis.ReportTTL": {},

	// 遥测采样 - 可热重载
	"Telemetry.Enabled":    {},
	"Telemetry.SampleRate": {},

	// 服务器端口与超时 - 需要重启
	"Server.HTTPPort":     {RequiresRestart: true},
	"Server.ReadTimeout":  {RequiresRestart: true},
	"Server.WriteTimeout": {RequiresRestart: true},

	// 数据库连接 - 需要重启
	"Database.Host":     {RequiresRestart: true},
	"Database.Port":     {RequiresRestart: true},
	"Database.Password": {RequiresRestart: true, Sensitive: true},

	// Redis 连接 - 需要重启
	"Redis.Addr":     {RequiresRestart: true},
	"Redis.Password": {RequiresRestart: true, Sensitive: true},
}

// ReloaderOption 配置 Reloader
type ReloaderOption func(*Reloader)

// WithReloaderLogger 设置记录器
func WithReloaderLogger(logger *zap.Logger) ReloaderOption {
	return func(r *Reloader) {
		r.logger = logger
	}
}

// WithReloadValidate 设置配置验证钩子
func WithReloadValidate(fn ValidateFunc) ReloaderOption {
	return func(r *Reloader) {
		r.validateFunc = fn
	}
}

// Reloader 管理配置热重载
type Reloader struct {
	mu sync.RWMutex

	// 当前配置
	config     *Config
	configPath string

	// 上一个成功应用的配置（用于回滚）
	previous *Config

	// 验证钩子（可选）
	validateFunc ValidateFunc

	// 文件监听器
	watcher *FileWatcher

	// 回调
	reloadCallbacks []ReloadCallback

	// 变更日志（最近 1000 条）
	changeLog []ConfigChange

	logger *zap.Logger

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewReloader 创建热重载管理器
func NewReloader(cfg *Config, configPath string, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		config:     cfg,
		configPath: configPath,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnReload 注册配置重载回调
func (r *Reloader) OnReload(callback ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reloadCallbacks = append(r.reloadCallbacks, callback)
}

// Start 启动文件监听
func (r *Reloader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("reloader already running")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	if r.configPath != "" {
		watcher, err := NewFileWatcher(
			r.configPath,
			WithWatcherLogger(r.logger),
			WithDebounceDelay(500*time.Millisecond),
		)
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		watcher.OnChange(r.handleFileChange)
		if err := watcher.Start(r.ctx); err != nil {
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
		r.watcher = watcher
	}

	r.running = true
	r.logger.Info("config reloader started", zap.String("config_path", r.configPath))
	return nil
}

// Stop 停止文件监听
func (r *Reloader) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.watcher != nil {
		if err := r.watcher.Stop(); err != nil {
			r.logger.Error("failed to stop file watcher", zap.Error(err))
		}
	}
	r.running = false
	r.logger.Info("config reloader stopped")
	return nil
}

func (r *Reloader) handleFileChange(event FileEvent) {
	if event.Op != FileOpWrite && event.Op != FileOpCreate {
		return
	}
	r.logger.Info("configuration file changed",
		zap.String("path", event.Path),
		zap.String("op", event.Op.String()))
	if err := r.ReloadFromFile(); err != nil {
		r.logger.Error("failed to reload configuration", zap.Error(err))
	}
}

// ReloadFromFile 从配置文件重新加载
func (r *Reloader) ReloadFromFile() error {
	if r.configPath == "" {
		return fmt.Errorf("no config path set")
	}

	newConfig, err := NewLoader().WithConfigPath(r.configPath).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return r.Apply(newConfig, "file")
}

// Apply 应用新配置。
// 验证、变更检测、替换和日志记录都在同一把锁内完成；
// 回调通知在锁外执行，失败则回滚到旧配置。
func (r *Reloader) Apply(newConfig *Config, source string) error {
	r.mu.Lock()

	oldConfig := r.config

	if r.validateFunc != nil {
		if err := r.validateFunc(newConfig); err != nil {
			r.appendChangeLocked(ConfigChange{
				Timestamp: time.Now(),
				Source:    source,
				Path:      "(validation_hook)",
				Error:     fmt.Sprintf("validation hook failed: %v", err),
			})
			r.mu.Unlock()
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	changes := detectChanges(oldConfig, newConfig)
	requiresRestart := false
	for i := range changes {
		changes[i].Timestamp = time.Now()
		changes[i].Source = source
		changes[i].Applied = true

		field, known := reloadableFields[changes[i].Path]
		if !known || field.RequiresRestart {
			changes[i].RequiresRestart = true
			requiresRestart = true
		}
		if known && field.Sensitive {
			changes[i].OldValue = "[REDACTED]"
			changes[i].NewValue = "[REDACTED]"
		}
	}

	r.previous = deepCopyConfig(oldConfig)
	r.config = newConfig
	for _, change := range changes {
		r.appendChangeLocked(change)
		r.logger.Info("configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Any("old_value", change.OldValue),
			zap.Any("new_value", change.NewValue),
			zap.Bool("requires_restart", change.RequiresRestart))
	}

	callbacks := append([]ReloadCallback(nil), r.reloadCallbacks...)
	r.mu.Unlock()

	if err := notifyCallbacksSafe(callbacks, oldConfig, newConfig); err != nil {
		r.mu.Lock()
		if r.config == newConfig {
			r.logger.Error("reload callback failed, rolling back", zap.Error(err))
			r.rollbackLocked(oldConfig, fmt.Sprintf("callback error: %v", err))
		}
		r.mu.Unlock()
		return fmt.Errorf("config applied but callback failed: %w", err)
	}

	if requiresRestart {
		r.logger.Warn("some configuration changes require restart to take effect")
	}
	r.logger.Info("configuration reloaded",
		zap.Int("changes", len(changes)),
		zap.Bool("requires_restart", requiresRestart))
	return nil
}

// Rollback 回滚到上一个有效配置
func (r *Reloader) Rollback() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.previous == nil {
		return fmt.Errorf("no previous config available for rollback")
	}
	r.rollbackLocked(r.previous, "manual rollback")
	return nil
}

// rollbackLocked 执行回滚（调用方必须持有写锁）
func (r *Reloader) rollbackLocked(target *Config, reason string) {
	r.config = deepCopyConfig(target)
	r.appendChangeLocked(ConfigChange{
		Timestamp: time.Now(),
		Source:    "rollback",
		Path:      "(rollback)",
		Applied:   true,
		Error:     reason,
	})
	r.logger.Warn("configuration rolled back", zap.String("reason", reason))
}

// Config 返回当前配置的副本
func (r *Reloader) Config() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return deepCopyConfig(r.config)
}

// ChangeLog 返回最近的配置变更记录
func (r *Reloader) ChangeLog(limit int) []ConfigChange {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.changeLog) {
		limit = len(r.changeLog)
	}
	start := len(r.changeLog) - limit
	result := make([]ConfigChange, limit)
	copy(result, r.changeLog[start:])
	return result
}

func (r *Reloader) appendChangeLocked(change ConfigChange) {
	r.changeLog = append(r.changeLog, change)
	if len(r.changeLog) > 1000 {
		r.changeLog = r.changeLog[len(r.changeLog)-1000:]
	}
}

// notifyCallbacksSafe 通知回调并捕获 panic
func notifyCallbacksSafe(callbacks []ReloadCallback, oldConfig, newConfig *Config) (retErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			retErr = fmt.Errorf("reload callback panicked: %v", rec)
		}
	}()
	for _, cb := range callbacks {
		cb(oldConfig, newConfig)
	}
	return nil
}

// detectChanges 检测新旧配置之间的字段级差异
func detectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

// compareStructs 递归比较结构体字段
func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	if oldVal.Kind() != reflect.Struct || newVal.Kind() != reflect.Struct {
		return
	}

	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldPath := field.Name
		if prefix != "" {
			fieldPath = prefix + "." + field.Name
		}

		oldField := oldVal.Field(i)
		newField := newVal.Field(i)

		if oldField.Kind() == reflect.Struct {
			compareStructs(fieldPath, oldField, newField, changes)
			continue
		}
		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:     fieldPath,
				OldValue: oldField.Interface(),
				NewValue: newField.Interface(),
			})
		}
	}
}

// deepCopyConfig 深拷贝配置（通过 JSON 序列化/反序列化）
func deepCopyConfig(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var copied Config
	if err := json.Unmarshal(data, &copied); err != nil {
		return cfg
	}
	return &copied
}

// IsReloadable 检查字段是否可以热重载
func IsReloadable(path string) bool {
	field, known := reloadableFields[path]
	return known && !field.RequiresRestart
}

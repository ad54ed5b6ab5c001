package experiment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/expflow/store"
	"github.com/BaSui01/expflow/types"
)

// ReportCache 显著性报告的读侧缓存
// 实现必须自吞错误:缓存故障只表现为未命中,从不影响调用方.
type ReportCache interface {
	GetReport(ctx context.Context, experiment string) (*Report, bool)
	SetReport(ctx context.Context, experiment string, report *Report)
	InvalidateReport(ctx context.Context, experiment string)
}

// Metrics 服务层指标埋点接口
type Metrics interface {
	ObserveAssignment(experiment, variant string, path AssignPath, duration time.Duration)
	ObserveConversion(experiment, variant, goal string, duration time.Duration)
	ObserveReport(experiment string, cacheHit bool)
}

// Service 引擎对应用层暴露的门面
// 目录、存储、缓存、指标、事件下游全部构造期注入.
type Service struct {
	catalog  Catalog
	store    store.AggregateStore
	engine   *Engine
	recorder *Recorder
	cache    ReportCache
	metrics  Metrics
	logger   *zap.Logger
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Engine   EngineConfig   `yaml:"engine"`
	Recorder RecorderConfig `yaml:"recorder"`
}

// DefaultServiceConfig 默认服务配置
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{Engine: DefaultEngineConfig()}
}

// ServiceOption 服务可选依赖
type ServiceOption func(*Service)

// WithReportCache 注入报告缓存
func WithReportCache(cache ReportCache) ServiceOption {
	return func(s *Service) { s.cache = cache }
}

// WithMetrics 注入指标收集器
func WithMetrics(m Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithEngineOptions 追加分配引擎的可选依赖,用于可复现场景
func WithEngineOptions(opts ...EngineOption) ServiceOption {
	return func(s *Service) {
		for _, opt := range opts {
			opt(s.engine)
		}
	}
}

// NewService 创建服务门面
func NewService(catalog Catalog, st store.AggregateStore, cfg ServiceConfig, sink store.Sink, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		catalog:  catalog,
		store:    st,
		engine:   NewEngine(st, cfg.Engine, logger, WithSink(sink)),
		recorder: NewRecorder(st, cfg.Recorder, sink, logger),
		logger:   logger.With(zap.String("component", "experiment_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpdateConfig 运行时更新可热切换的引擎与记录器开关
func (s *Service) UpdateConfig(cfg ServiceConfig) {
	s.engine.SetBanditEnabled(cfg.Engine.EnableBandit)
	s.recorder.SetAcceptPausedConversions(cfg.Recorder.AcceptPausedConversions)
	s.logger.Info("service config updated",
		zap.Bool("enable_bandit", cfg.Engine.EnableBandit),
		zap.Bool("accept_paused_conversions", cfg.Recorder.AcceptPausedConversions))
}

// CreateExperiment 创建或更新实验定义
func (s *Service) CreateExperiment(ctx context.Context, exp *types.Experiment) error {
	if err := s.catalog.SaveExperiment(ctx, exp); err != nil {
		return err
	}
	s.logger.Info("experiment saved",
		zap.String("name", exp.Name),
		zap.Int("variants", len(exp.Variants)),
		zap.Int64("version", exp.Version))
	return nil
}

// GetExperiment 按名称查找实验
func (s *Service) GetExperiment(ctx context.Context, name string) (*types.Experiment, error) {
	return s.catalog.FindExperiment(ctx, name)
}

// ListExperiments 列出全部实验
func (s *Service) ListExperiments(ctx context.Context) ([]*types.Experiment, error) {
	return s.catalog.ListExperiments(ctx)
}

// DeleteExperiment 删除实验定义
func (s *Service) DeleteExperiment(ctx context.Context, name string) error {
	if err := s.catalog.DeleteExperiment(ctx, name); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateReport(ctx, name)
	}
	return nil
}

// AssignVariant 为参与者分配变体
func (s *Service) AssignVariant(ctx context.Context, experimentName, participantID string, attrs map[string]string) (string, error) {
	start := time.Now()

	exp, err := s.catalog.FindExperiment(ctx, experimentName)
	if err != nil {
		return "", err
	}

	res, err := s.engine.Assign(ctx, exp, participantID, attrs)
	if err != nil {
		return "", err
	}

	if s.metrics != nil {
		s.metrics.ObserveAssignment(experimentName, res.Variant, res.Path, time.Since(start))
	}
	return res.Variant, nil
}

// RecordConversion 记录转化
func (s *Service) RecordConversion(ctx context.Context, experimentName, participantID, goal string) error {
	start := time.Now()

	exp, err := s.catalog.FindExperiment(ctx, experimentName)
	if err != nil {
		return err
	}

	conv, err := s.recorder.Record(ctx, exp, participantID, goal)
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.ObserveConversion(experimentName, conv.Variant, goal, time.Since(start))
	}
	if s.cache != nil {
		// 计数已变,旧报告立即失效
		s.cache.InvalidateReport(ctx, experimentName)
	}
	return nil
}

// ExperimentResults 计算实验显著性报告,优先命中缓存
func (s *Service) ExperimentResults(ctx context.Context, experimentName string) (*Report, error) {
	exp, err := s.catalog.FindExperiment(ctx, experimentName)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if report, ok := s.cache.GetReport(ctx, experimentName); ok {
			if s.metrics != nil {
				s.metrics.ObserveReport(experimentName, true)
			}
			return report, nil
		}
	}

	counts, err := s.store.ReadCounts(ctx, experimentName)
	if err != nil {
		return nil, err
	}
	report := BuildReport(exp, counts)

	if s.cache != nil {
		s.cache.SetReport(ctx, experimentName, report)
	}
	if s.metrics != nil {
		s.metrics.ObserveReport(experimentName, false)
	}
	return report, nil
}

// TransitionStatus 迁移实验生命周期状态
// 状态机校验通过后维护生命周期时间戳并持久化;非法转移时存储状态不变.
func (s *Service) TransitionStatus(ctx context.Context, experimentName string, target types.Status) error {
	exp, err := s.catalog.FindExperiment(ctx, experimentName)
	if err != nil {
		return err
	}

	next, err := Transition(exp.Status, target)
	if err != nil {
		return err
	}

	exp.Status = next
	now := time.Now().UTC()
	switch next {
	case types.StatusRunning:
		if exp.StartedAt == nil {
			exp.StartedAt = &now
		}
	case types.StatusCompleted:
		exp.EndedAt = &now
	}

	if err := s.catalog.SaveExperiment(ctx, exp); err != nil {
		return err
	}

	s.logger.Info("experiment status changed",
		zap.String("name", experimentName),
		zap.String("status", string(next)))
	return nil
}

// RebuildCounters 从事实日志重建派生计数器,仅当存储后端支持重放时可用
func (s *Service) RebuildCounters(ctx context.Context, experimentName string) error {
	replayer, ok := s.store.(store.Replayer)
	if !ok {
		return types.NewError(types.ErrCodeStorage, "store backend does not support replay")
	}
	if err := replayer.RebuildCounters(ctx, experimentName); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateReport(ctx, experimentName)
	}
	return nil
}

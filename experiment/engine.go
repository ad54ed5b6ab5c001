package experiment

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/expflow/store"
	"github.com/BaSui01/expflow/types"
)

// AssignPath 标记一次分配走过的路径,用于日志与指标
type AssignPath string

const (
	// PathControl 实验未运行或参与者在流量闸门外,未落存储
	PathControl AssignPath = "control"
	// PathExisting 命中既有分配
	PathExisting AssignPath = "existing"
	// PathBandit bandit 选择
	PathBandit AssignPath = "bandit"
	// PathAllocator 自适应分配回退
	PathAllocator AssignPath = "allocator"
	// PathHash 确定性哈希兜底
	PathHash AssignPath = "hash"
)

// AssignResult 一次分配的结果
type AssignResult struct {
	Variant string            `json:"variant"`
	Path    AssignPath        `json:"path"`
	Created bool              `json:"created"`
	Fact    *types.Assignment `json:"-"` // 闸门外的 control 路径为 nil
}

// EngineConfig 分配引擎配置
type EngineConfig struct {
	// EnableBandit 关闭后跳过 bandit,直接走自适应分配
	EnableBandit bool
}

// DefaultEngineConfig 默认引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{EnableBandit: true}
}

// Engine 变体分配引擎
// 依赖全部显式注入,不持有全局状态;所有方法并发安全.
type Engine struct {
	store     store.AggregateStore
	bandit    *Bandit
	allocator *Allocator
	sink      store.Sink
	logger    *zap.Logger

	// 支持运行时热切换
	enableBandit atomic.Bool
}

// EngineOption 引擎可选依赖
type EngineOption func(*Engine)

// WithSink 注入事件下游,落盘成功后在请求协程上通知
// 慢速下游需自行包一层 store.AsyncSink,引擎不替 sink 兜底.
func WithSink(sink store.Sink) EngineOption {
	return func(e *Engine) { e.sink = sink }
}

// WithRandSource 注入随机源,用于可复现实验
func WithRandSource(rng func() float64) EngineOption {
	return func(e *Engine) {
		e.bandit = NewBandit(rng)
		e.allocator = NewAllocator(rng)
	}
}

// NewEngine 创建分配引擎
func NewEngine(st store.AggregateStore, cfg EngineConfig, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:     st,
		bandit:    NewBandit(nil),
		allocator: NewAllocator(nil),
		logger:    logger.With(zap.String("component", "assignment_engine")),
	}
	e.enableBandit.Store(cfg.EnableBandit)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetBanditEnabled 运行时切换 bandit 开关,并发安全
func (e *Engine) SetBanditEnabled(enabled bool) {
	e.enableBandit.Store(enabled)
}

// Assign 为参与者分配变体,依次尝试,先成者胜:
//  1. 资格闸门:实验未运行 → 直接返回对照组,不写任何聚合
//  2. 幂等检查:已有分配 → 原样返回,保证重复调用体验稳定
//  3. 流量闸门:闸门外的参与者确定性地收到对照组,不写存储
//  4. bandit 选择(可配置关闭)
//  5. 自适应分配回退
//  6. 确定性哈希兜底
//
// 除闸门外路径,选中的变体必须先经 record_assignment 落盘再返回;
// 存储失败中止整次调用并返回可重试错误,绝不返回未记录的分配.
func (e *Engine) Assign(ctx context.Context, exp *types.Experiment, participantID string, attrs map[string]string) (*AssignResult, error) {
	control := exp.Control()
	if control == nil {
		return nil, types.ErrNoVariants
	}

	if exp.Status != types.StatusRunning {
		e.logger.Debug("experiment not running, serving control",
			zap.String("experiment", exp.Name),
			zap.String("status", string(exp.Status)))
		return &AssignResult{Variant: control.Name, Path: PathControl}, nil
	}

	if existing, err := e.store.GetAssignment(ctx, exp.Name, participantID); err == nil {
		return &AssignResult{Variant: existing.Variant, Path: PathExisting, Fact: existing}, nil
	} else if !errors.Is(err, types.ErrNoAssignment) {
		return nil, err
	}

	if !InTraffic(participantID, exp.TrafficPercent) {
		return &AssignResult{Variant: control.Name, Path: PathControl}, nil
	}

	variant, path := e.selectVariant(ctx, exp, participantID)

	fact, created, err := e.store.RecordAssignment(ctx, exp.Name, variant.Name, participantID, attrs)
	if err != nil {
		e.logger.Error("assignment not recorded, aborting",
			zap.String("experiment", exp.Name),
			zap.String("participant", participantID),
			zap.Error(err))
		return nil, err
	}
	if !created {
		// 并发首次分配输掉竞争:以落盘的事实为准
		return &AssignResult{Variant: fact.Variant, Path: PathExisting, Fact: fact}, nil
	}

	if e.sink != nil {
		e.sink.AssignmentRecorded(fact)
	}

	e.logger.Debug("variant assigned",
		zap.String("experiment", exp.Name),
		zap.String("participant", participantID),
		zap.String("variant", variant.Name),
		zap.String("path", string(path)))

	return &AssignResult{Variant: fact.Variant, Path: path, Created: true, Fact: fact}, nil
}

// selectVariant 选择路径:bandit → 自适应分配 → 确定性哈希
// 计数快照读取失败只降级选择路径,记录路径的失败仍然上抛.
func (e *Engine) selectVariant(ctx context.Context, exp *types.Experiment, participantID string) (*types.Variant, AssignPath) {
	counts, err := e.store.ReadCounts(ctx, exp.Name)
	if err != nil {
		e.logger.Warn("counts unavailable, falling back to deterministic hash",
			zap.String("experiment", exp.Name),
			zap.Error(err))
		return SelectByHash(exp, participantID), PathHash
	}

	if e.enableBandit.Load() {
		if v := e.bandit.Select(exp, counts); v != nil {
			return v, PathBandit
		}
	}
	if v := e.allocator.Select(exp, counts); v != nil {
		return v, PathAllocator
	}
	return SelectByHash(exp, participantID), PathHash
}

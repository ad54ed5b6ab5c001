package experiment

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/expflow/store"
	"github.com/BaSui01/expflow/types"
)

// RecorderConfig 转化记录器配置
type RecorderConfig struct {
	// AcceptPausedConversions 暂停期间是否继续接受已分配参与者的迟到转化
	AcceptPausedConversions bool
}

// Recorder 转化记录器
// 前置条件:实验在运行中(或按配置允许暂停期),且参与者已有分配;
// 除原子计数器递增外没有任何副作用,事件通知交给下游 sink.
type Recorder struct {
	store  store.AggregateStore
	sink   store.Sink
	logger *zap.Logger

	// 支持运行时热切换
	acceptPaused atomic.Bool
}

// NewRecorder 创建转化记录器
func NewRecorder(st store.AggregateStore, cfg RecorderConfig, sink store.Sink, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		store:  st,
		sink:   sink,
		logger: logger.With(zap.String("component", "conversion_recorder")),
	}
	r.acceptPaused.Store(cfg.AcceptPausedConversions)
	return r
}

// SetAcceptPausedConversions 运行时切换暂停期转化开关,并发安全
func (r *Recorder) SetAcceptPausedConversions(accept bool) {
	r.acceptPaused.Store(accept)
}

// Record 记录一次转化
func (r *Recorder) Record(ctx context.Context, exp *types.Experiment, participantID, goal string) (*types.Conversion, error) {
	if !r.accepting(exp.Status) {
		return nil, types.NewError(types.ErrCodeExperimentNotRunning,
			fmt.Sprintf("experiment %s is %s, conversion rejected", exp.Name, exp.Status))
	}
	if len(exp.Goals) > 0 && !exp.HasGoal(goal) {
		return nil, types.NewError(types.ErrCodeUnknownGoal,
			fmt.Sprintf("experiment %s does not track goal %q", exp.Name, goal))
	}

	conv, err := r.store.RecordConversion(ctx, exp.Name, participantID, goal)
	if err != nil {
		return nil, err
	}

	if r.sink != nil {
		r.sink.ConversionRecorded(conv)
	}

	r.logger.Debug("conversion recorded",
		zap.String("experiment", exp.Name),
		zap.String("participant", participantID),
		zap.String("goal", goal),
		zap.String("variant", conv.Variant))

	return conv, nil
}

// accepting 判断当前状态是否接受转化
func (r *Recorder) accepting(status types.Status) bool {
	if status == types.StatusRunning {
		return true
	}
	return status == types.StatusPaused && r.acceptPaused.Load()
}

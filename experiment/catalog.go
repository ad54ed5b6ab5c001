package experiment

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/expflow/types"
)

// Catalog 实验目录:实验定义的查找与持久化接口
type Catalog interface {
	// FindExperiment 按名称查找实验,不存在时返回 types.ErrExperimentNotFound
	FindExperiment(ctx context.Context, name string) (*types.Experiment, error)
	// SaveExperiment 创建或覆盖实验定义,保存前做配置校验并递增版本号
	SaveExperiment(ctx context.Context, exp *types.Experiment) error
	// ListExperiments 列出全部实验
	ListExperiments(ctx context.Context) ([]*types.Experiment, error)
	// DeleteExperiment 删除实验定义
	DeleteExperiment(ctx context.Context, name string) error
}

// MemoryCatalog 内存实验目录,适用于测试与单进程部署
// 读写均返回深拷贝,调用方永远拿不到共享的可变配置.
type MemoryCatalog struct {
	mu          sync.RWMutex
	experiments map[string]*types.Experiment
}

// NewMemoryCatalog 创建空的内存目录
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{experiments: make(map[string]*types.Experiment)}
}

// FindExperiment 实现 Catalog
func (c *MemoryCatalog) FindExperiment(ctx context.Context, name string) (*types.Experiment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	exp, ok := c.experiments[name]
	if !ok {
		return nil, types.ErrExperimentNotFound
	}
	return exp.Clone(), nil
}

// SaveExperiment 实现 Catalog
func (c *MemoryCatalog) SaveExperiment(ctx context.Context, exp *types.Experiment) error {
	if exp == nil {
		return types.NewError(types.ErrCodeInvalidExperiment, "experiment cannot be nil")
	}
	if err := exp.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stored := exp.Clone()
	if stored.Status == "" {
		stored.Status = types.StatusDraft
	}
	if prev, ok := c.experiments[exp.Name]; ok {
		stored.Version = prev.Version + 1
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.Version = 1
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now().UTC()
		}
	}
	c.experiments[exp.Name] = stored
	exp.Version = stored.Version
	return nil
}

// ListExperiments 实现 Catalog
func (c *MemoryCatalog) ListExperiments(ctx context.Context) ([]*types.Experiment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*types.Experiment, 0, len(c.experiments))
	for _, exp := range c.experiments {
		out = append(out, exp.Clone())
	}
	return out, nil
}

// DeleteExperiment 实现 Catalog
func (c *MemoryCatalog) DeleteExperiment(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.experiments[name]; !ok {
		return types.ErrExperimentNotFound
	}
	delete(c.experiments, name)
	return nil
}

var _ Catalog = (*MemoryCatalog)(nil)

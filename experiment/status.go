// Package experiment 实现实验生命周期、变体分配与显著性分析引擎.
package experiment

import (
	"fmt"

	"github.com/BaSui01/expflow/types"
)

// transitions 状态转移表:封闭枚举,未列出的转移一律非法
var transitions = map[types.Status][]types.Status{
	types.StatusDraft:     {types.StatusRunning},
	types.StatusRunning:   {types.StatusPaused, types.StatusCompleted},
	types.StatusPaused:    {types.StatusRunning, types.StatusCompleted},
	types.StatusCompleted: {},
}

// Transition 校验状态转移
// 纯函数:合法时返回目标状态,非法时返回指明 (当前, 目标) 对的错误,绝不静默忽略.
// 持久化由调用方负责.
func Transition(current, target types.Status) (types.Status, error) {
	if !current.Valid() {
		return "", types.NewError(types.ErrCodeInvalidTransition,
			fmt.Sprintf("unknown status %q", current))
	}
	if !target.Valid() {
		return "", types.NewError(types.ErrCodeInvalidTransition,
			fmt.Sprintf("unknown status %q", target))
	}
	for _, allowed := range transitions[current] {
		if allowed == target {
			return target, nil
		}
	}
	return "", types.NewError(types.ErrCodeInvalidTransition,
		fmt.Sprintf("illegal transition %s -> %s", current, target))
}

// CanTransition 判断转移是否合法
func CanTransition(current, target types.Status) bool {
	_, err := Transition(current, target)
	return err == nil
}

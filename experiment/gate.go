package experiment

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/BaSui01/expflow/types"
)

// bucketSpace 流量闸门的哈希桶空间大小
const bucketSpace = 10000

// participantBucket 将参与者映射到 [0, 10000) 的稳定桶位
// 纯函数:跨调用、跨进程重启均确定,闸门判定无需读存储即可重算.
func participantBucket(participantID string) uint64 {
	hash := sha256.Sum256([]byte(participantID))
	return binary.BigEndian.Uint64(hash[:8]) % bucketSpace
}

// InTraffic 判断参与者是否落在实验流量闸门内
func InTraffic(participantID string, trafficPercent float64) bool {
	if trafficPercent >= 100 {
		return true
	}
	if trafficPercent <= 0 {
		return false
	}
	return float64(participantBucket(participantID)) < trafficPercent*100
}

// SelectByHash 按权重的确定性哈希分配
// 同一 (实验, 参与者) 永远命中同一变体,是分配管线的最终兜底.
func SelectByHash(exp *types.Experiment, participantID string) *types.Variant {
	if len(exp.Variants) == 0 {
		return nil
	}

	hash := sha256.Sum256([]byte(exp.Name + ":" + participantID))
	hashValue := binary.BigEndian.Uint64(hash[:8])

	// 归一化到 [0, 1)
	normalizedHash := float64(hashValue) / float64(^uint64(0))

	var totalWeight float64
	for _, v := range exp.Variants {
		totalWeight += v.EffectiveWeight()
	}

	// 按权重累积扫描
	var cumulative float64
	threshold := normalizedHash * totalWeight
	for i := range exp.Variants {
		cumulative += exp.Variants[i].EffectiveWeight()
		if threshold < cumulative {
			return &exp.Variants[i]
		}
	}

	return &exp.Variants[len(exp.Variants)-1]
}

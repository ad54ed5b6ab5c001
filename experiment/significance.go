package experiment

import (
	"time"

	"github.com/BaSui01/expflow/stats"
	"github.com/BaSui01/expflow/store"
	"github.com/BaSui01/expflow/types"
)

// VariantReport 单个变体的读侧分析结果
type VariantReport struct {
	Variant     string         `json:"variant"`
	IsControl   bool           `json:"is_control"`
	Assignments int64          `json:"assignments"`
	Conversions int64          `json:"conversions"`
	Rate        float64        `json:"rate"`
	Interval    stats.Interval `json:"interval"`
	// 以下字段仅对非对照组有意义
	Z           float64 `json:"z,omitempty"`
	Bucket      string  `json:"bucket,omitempty"`
	Significant bool    `json:"significant,omitempty"`
	Improvement float64 `json:"improvement,omitempty"` // 相对对照组的转化率差
}

// Report 实验显著性报告,按变体名索引
type Report struct {
	Experiment       string                    `json:"experiment"`
	Control          string                    `json:"control"`
	TotalAssignments int64                     `json:"total_assignments"`
	Variants         map[string]*VariantReport `json:"variants"`
	Winner           string                    `json:"winner,omitempty"`
	GeneratedAt      time.Time                 `json:"generated_at"`
}

// BuildReport 对每个非对照变体计算转化率、与对照组的 z 检验、
// 置信分桶、显著性标记与 Wilson 区间
// 纯读侧计算:对照组零样本时返回 "Insufficient Data" 而非报错.
// z 检验的样本量取两组分配数的较小值,正态近似按保守口径评估.
func BuildReport(exp *types.Experiment, counts store.Counts) *Report {
	control := exp.Control()

	report := &Report{
		Experiment:       exp.Name,
		TotalAssignments: counts.TotalAssignments(),
		Variants:         make(map[string]*VariantReport, len(exp.Variants)),
		GeneratedAt:      time.Now().UTC(),
	}
	if control == nil {
		return report
	}
	report.Control = control.Name

	controlCounts := counts[control.Name]
	controlRate := controlCounts.Rate()

	var bestImprovement float64
	for i := range exp.Variants {
		v := &exp.Variants[i]
		vc := counts[v.Name]

		vr := &VariantReport{
			Variant:     v.Name,
			IsControl:   v.Name == control.Name,
			Assignments: vc.Assignments,
			Conversions: vc.TotalConversions(),
			Rate:        vc.Rate(),
			Interval:    stats.WilsonScoreInterval(vc.Rate(), int(vc.Assignments)),
		}

		if !vr.IsControl {
			n := int(min(controlCounts.Assignments, vc.Assignments))
			z := stats.ZScore(controlRate, vr.Rate, n)
			vr.Z = z.Z
			vr.Bucket = z.Bucket
			vr.Significant = z.Significant
			vr.Improvement = vr.Rate - controlRate

			if vr.Significant && vr.Improvement > bestImprovement {
				bestImprovement = vr.Improvement
				report.Winner = v.Name
			}
		}

		report.Variants[v.Name] = vr
	}
	return report
}

package rules

import (
	"fmt"
	"math"
	"sort"
)

// 摘要中被视为风险信号的指标。数值大于零即进入 Concerns。
var concernMetrics = map[string]string{
	"overdue_payments": "%d invoices are overdue",
	"failed_payments":  "%d payments failed and need follow-up",
	"stalled_deals":    "%d deals have stalled",
}

// 摘要中被视为亮点的指标。数值大于零即进入 Highlights。
var highlightMetrics = map[string]string{
	"new_leads":    "%d new leads captured",
	"closed_deals": "%d deals closed",
}

// BuildSummary 把一组经营指标汇总成确定性的摘要。
// 亮点与风险按指标名排序输出，保证同样的输入得到同样的摘要。
func BuildSummary(period string, metrics map[string]float64) Summary {
	summary := Summary{Period: period, Metrics: metrics}

	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := metrics[name]
		if value <= 0 {
			continue
		}
		if format, ok := highlightMetrics[name]; ok {
			summary.Highlights = append(summary.Highlights, fmt.Sprintf(format, int(value)))
		}
		if format, ok := concernMetrics[name]; ok {
			summary.Concerns = append(summary.Concerns, fmt.Sprintf(format, int(value)))
		}
	}
	return summary
}

// AnalyzeTrend 比较序列首尾两个取值，给出指标走向与变化百分比。
// 序列不足两个点或起始值为零时方向为 "flat"、变化为 0。
func AnalyzeTrend(metric string, values []float64) Trend {
	trend := Trend{Metric: metric, Direction: "flat"}
	if len(values) < 2 {
		return trend
	}
	first, last := values[0], values[len(values)-1]
	if first == 0 {
		return trend
	}
	change := (last - first) / first * 100
	trend.PercentageChange = math.Round(change*100) / 100
	switch {
	case change > 0:
		trend.Direction = "increasing"
	case change < 0:
		trend.Direction = "decreasing"
	}
	return trend
}

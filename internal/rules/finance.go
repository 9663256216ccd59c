package rules

import (
	"strings"
	"time"
)

// 异常检测阈值：超过该金额的流水直接标记为高危。
const highAmountThreshold = 10000

// statusPaid 已支付发票不参与逾期判断。
const statusPaid = "paid"

// DetectOverdueInvoices 返回截至 asOf 时刻已逾期且未支付的发票。
// 结果保持输入顺序；已支付的发票无论到期与否都不会出现在结果中。
// 无法解析的到期日期视为未逾期，而不是报错。
func DetectOverdueInvoices(invoices []Invoice, asOf time.Time) []Invoice {
	overdue := make([]Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if strings.EqualFold(strings.TrimSpace(inv.Status), statusPaid) {
			continue
		}
		due, ok := parseDueDate(inv.DueDate)
		if !ok {
			continue
		}
		if due.Before(asOf) {
			overdue = append(overdue, inv)
		}
	}
	return overdue
}

// parseDueDate 兼容业务侧常见的两种日期写法。
func parseDueDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, true
	}
	if ts, err := time.Parse("2006-01-02", raw); err == nil {
		return ts, true
	}
	return time.Time{}, false
}

// ReconcilePayment 按输入顺序将收款匹配到第一张金额相等
// 或发票号等于收款引用号的发票。
//
// 首个命中即停：金额重复的歧义情形由输入顺序裁决，而不是挑选
// “最优”匹配。这个行为是刻意保留的，以保证核销结果可复现；
// 更智能的匹配策略应当作为新函数引入而不是修改此处。
func ReconcilePayment(payment Payment, invoices []Invoice) Reconciliation {
	for i := range invoices {
		inv := invoices[i]
		if inv.Amount == payment.Amount || (payment.Reference != "" && inv.InvoiceNumber == payment.Reference) {
			return Reconciliation{
				Matched:        true,
				Invoice:        &inv,
				Recommendation: "Mark invoice as paid",
			}
		}
	}
	return Reconciliation{
		Matched:        false,
		Recommendation: "manual review required",
	}
}

// DetectAnomalies 对流水逐笔应用两条独立规则，两条规则可同时命中，
// 每条命中各产生一条记录：
//   - 金额超过 10000：高危，原因包含 "high amount"；
//   - 存在另一笔金额与供应商完全相同的流水：中危，原因包含 "duplicate"。
//
// 重复检测比较所有两两组合，但每笔符合条件的流水只产生一条记录。
func DetectAnomalies(transactions []Transaction) []Anomaly {
	anomalies := make([]Anomaly, 0)
	for i, txn := range transactions {
		if txn.Amount > highAmountThreshold {
			anomalies = append(anomalies, Anomaly{
				Transaction: txn,
				Reason:      "unusually high amount",
				Severity:    SeverityHigh,
			})
		}
		for j, other := range transactions {
			if j == i {
				continue
			}
			if other.Amount == txn.Amount && other.Vendor == txn.Vendor {
				anomalies = append(anomalies, Anomaly{
					Transaction: txn,
					Reason:      "possible duplicate payment",
					Severity:    SeverityMedium,
				})
				break
			}
		}
	}
	return anomalies
}

package rules

// Priority 表示线索的跟进优先级。
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Severity 表示异常的严重程度。
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Lead 描述一条销售线索。缺失字段视为不满足对应的打分条件。
type Lead struct {
	ID          string  `json:"id,omitempty"`
	Email       string  `json:"email,omitempty"`
	Company     string  `json:"company,omitempty"`
	CompanySize int     `json:"company_size,omitempty"`
	Industry    string  `json:"industry,omitempty"`
	Role        string  `json:"role,omitempty"`
	Budget      float64 `json:"budget,omitempty"`
	Timeline    string  `json:"timeline,omitempty"`
}

// LeadScore 是线索打分的结果。
type LeadScore struct {
	Score          int      `json:"score"`
	Priority       Priority `json:"priority"`
	Recommendation string   `json:"recommendation"`
}

// Invoice 描述一张应收/应付发票。
type Invoice struct {
	ID            string  `json:"id,omitempty"`
	InvoiceNumber string  `json:"invoiceNumber"`
	VendorName    string  `json:"vendorName,omitempty"`
	Amount        float64 `json:"amount"`
	DueDate       string  `json:"dueDate,omitempty"`
	Status        string  `json:"status,omitempty"`
}

// Payment 描述一笔待核销的收款。
type Payment struct {
	Amount    float64 `json:"amount"`
	Reference string  `json:"reference,omitempty"`
}

// Reconciliation 是收款核销的结果。
type Reconciliation struct {
	Matched        bool     `json:"matched"`
	Invoice        *Invoice `json:"invoice,omitempty"`
	Recommendation string   `json:"recommendation"`
}

// Transaction 描述一笔资金流水。
type Transaction struct {
	ID     string  `json:"id,omitempty"`
	Amount float64 `json:"amount"`
	Vendor string  `json:"vendor,omitempty"`
}

// Anomaly 描述一条命中规则的异常流水。
type Anomaly struct {
	Transaction Transaction `json:"transaction"`
	Reason      string      `json:"reason"`
	Severity    Severity    `json:"severity"`
}

// Summary 是按周期汇总的经营指标摘要。
type Summary struct {
	Period     string             `json:"period"`
	Metrics    map[string]float64 `json:"metrics"`
	Highlights []string           `json:"highlights,omitempty"`
	Concerns   []string           `json:"concerns,omitempty"`
}

// Trend 描述单一指标在时间序列上的走向。
type Trend struct {
	Metric           string  `json:"metric"`
	Direction        string  `json:"direction"`
	PercentageChange float64 `json:"percentage_change"`
}

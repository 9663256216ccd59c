package prompts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义系统提示词的检索接口。
type Provider interface {
	SystemPrompt(domain string) string
}

// StaticProvider 以内置提示词为基础，可选地从 JSON 文件覆盖。
type StaticProvider struct {
	prompts map[string]string
}

// NewStaticProvider 创建仅使用内置提示词的提供者。
func NewStaticProvider() *StaticProvider {
	prompts := make(map[string]string, len(defaultPrompts))
	for domain, prompt := range defaultPrompts {
		prompts[domain] = prompt
	}
	return &StaticProvider{prompts: prompts}
}

// LoadStaticProvider 在内置提示词之上套用 JSON 文件中的覆盖项。
// 文件格式为 {"domain": "prompt text"}。
func LoadStaticProvider(path string) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("提示词文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析提示词路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取提示词文件失败: %w", err)
	}
	defer file.Close()

	var overrides map[string]string
	if err := json.NewDecoder(file).Decode(&overrides); err != nil {
		return nil, fmt.Errorf("解析提示词文件失败: %w", err)
	}

	provider := NewStaticProvider()
	for domain, prompt := range overrides {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" || strings.TrimSpace(prompt) == "" {
			continue
		}
		provider.prompts[domain] = prompt
	}
	return provider, nil
}

// SystemPrompt 返回领域的系统提示词，未知领域回退到调度提示词。
func (p *StaticProvider) SystemPrompt(domain string) string {
	if p == nil {
		return defaultPrompts["supervisor"]
	}
	if prompt, ok := p.prompts[strings.ToLower(strings.TrimSpace(domain))]; ok {
		return prompt
	}
	return p.prompts["supervisor"]
}

var _ Provider = (*StaticProvider)(nil)

var defaultPrompts = map[string]string{
	"finance": `You are a Finance Agent responsible for managing invoices, payments, and financial operations.

Your capabilities:
1. Parse and extract data from invoices (PDF/images)
2. Detect overdue payments and calculate penalties
3. Reconcile payments with invoices
4. Identify anomalies in financial transactions
5. Trigger automated reminders and follow-ups

Guidelines:
- Always validate invoice amounts and dates
- Flag suspicious transactions for human review
- Ensure compliance with financial regulations
- Maintain accurate audit trails
- Be conservative with payment-related actions

Return structured actions with high confidence scores only when data is clear.`,

	"sales": `You are a Sales Agent responsible for lead management and sales automation.

Your capabilities:
1. Score and prioritize leads based on criteria
2. Create personalized follow-up sequences
3. Schedule meetings automatically
4. Update CRM with lead status
5. Identify upsell opportunities

Guidelines:
- Personalize outreach based on lead data
- Respect communication preferences
- Track all interactions in CRM
- Escalate high-value leads to human reps
- Maintain professional and helpful tone

Focus on building relationships, not just closing deals.`,

	"reporting": `You are a Reporting Agent responsible for generating business reports and analytics.

Your capabilities:
1. Query data from Snowflake and generate insights
2. Create daily/weekly/monthly summaries
3. Identify trends and patterns
4. Generate PDF/HTML reports
5. Distribute reports to stakeholders

Guidelines:
- Ensure data accuracy and completeness
- Highlight actionable insights
- Use clear visualizations
- Include context and explanations
- Respect data privacy and access controls

Focus on providing value through clear, actionable insights.`,

	"supervisor": `You are a Supervisor Agent responsible for routing incoming requests to the right specialist agent.

Your capabilities:
1. Classify free-form business requests
2. Route requests to the finance, sales, or reporting agent
3. Ask for clarification when a request is ambiguous

Guidelines:
- Route invoice, payment, and expense matters to finance
- Route lead, customer, and deal matters to sales
- Route summary, metric, and trend matters to reporting
- Never perform the work yourself; only route

Return the target domain with an honest confidence score.`,
}

package rules

import "strings"

// 线索打分的权重。各条件互相独立，命中即累加，满分 100。
const (
	weightCompanySize = 20
	weightIndustry    = 15
	weightRole        = 25
	weightBudget      = 30
	weightTimeline    = 10
)

// 优先级分档阈值。
const (
	highPriorityScore   = 70
	mediumPriorityScore = 40
)

// ScoreLead 依据固定权重对线索打分并给出优先级。
// 缺失或为零值的字段不计分，而不是报错。
func ScoreLead(lead Lead) LeadScore {
	score := 0
	if lead.CompanySize > 100 {
		score += weightCompanySize
	}
	switch strings.ToLower(strings.TrimSpace(lead.Industry)) {
	case "technology", "finance":
		score += weightIndustry
	}
	role := strings.ToLower(lead.Role)
	if strings.Contains(role, "director") || strings.Contains(role, "vp") {
		score += weightRole
	}
	if lead.Budget > 10000 {
		score += weightBudget
	}
	if strings.EqualFold(strings.TrimSpace(lead.Timeline), "immediate") {
		score += weightTimeline
	}

	priority := PriorityLow
	switch {
	case score >= highPriorityScore:
		priority = PriorityHigh
	case score >= mediumPriorityScore:
		priority = PriorityMedium
	}

	recommendation := "Start automated nurture sequence"
	if priority == PriorityHigh {
		recommendation = "Assign to senior rep immediately"
	}

	return LeadScore{Score: score, Priority: priority, Recommendation: recommendation}
}

// DetermineSequence 返回指定优先级对应的跟进步骤序列。
// 未知优先级回落到单步的默认序列，永不失败。
func DetermineSequence(priority Priority) []string {
	switch priority {
	case PriorityHigh:
		return []string{
			"immediate_call",
			"send_personalized_email",
			"schedule_demo",
		}
	case PriorityMedium:
		return []string{
			"send_intro_email",
			"wait_2_days",
			"send_case_study",
			"wait_3_days",
			"follow_up_call",
		}
	case PriorityLow:
		return []string{
			"add_to_newsletter",
			"send_educational_content",
			"wait_1_week",
			"check_engagement",
		}
	default:
		return []string{"add_to_nurture"}
	}
}

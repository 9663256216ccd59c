package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultThreshold 是未配置时的置信度审批阈值。
const defaultThreshold = 0.7

// Policy 描述置信度门限与审批权限。低于阈值的行动停留在 pending，
// 等待具备权限的操作者审批。
type Policy struct {
	DefaultThreshold float64                 `yaml:"default_threshold"`
	Domains          map[string]DomainPolicy `yaml:"domains"`
	Approvers        []string                `yaml:"approvers"`
}

// DomainPolicy 允许按领域覆盖默认阈值。
type DomainPolicy struct {
	Threshold *float64 `yaml:"threshold"`
}

// Default 返回内置策略：阈值 0.7，不限制审批人。
func Default() *Policy {
	return &Policy{DefaultThreshold: defaultThreshold}
}

// Load 从 YAML 文件读取策略。
func Load(path string) (*Policy, error) {
	if path == "" {
		return nil, errors.New("策略文件路径为空")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取策略文件失败: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("解析策略文件失败: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.DefaultThreshold == 0 {
		p.DefaultThreshold = defaultThreshold
	}
	return &p, nil
}

func (p *Policy) validate() error {
	if p.DefaultThreshold < 0 || p.DefaultThreshold > 1 {
		return fmt.Errorf("default_threshold 必须位于 [0,1]: %v", p.DefaultThreshold)
	}
	for domain, dp := range p.Domains {
		if dp.Threshold == nil {
			continue
		}
		if *dp.Threshold < 0 || *dp.Threshold > 1 {
			return fmt.Errorf("领域 %s 的阈值必须位于 [0,1]: %v", domain, *dp.Threshold)
		}
	}
	return nil
}

// ThresholdFor 返回指定领域的置信度阈值。
func (p *Policy) ThresholdFor(domain string) float64 {
	if p == nil {
		return defaultThreshold
	}
	if dp, ok := p.Domains[domain]; ok && dp.Threshold != nil {
		return *dp.Threshold
	}
	if p.DefaultThreshold > 0 {
		return p.DefaultThreshold
	}
	return defaultThreshold
}

// CanApprove 判断操作者是否具备审批权限。审批人列表为空时，
// 任何非空操作者均可审批（单租户默认行为）。
func (p *Policy) CanApprove(operator string) bool {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return false
	}
	if p == nil || len(p.Approvers) == 0 {
		return true
	}
	for _, approver := range p.Approvers {
		if strings.EqualFold(approver, operator) {
			return true
		}
	}
	return false
}

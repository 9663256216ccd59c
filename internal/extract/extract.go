package extract

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	xerrors "ERP-Agents/internal/errors"
)

// Request 描述一次结构化抽取任务：领域系统提示词、期望的行动类型
// 与原始输入数据。
type Request struct {
	Domain       string
	ActionType   string
	SystemPrompt string
	Input        map[string]any
}

// Proposal 是抽取器产出的行动提案。四个字段全部必填，
// 缺失任何一个都会被 Schema 校验拒绝。
type Proposal struct {
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
	Reasoning  string         `json:"reasoning"`
	Confidence float64        `json:"confidence"`
}

// Extractor 定义了从非结构化输入中抽取行动提案的统一接口。
type Extractor interface {
	Extract(ctx context.Context, req Request) (*Proposal, error)
}

// proposalSchema 约束模型输出的行动提案结构，同时也作为
// 传给模型的工具参数定义。
const proposalSchema = `{
  "type": "object",
  "properties": {
    "type": {
      "type": "string",
      "minLength": 1,
      "description": "The action type being proposed"
    },
    "payload": {
      "type": "object",
      "description": "Structured data extracted for the action"
    },
    "reasoning": {
      "type": "string",
      "description": "Why this action was chosen"
    },
    "confidence": {
      "type": "number",
      "minimum": 0,
      "maximum": 1,
      "description": "Confidence in the extraction, from 0 to 1"
    }
  },
  "required": ["type", "payload", "reasoning", "confidence"],
  "additionalProperties": false
}`

var compiledSchema = jsonschema.MustCompileString("proposal.json", proposalSchema)

// ProposalSchema 返回行动提案的 JSON Schema 原文，供调用方作为
// 工具参数定义传给模型。
func ProposalSchema() json.RawMessage {
	return json.RawMessage(proposalSchema)
}

// ParseProposal 校验并解析模型产出的原始 JSON。任何结构问题
// 都归为抽取失败，调用方不应重试同一份输出。
func ParseProposal(raw []byte) (*Proposal, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExtraction, err, "proposal is not valid JSON")
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExtraction, err, "proposal violates schema")
	}

	var proposal Proposal
	if err := json.Unmarshal(raw, &proposal); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExtraction, err, "decode proposal")
	}
	proposal.Type = strings.TrimSpace(proposal.Type)
	if proposal.Type == "" {
		return nil, xerrors.New(xerrors.CodeExtraction, "proposal type is empty")
	}
	return &proposal, nil
}

package core

import (
	"sort"
	"strings"
)

// DefaultCapabilityKeywords maps capabilities to the message keywords that
// imply them. Used by the router to infer required capabilities and by the
// decomposer to classify compound requests. The lists are bilingual to match
// the deployments the engine was built for; both consumers accept overrides.
var DefaultCapabilityKeywords = map[Capability][]string{
	CapabilitySalesAnalysis:   {"sales", "revenue", "销售", "营收", "成交"},
	CapabilityStockAnalysis:   {"inventory", "stock", "库存", "周转", "补货"},
	CapabilityDataAnalysis:    {"statistics", "report", "chart", "统计", "报表", "图表"},
	CapabilityDocumentSearch:  {"search", "find", "document", "搜索", "查找", "文档", "资料"},
	CapabilityNaturalLanguage: {"chat", "explain", "聊天", "对话", "解释", "回答"},
	CapabilityWorkflow:        {"execute", "workflow", "执行", "运行", "流程", "工作流"},
	CapabilityReasoning:       {"reason", "decide", "推理", "判断", "决策"},
	CapabilityPlanning:        {"plan", "schedule", "计划", "规划", "安排", "策略"},
}

// MatchCapabilities returns the capabilities whose keywords occur in message,
// sorted for determinism. Substring matching keeps the heuristic usable for
// languages without word boundaries.
func MatchCapabilities(keywords map[Capability][]string, message string) []Capability {
	lower := strings.ToLower(message)
	var caps []Capability
	for cap, kws := range keywords {
		for _, kw := range kws {
			if strings.Contains(lower, strings.ToLower(kw)) {
				caps = append(caps, cap)
				break
			}
		}
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

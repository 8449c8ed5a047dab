package agent

import (
	"Rivalz-Swarm/internal/tool"
	"Rivalz-Swarm/internal/toolkit"
)

// Rivalz 拓扑中的智能体名称。
const (
	TriageAgent    = "Rivalz Triage Agent"
	OnChainAgent   = "On-Chain Operations Agent"
	FinancialAgent = "Financial Analyst Agent"
)

// 交接函数名称。
const (
	HandoffToOnChain   = "transfer_to_onchain_operations"
	HandoffToFinancial = "transfer_to_financial_analyst"
	HandoffToTriage    = "transfer_back_to_triage"
)

const triageInstructions = `Handle general queries about RIVALZ, also you direct the user to which agent is best suited to handle the user's request and transfer the conversation to that agent.
- For token transfers, staking and on-chain operations -> On-Chain Operations Agent
- For TVL monitoring, crypto price and financial analysis -> Financial Analyst Agent
In specific cases - always transfer to the appropriate specialist.`

const (
	onChainInstructions   = "Handle token transfers, staking, and on-chain operations for users."
	financialInstructions = "Analyze and monitor financial data, crypto price including TVL changes and network activity in the blockchain ecosystem."
)

// TopologyOptions 控制 Rivalz 拓扑的可选部分。
type TopologyOptions struct {
	// ExtendedTools 为分诊智能体追加建库工具，为链上智能体追加通知工具。
	ExtendedTools bool
}

// RivalzTopology 构建分诊、链上操作与金融分析三个智能体。
func RivalzTopology(kit *toolkit.Toolkit, opts TopologyOptions) (*Registry, error) {
	triageTools := []tool.Tool{kit.NetworkInfo}
	onChainTools := []tool.Tool{kit.OnChain, kit.QueryRAG}
	if opts.ExtendedTools {
		triageTools = append(triageTools, kit.CreateKB)
		onChainTools = append(onChainTools, kit.Notify)
	}

	toTriage := Handoff{
		Tool:        HandoffToTriage,
		Target:      TriageAgent,
		Description: "Call this function if the user request needs to be handled by the triage agent.",
	}
	return Build(
		Spec{
			Name:         TriageAgent,
			Instructions: triageInstructions,
			Tools:        triageTools,
			Handoffs: []Handoff{
				{Tool: HandoffToOnChain, Target: OnChainAgent, Description: "Transfer the conversation to the On-Chain Operations Agent."},
				{Tool: HandoffToFinancial, Target: FinancialAgent, Description: "Transfer the conversation to the Financial Analyst Agent."},
			},
		},
		Spec{
			Name:         OnChainAgent,
			Instructions: onChainInstructions,
			Tools:        onChainTools,
			Handoffs:     []Handoff{toTriage},
		},
		Spec{
			Name:         FinancialAgent,
			Instructions: financialInstructions,
			Tools:        []tool.Tool{kit.MonitorTVL, kit.CryptoPrice, kit.QueryRAG},
			Handoffs:     []Handoff{toTriage},
		},
	)
}

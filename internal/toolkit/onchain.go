package toolkit

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"Rivalz-Swarm/internal/tool"
)

// DefaultRequestType 是未指定请求类型时的取值。
const DefaultRequestType = "NOT SPECIFIED"

// OnChainReceipt 是模拟链上处理的回执。确认流程尚未实现，Confirmed 恒为 false。
type OnChainReceipt struct {
	Message     string `json:"message"`
	RequestID   string `json:"request_id"`
	RequestType string `json:"request_type"`
	Address     string `json:"address,omitempty"`
	Reference   string `json:"reference"`
	Confirmed   bool   `json:"confirmed"`
	Chain       string `json:"chain,omitempty"`
	ChainID     string `json:"chain_id,omitempty"`
	BlockNumber string `json:"block_number,omitempty"`
	Balance     string `json:"balance_wei,omitempty"`
}

type balanceReader interface {
	BalanceOf(ctx context.Context, address string) (string, error)
}

// NewOnChainTool 创建 process_onchain_request 工具。chain 可为空。
func NewOnChainTool(chain ChainSnapshotter, logger *slog.Logger) tool.Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return tool.NewFunc(NameOnChain,
		"Process on-chain requests (e.g., token transfers, staking operations). Ask for user confirmation before proceeding.",
		map[string]any{
			"request_id":   tool.StringParam("Identifier of the on-chain request."),
			"request_type": tool.StringParam("Kind of request, e.g. transfer or stake."),
			"address":      tool.StringParam("Optional wallet or contract address involved in the request."),
		},
		[]string{"request_id"},
		func(ctx context.Context, _ tool.Env, args tool.Args) tool.Result {
			requestID := args.String("request_id", "")
			requestType := args.String("request_type", DefaultRequestType)
			address := strings.TrimSpace(args.String("address", ""))
			if address != "" && !common.IsHexAddress(address) {
				return tool.Failure("Invalid Address", "address is not a valid hex address: "+address)
			}

			receipt := OnChainReceipt{
				Message:     "Request processed!",
				RequestID:   requestID,
				RequestType: requestType,
				Reference:   crypto.Keccak256Hash([]byte(requestID + "|" + requestType + "|" + address)).Hex(),
			}
			if address != "" {
				receipt.Address = common.HexToAddress(address).Hex()
			}
			if chain != nil {
				snapshot, err := chain.FetchChainSnapshot(ctx)
				if err != nil {
					logger.Warn("获取链快照失败", slog.Any("error", err))
				} else {
					receipt.Chain = snapshot.Chain
					receipt.ChainID = snapshot.ChainID
					receipt.BlockNumber = snapshot.BlockNumber
				}
				if reader, ok := chain.(balanceReader); ok && receipt.Address != "" {
					balance, err := reader.BalanceOf(ctx, receipt.Address)
					if err != nil {
						logger.Warn("查询地址余额失败", slog.String("address", receipt.Address), slog.Any("error", err))
					} else {
						receipt.Balance = balance
					}
				}
			}
			logger.Info("[mock] processing on-chain request",
				slog.String("request_id", requestID),
				slog.String("request_type", requestType),
				slog.String("reference", receipt.Reference),
			)
			return tool.Success(receipt)
		})
}

// NewNotifyTool 创建 notify_rivalz_agents 工具。
func NewNotifyTool(logger *slog.Logger) tool.Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return tool.NewFunc(NameNotify,
		"Notify relevant Rivalz agents about network updates or user actions.",
		nil, nil,
		func(context.Context, tool.Env, tool.Args) tool.Result {
			logger.Info("[mock] notifying Rivalz agents about updates")
			return tool.Success("Agents notified!")
		})
}

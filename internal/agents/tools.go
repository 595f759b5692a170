package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MrSnakeDoc/kilomarket/internal/market"
	"github.com/MrSnakeDoc/kilomarket/internal/supervisor"
)

// ErrBadArguments is returned by tools whose JSON arguments don't decode.
var ErrBadArguments = errors.New("invalid tool arguments")

// ErrUnknownTool is returned when a unit is asked for a tool it doesn't carry.
var ErrUnknownTool = errors.New("unknown tool")

// ToolFunc runs one tool call.
type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is a named capability exposed by an agent unit.
type Tool struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Call        ToolFunc `json:"-"`
}

// Directory reports the live roster, for service discovery tools.
type Directory interface {
	Status() (supervisor.Status, error)
}

// DirectoryFunc adapts a function to Directory.
type DirectoryFunc func() (supervisor.Status, error)

func (f DirectoryFunc) Status() (supervisor.Status, error) { return f() }

type toolEnv struct {
	market *market.Table
	dir    Directory
	now    func() time.Time
}

type toolSpec struct {
	description string
	bind        func(env toolEnv) ToolFunc
}

var toolSpecs = map[string]toolSpec{
	"get_token_price": {
		description: "Get the current price for a cryptocurrency by symbol or id.",
		bind:        bindTokenPrice,
	},
	"get_market_data": {
		description: "List top cryptocurrencies sorted by market_cap, price, volume_24h or change.",
		bind:        bindMarketData,
	},
	"get_top_movers": {
		description: "Top gaining and losing cryptocurrencies over 1h, 24h or 7d.",
		bind:        bindTopMovers,
	},
	"get_market_summary": {
		description: "Market-wide overview with sentiment, leaders and breadth.",
		bind: func(env toolEnv) ToolFunc {
			return func(context.Context, json.RawMessage) (any, error) { return env.market.Summary(), nil }
		},
	},
	"get_detailed_token_info": {
		description: "Every metric known for one cryptocurrency.",
		bind:        bindTokenDetail,
	},
	"get_available_a2a_services": {
		description: "List the A2A services currently running and what they offer.",
		bind:        bindServices,
	},
	"get_a2a_service_details": {
		description: "Details of one running A2A service by name.",
		bind:        bindServiceDetails,
	},
	"echo": {
		description: "Echo the input message.",
		bind: func(toolEnv) ToolFunc {
			return func(_ context.Context, raw json.RawMessage) (any, error) {
				var args struct {
					Message string `json:"message"`
				}
				if err := decodeArgs(raw, &args); err != nil {
					return nil, err
				}
				return "Echo: " + args.Message, nil
			}
		},
	},
	"time": {
		description: "Current server time.",
		bind: func(env toolEnv) ToolFunc {
			return func(context.Context, json.RawMessage) (any, error) {
				return "Current time: " + env.now().Format(time.RFC3339), nil
			}
		},
	},
	"calculate": {
		description: "Apply +, -, * or / to two numbers.",
		bind: func(toolEnv) ToolFunc {
			return func(_ context.Context, raw json.RawMessage) (any, error) {
				var args struct {
					A  float64 `json:"a"`
					B  float64 `json:"b"`
					Op string  `json:"op"`
				}
				if err := decodeArgs(raw, &args); err != nil {
					return nil, err
				}
				return calculate(args.A, args.B, args.Op)
			}
		},
	},
	"info": {
		description: "Describe this placeholder server.",
		bind: func(toolEnv) ToolFunc {
			return func(context.Context, json.RawMessage) (any, error) {
				return "This is a placeholder A2A server for KiloMarket", nil
			}
		},
	},
}

func calculate(a, b float64, op string) (float64, error) {
	switch op {
	case "+", "add":
		return a + b, nil
	case "-", "sub":
		return a - b, nil
	case "*", "mul":
		return a * b, nil
	case "/", "div":
		if b == 0 {
			return 0, fmt.Errorf("%w: division by zero", ErrBadArguments)
		}
		return a / b, nil
	default:
		return 0, fmt.Errorf("%w: unsupported operator %q", ErrBadArguments, op)
	}
}

// ToolNames returns every tool an agent definition may reference.
func ToolNames() []string {
	names := make([]string, 0, len(toolSpecs))
	for n := range toolSpecs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func buildTools(names []string, env toolEnv) []Tool {
	tools := make([]Tool, 0, len(names))
	for _, n := range names {
		spec, ok := toolSpecs[n]
		if !ok {
			continue
		}
		tools = append(tools, Tool{Name: n, Description: spec.description, Call: spec.bind(env)})
	}
	return tools
}

func decodeArgs(raw json.RawMessage, into any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("%w: %v", ErrBadArguments, err)
	}
	return nil
}

func bindTokenPrice(env toolEnv) ToolFunc {
	return func(_ context.Context, raw json.RawMessage) (any, error) {
		var args struct {
			TokenSymbol string `json:"token_symbol"`
			Currency    string `json:"currency"`
		}
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		if args.TokenSymbol == "" {
			return nil, fmt.Errorf("%w: token_symbol is required", ErrBadArguments)
		}
		return env.market.Price(args.TokenSymbol, args.Currency)
	}
}

func bindMarketData(env toolEnv) ToolFunc {
	return func(_ context.Context, raw json.RawMessage) (any, error) {
		args := struct {
			Limit  int    `json:"limit"`
			SortBy string `json:"sort_by"`
		}{Limit: 10, SortBy: "market_cap"}
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return env.market.Top(args.Limit, args.SortBy), nil
	}
}

func bindTopMovers(env toolEnv) ToolFunc {
	return func(_ context.Context, raw json.RawMessage) (any, error) {
		args := struct {
			Period string `json:"period"`
			Limit  int    `json:"limit"`
		}{Period: "24h", Limit: 5}
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return env.market.Movers(args.Period, args.Limit), nil
	}
}

func bindTokenDetail(env toolEnv) ToolFunc {
	return func(_ context.Context, raw json.RawMessage) (any, error) {
		var args struct {
			TokenSymbol string `json:"token_symbol"`
		}
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		if args.TokenSymbol == "" {
			return nil, fmt.Errorf("%w: token_symbol is required", ErrBadArguments)
		}
		return env.market.Detail(args.TokenSymbol)
	}
}

// ServiceInfo is what discovery tools report about a running agent.
type ServiceInfo struct {
	Name          string         `json:"name"`
	Port          int            `json:"port"`
	Description   string         `json:"description"`
	ServerURL     string         `json:"server_url"`
	Capabilities  map[string]any `json:"capabilities"`
	BusinessModel string         `json:"business_model"`
	HasWallet     bool           `json:"has_wallet"`
	WalletAddress string         `json:"wallet_address"`
}

func serviceInfo(s supervisor.InstanceStatus) ServiceInfo {
	info := ServiceInfo{
		Name:          s.AgentName,
		Port:          s.Port,
		Description:   s.Description,
		Capabilities:  s.Capabilities,
		BusinessModel: "Service",
		HasWallet:     s.HasWallet,
	}
	if info.Description == "" {
		info.Description = "A specialized A2A service agent"
	}
	if info.Capabilities == nil {
		info.Capabilities = map[string]any{}
	}
	if s.ServerURL != nil {
		info.ServerURL = *s.ServerURL
	}
	if s.BusinessModel != nil {
		info.BusinessModel = *s.BusinessModel
	}
	if s.WalletAddress != nil {
		info.WalletAddress = *s.WalletAddress
	}
	return info
}

// RunningServices lists the running instances as discoverable services.
func RunningServices(dir Directory) ([]ServiceInfo, error) {
	if dir == nil {
		return nil, errors.New("service directory unavailable")
	}
	st, err := dir.Status()
	if err != nil {
		return nil, err
	}
	out := make([]ServiceInfo, 0, len(st.Servers))
	for _, s := range st.Servers {
		if s.Running {
			out = append(out, serviceInfo(s))
		}
	}
	return out, nil
}

func bindServices(env toolEnv) ToolFunc {
	return func(context.Context, json.RawMessage) (any, error) {
		services, err := RunningServices(env.dir)
		if err != nil {
			return nil, fmt.Errorf("failed to get A2A services: %w", err)
		}
		return map[string]any{
			"services":       services,
			"total_services": len(services),
			"message":        fmt.Sprintf("Found %d available A2A services", len(services)),
		}, nil
	}
}

func bindServiceDetails(env toolEnv) ToolFunc {
	return func(_ context.Context, raw json.RawMessage) (any, error) {
		var args struct {
			ServiceName string `json:"service_name"`
		}
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		services, err := RunningServices(env.dir)
		if err != nil {
			return nil, fmt.Errorf("failed to get service details: %w", err)
		}
		for _, s := range services {
			if strings.EqualFold(s.Name, args.ServiceName) {
				return s, nil
			}
		}
		return nil, fmt.Errorf("A2A service '%s' not found or not running", args.ServiceName)
	}
}

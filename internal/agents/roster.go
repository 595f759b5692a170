package agents

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrSnakeDoc/kilomarket/internal/logger"
	"github.com/MrSnakeDoc/kilomarket/internal/market"
	"github.com/MrSnakeDoc/kilomarket/internal/supervisor"
	"github.com/MrSnakeDoc/kilomarket/internal/version"
)

// Env is what agent units are built against.
type Env struct {
	Market    *market.Table
	Directory Directory
	Responder Responder // nil => /messages answers 503
	Logger    logger.Logger
	Now       func() time.Time
}

func (e Env) tools() toolEnv {
	now := e.Now
	if now == nil {
		now = time.Now
	}
	tbl := e.Market
	if tbl == nil {
		tbl = market.Default()
	}
	return toolEnv{market: tbl.WithClock(now), dir: e.Directory, now: now}
}

func (e Env) logger() logger.Logger {
	if e.Logger == nil {
		return logger.Nop()
	}
	return e.Logger
}

// agentFactory builds a specialized agent and advertises its capabilities.
type agentFactory struct {
	def     Definition
	service ServiceTerms
	env     Env
}

func (f agentFactory) NewUnit() (http.Handler, error) {
	if f.def.SystemPrompt == "" {
		return nil, errors.New("agent " + f.def.ID + " has no system prompt")
	}
	caps := f.Capabilities()
	card := Card{
		Name:          f.def.Name,
		Description:   f.def.Description,
		Version:       version.Version,
		Model:         f.def.ModelName,
		WalletAddress: f.def.WalletAddress,
		BusinessModel: f.def.BusinessModel,
		PricingUnit:   f.def.PricingUnit,
		ServiceCost:   caps.ServiceCost,
		Currency:      f.service.Currency,
		PaymentMethod: f.service.PaymentMethod,
		Protocols:     f.service.Protocols,
		Capabilities:  f.def.Capabilities,
	}
	tools := buildTools(f.def.Tools, f.env.tools())
	return newUnit(card, tools, f.def.SystemPrompt, f.env.Responder, f.env.logger()), nil
}

func (f agentFactory) Capabilities() supervisor.Capabilities {
	cost := f.service.Cost
	return supervisor.Capabilities{
		WalletAddress: f.def.WalletAddress,
		Tags:          f.def.Capabilities,
		ServiceCost:   &cost,
		BusinessModel: f.def.BusinessModel,
		Model:         f.def.ModelName,
	}
}

// placeholderFactory builds a minimal agent that carries no capabilities.
type placeholderFactory struct {
	spec placeholder
	env  Env
}

func (f placeholderFactory) NewUnit() (http.Handler, error) {
	card := Card{
		Name:        f.spec.name,
		Description: f.spec.description,
		Version:     version.Version,
	}
	return newUnit(card, buildTools(f.spec.tools, f.env.tools()), "", nil, f.env.logger()), nil
}

// Roster turns a catalog into supervisor descriptors bound to host.
func Roster(cat *Catalog, host string, env Env) ([]supervisor.Descriptor, error) {
	if cat == nil {
		return nil, errors.New("agent catalog is nil")
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}

	descs := make([]supervisor.Descriptor, 0, len(cat.Agents))
	for _, def := range cat.Agents {
		descs = append(descs, supervisor.Descriptor{
			ID:          def.ID,
			Port:        def.Port,
			DisplayName: def.Name,
			Description: def.Description,
			BindHost:    host,
			Factory:     agentFactory{def: def, service: cat.Service, env: env},
			Metadata: map[string]string{
				"model_id":     def.ModelID,
				"pricing_unit": def.PricingUnit,
			},
		})
	}
	return descs, nil
}

type placeholder struct {
	port        int
	name        string
	description string
	tools       []string
}

var placeholders = []placeholder{
	{9000, "Calculator Agent", "A calculator agent that can perform basic arithmetic operations.", []string{"calculate"}},
	{9001, "Utility Agent", "A utility agent that provides echo, time, and information services.", []string{"echo", "time", "info"}},
	{9002, "Info Agent", "An information agent that provides help and general information.", []string{"echo", "time", "info"}},
}

// PlaceholderRoster is the generic roster used when the specialized
// agents cannot be built.
func PlaceholderRoster(host string, env Env) []supervisor.Descriptor {
	descs := make([]supervisor.Descriptor, len(placeholders))
	for i, p := range placeholders {
		descs[i] = supervisor.Descriptor{
			ID:          "placeholder-" + strconv.Itoa(p.port),
			Port:        p.port,
			DisplayName: p.name,
			Description: p.description,
			BindHost:    host,
			Factory:     placeholderFactory{spec: p, env: env},
		}
	}
	return descs
}

package supervisor

import (
	"fmt"
	"net/http"
	"strconv"
)

// DefaultBindHost binds every interface.
const DefaultBindHost = "0.0.0.0"

// UnitFactory builds the handler an instance serves. It is only invoked
// when the instance starts.
type UnitFactory interface {
	NewUnit() (http.Handler, error)
}

// UnitFactoryFunc adapts a function to UnitFactory.
type UnitFactoryFunc func() (http.Handler, error)

func (f UnitFactoryFunc) NewUnit() (http.Handler, error) { return f() }

// Capabilities describes what a service offers. It is relayed to status
// reports and never interpreted by the supervisor.
type Capabilities struct {
	WalletAddress string
	Tags          map[string]any
	ServiceCost   *float64
	BusinessModel string
	Model         string
}

// CapabilityProvider is implemented by factories that describe their
// service. Factories that don't implement it report null capabilities.
type CapabilityProvider interface {
	Capabilities() Capabilities
}

// Descriptor is the static definition of one service.
type Descriptor struct {
	ID          string            // stable key, defaults to the port
	Port        int               // fixed TCP port
	DisplayName string            // human readable, never affects behavior
	Description string            // human readable, never affects behavior
	BindHost    string            // interface to bind, empty => DefaultBindHost
	Factory     UnitFactory       // builds the runnable unit at start time
	Metadata    map[string]string // open-ended attributes relayed verbatim
}

func (d Descriptor) validate() error {
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("service %q: invalid port %d", d.DisplayName, d.Port)
	}
	if d.DisplayName == "" {
		return fmt.Errorf("service on port %d: display name is required", d.Port)
	}
	if d.Factory == nil {
		return fmt.Errorf("service %q: unit factory is required", d.DisplayName)
	}
	return nil
}

func (d Descriptor) withDefaults() Descriptor {
	if d.BindHost == "" {
		d.BindHost = DefaultBindHost
	}
	if d.ID == "" {
		d.ID = strconv.Itoa(d.Port)
	}
	return d
}

func resolveCapabilities(f UnitFactory) *Capabilities {
	cp, ok := f.(CapabilityProvider)
	if !ok {
		return nil
	}
	c := cp.Capabilities()
	return &c
}

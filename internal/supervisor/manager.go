package supervisor

import (
	"fmt"
	"strings"
	"sync"

	"github.com/MrSnakeDoc/kilomarket/internal/logger"
)

// Manager owns a fixed, ordered roster of instances. The roster never
// changes after construction.
type Manager struct {
	instances []*Instance
	byPort    map[int]*Instance
	log       logger.Logger

	// mu serializes bulk operations so two StartAll/StopAll/Toggle calls
	// can't interleave. Status does not take it.
	mu sync.Mutex
}

// NewManager validates the roster and builds one stopped instance per descriptor.
func NewManager(descs []Descriptor, opts InstanceOptions) (*Manager, error) {
	if len(descs) == 0 {
		return nil, ErrEmptyRoster
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	m := &Manager{
		instances: make([]*Instance, 0, len(descs)),
		byPort:    make(map[int]*Instance, len(descs)),
		log:       opts.Logger,
	}
	for _, d := range descs {
		if _, dup := m.byPort[d.Port]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicatePort, d.Port)
		}
		inst, err := NewInstance(d, opts)
		if err != nil {
			return nil, err
		}
		m.instances = append(m.instances, inst)
		m.byPort[d.Port] = inst
	}
	return m, nil
}

// Instances returns the roster in registration order.
func (m *Manager) Instances() []*Instance {
	out := make([]*Instance, len(m.instances))
	copy(out, m.instances)
	return out
}

// Instance looks up the instance bound to port.
func (m *Manager) Instance(port int) (*Instance, bool) {
	inst, ok := m.byPort[port]
	return inst, ok
}

// Ports returns the roster ports in registration order.
func (m *Manager) Ports() []int {
	ports := make([]int, len(m.instances))
	for i, inst := range m.instances {
		ports[i] = inst.Port()
	}
	return ports
}

func (m *Manager) anyRunning() bool {
	for _, inst := range m.instances {
		if inst.State() == StateRunning {
			return true
		}
	}
	return false
}

// StartAll starts every instance unless at least one is already running,
// in which case nothing is touched. It succeeds when at least one
// instance started.
func (m *Manager) StartAll() Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startAllLocked()
}

func (m *Manager) startAllLocked() Outcome {
	if m.anyRunning() {
		return succeeded("Some or all A2A servers are already running")
	}

	results := make([]string, 0, len(m.instances))
	started := 0
	for _, inst := range m.instances {
		out := inst.Start()
		if out.OK {
			started++
		}
		results = append(results, fmt.Sprintf("Port %d: %s", inst.Port(), out.Message))
	}

	m.log.Info("a2a roster start finished",
		logger.Int("started", started),
		logger.Int("total", len(m.instances)))

	if started > 0 {
		return succeeded(fmt.Sprintf("Started %d/%d servers. %s", started, len(m.instances), strings.Join(results, "; ")))
	}
	return failed("Failed to start any servers. "+strings.Join(results, "; "), nil)
}

// StopAll stops every instance. It always succeeds.
func (m *Manager) StopAll() Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopAllLocked()
}

func (m *Manager) stopAllLocked() Outcome {
	if !m.anyRunning() {
		return succeeded("No A2A servers are currently running")
	}

	results := make([]string, 0, len(m.instances))
	for _, inst := range m.instances {
		out := inst.Stop()
		results = append(results, fmt.Sprintf("Port %d: %s", inst.Port(), out.Message))
	}

	m.log.Info("a2a roster stopped", logger.Int("total", len(m.instances)))
	return succeeded("All servers stopped. " + strings.Join(results, "; "))
}

// Toggle stops everything when anything runs, and starts everything otherwise.
func (m *Manager) Toggle() Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.anyRunning() {
		return m.stopAllLocked()
	}
	return m.startAllLocked()
}

// Status is the aggregate view of the roster.
type Status struct {
	Servers        []InstanceStatus `json:"servers"`
	TotalServers   int              `json:"total_servers"`
	RunningServers int              `json:"running_servers"`
	AllRunning     bool             `json:"all_running"`
	AnyRunning     bool             `json:"any_running"`
	Ports          []int            `json:"ports"`
}

// Status snapshots every instance under its own lock, in registration order.
func (m *Manager) Status() Status {
	st := Status{
		Servers:      make([]InstanceStatus, 0, len(m.instances)),
		TotalServers: len(m.instances),
		Ports:        m.Ports(),
	}
	for _, inst := range m.instances {
		s := inst.Status()
		if s.Running {
			st.RunningServers++
		}
		st.Servers = append(st.Servers, s)
	}
	st.AnyRunning = st.RunningServers > 0
	st.AllRunning = st.RunningServers == st.TotalServers
	return st
}

package supervisor

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGrace = 20 * time.Millisecond

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func occupy(t *testing.T, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
}

func pingFactory(name string) UnitFactory {
	return UnitFactoryFunc(func() (http.Handler, error) {
		mux := http.NewServeMux()
		mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, name)
		})
		return mux, nil
	})
}

type walletFactory struct {
	UnitFactory
	caps Capabilities
}

func (f walletFactory) Capabilities() Capabilities { return f.caps }

func testDescriptor(t *testing.T, name string) Descriptor {
	t.Helper()
	return Descriptor{
		Port:        freePort(t),
		DisplayName: name,
		BindHost:    "127.0.0.1",
		Factory:     pingFactory(name),
	}
}

func newTestInstance(t *testing.T, d Descriptor) *Instance {
	t.Helper()
	inst, err := NewInstance(d, InstanceOptions{StartGrace: testGrace, StopTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { inst.Stop() })
	return inst
}

func TestInstanceStartServesUnit(t *testing.T) {
	d := testDescriptor(t, "Echo Agent")
	inst := newTestInstance(t, d)

	out := inst.Start()
	require.True(t, out.OK, out.Message)
	assert.Equal(t, fmt.Sprintf("Server 'Echo Agent' started on 127.0.0.1:%d", d.Port), out.Message)
	assert.Equal(t, StateRunning, inst.State())

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ping", d.Port))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Echo Agent", string(body))
}

func TestInstanceStartIsIdempotent(t *testing.T) {
	inst := newTestInstance(t, testDescriptor(t, "Echo Agent"))

	require.True(t, inst.Start().OK)
	first := inst.Status()

	out := inst.Start()
	require.True(t, out.OK)
	assert.Contains(t, out.Message, "already running")

	second := inst.Status()
	require.NotNil(t, first.UptimeSeconds)
	require.NotNil(t, second.UptimeSeconds)
	assert.GreaterOrEqual(t, *second.UptimeSeconds, *first.UptimeSeconds)
}

func TestInstanceStopWhenNeverStarted(t *testing.T) {
	inst := newTestInstance(t, testDescriptor(t, "Echo Agent"))

	out := inst.Stop()
	assert.True(t, out.OK)
	assert.Equal(t, "Server 'Echo Agent' is not running", out.Message)
	assert.Equal(t, StateStopped, inst.State())
}

func TestInstanceStopReleasesPort(t *testing.T) {
	d := testDescriptor(t, "Echo Agent")
	inst := newTestInstance(t, d)

	require.True(t, inst.Start().OK)
	out := inst.Stop()
	require.True(t, out.OK)
	assert.Equal(t, "Server 'Echo Agent' stopped", out.Message)

	st := inst.Status()
	assert.False(t, st.Running)
	assert.Nil(t, st.UptimeSeconds)
	assert.Nil(t, st.ServerURL)

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(d.Port)))
	require.NoError(t, err, "listener must be released once Stop returns")
	require.NoError(t, ln.Close())

	require.True(t, inst.Start().OK, "restart after stop")
}

func TestInstancePortCollision(t *testing.T) {
	d := testDescriptor(t, "Busy Agent")
	occupy(t, d.Port)
	inst := newTestInstance(t, d)

	out := inst.Start()
	assert.False(t, out.OK)
	assert.Equal(t, fmt.Sprintf("Port %d is already in use", d.Port), out.Message)
	assert.ErrorIs(t, out.Err, ErrPortUnavailable)
	assert.Equal(t, StateStopped, inst.State())
}

func TestInstanceConstructionFailure(t *testing.T) {
	tests := []struct {
		name    string
		factory UnitFactory
	}{
		{
			name:    "factory error",
			factory: UnitFactoryFunc(func() (http.Handler, error) { return nil, errors.New("model unavailable") }),
		},
		{
			name:    "factory panic",
			factory: UnitFactoryFunc(func() (http.Handler, error) { panic("boom") }),
		},
		{
			name:    "nil handler",
			factory: UnitFactoryFunc(func() (http.Handler, error) { return nil, nil }),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDescriptor(t, "Broken Agent")
			d.Factory = tt.factory
			inst := newTestInstance(t, d)

			out := inst.Start()
			assert.False(t, out.OK)
			assert.ErrorIs(t, out.Err, ErrConstruction)
			assert.Contains(t, out.Message, "Failed to start server 'Broken Agent'")
			assert.Equal(t, StateStopped, inst.State())

			// the probe listener must not leak
			ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(d.Port)))
			require.NoError(t, err)
			require.NoError(t, ln.Close())
		})
	}
}

func TestInstanceStatus(t *testing.T) {
	cost := 0.75
	d := testDescriptor(t, "Wallet Agent")
	d.Description = "pays its way"
	d.Factory = walletFactory{
		UnitFactory: pingFactory("wallet"),
		caps: Capabilities{
			WalletAddress: "0xabc",
			Tags:          map[string]any{"services": []string{"audit"}},
			ServiceCost:   &cost,
			BusinessModel: "Pay-per-request",
			Model:         "Test Model",
		},
	}
	inst := newTestInstance(t, d)

	st := inst.Status()
	assert.False(t, st.Running)
	assert.Equal(t, "127.0.0.1", st.Host)
	assert.Equal(t, d.Port, st.Port)
	assert.Equal(t, "Wallet Agent", st.AgentName)
	assert.Nil(t, st.UptimeSeconds)
	require.NotNil(t, st.WalletAddress)
	assert.Equal(t, "0xabc", *st.WalletAddress)
	assert.True(t, st.HasWallet)
	require.NotNil(t, st.ServiceCost)
	assert.Equal(t, 0.75, *st.ServiceCost)
	require.NotNil(t, st.Model)
	assert.Equal(t, "Test Model", *st.Model)

	require.True(t, inst.Start().OK)
	st = inst.Status()
	assert.True(t, st.Running)
	require.NotNil(t, st.ServerURL)
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d", d.Port), *st.ServerURL)
	require.NotNil(t, st.UptimeSeconds)
	assert.GreaterOrEqual(t, *st.UptimeSeconds, 0.0)
}

func TestInstanceStatusWithoutCapabilities(t *testing.T) {
	inst := newTestInstance(t, testDescriptor(t, "Plain Agent"))

	st := inst.Status()
	assert.Nil(t, st.WalletAddress)
	assert.False(t, st.HasWallet)
	assert.Nil(t, st.Capabilities)
	assert.Nil(t, st.ServiceCost)
	assert.Nil(t, st.BusinessModel)
	assert.Nil(t, st.Model)
}

func TestReachableHost(t *testing.T) {
	assert.Equal(t, "localhost", reachableHost("0.0.0.0"))
	assert.Equal(t, "localhost", reachableHost(""))
	assert.Equal(t, "localhost", reachableHost("::"))
	assert.Equal(t, "10.0.0.5", reachableHost("10.0.0.5"))
}

func TestNewInstanceValidates(t *testing.T) {
	_, err := NewInstance(Descriptor{Port: 0, DisplayName: "x", Factory: pingFactory("x")}, InstanceOptions{})
	assert.Error(t, err)
	_, err = NewInstance(Descriptor{Port: 9000, Factory: pingFactory("x")}, InstanceOptions{})
	assert.Error(t, err)
	_, err = NewInstance(Descriptor{Port: 9000, DisplayName: "x"}, InstanceOptions{})
	assert.Error(t, err)

	inst, err := NewInstance(Descriptor{Port: 9000, DisplayName: "x", Factory: pingFactory("x")}, InstanceOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBindHost, inst.Descriptor().BindHost)
	assert.Equal(t, "9000", inst.Descriptor().ID)
	assert.Equal(t, DefaultStartGrace, inst.grace)
	assert.Equal(t, DefaultStopTimeout, inst.stopTimeout)
}

func TestInstanceMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	d := testDescriptor(t, "Metered Agent")
	inst, err := NewInstance(d, InstanceOptions{StartGrace: testGrace, Metrics: m})
	require.NoError(t, err)
	t.Cleanup(func() { inst.Stop() })

	port := strconv.Itoa(d.Port)
	require.True(t, inst.Start().OK)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.starts.WithLabelValues(port, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.running.WithLabelValues(port, "Metered Agent")))

	require.True(t, inst.Stop().OK)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stops.WithLabelValues(port, "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.running.WithLabelValues(port, "Metered Agent")))
}

// scriptedListener accepts nothing. Accept fails with a hard error once
// crash is closed, and reports net.ErrClosed after Close.
type scriptedListener struct {
	crash     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newScriptedListener() *scriptedListener {
	return &scriptedListener{crash: make(chan struct{}), closed: make(chan struct{})}
}

func (l *scriptedListener) Accept() (net.Conn, error) {
	select {
	case <-l.crash:
		return nil, errors.New("accept: connection aborted")
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *scriptedListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *scriptedListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestInstanceSettleSeesDeadServeLoop(t *testing.T) {
	inst := newTestInstance(t, testDescriptor(t, "Dead Agent"))

	for n := 0; n < 50; n++ {
		ln := newScriptedListener()
		close(ln.crash)
		w := inst.launch(ln, http.NotFoundHandler())
		assert.False(t, inst.settle(w), "run %d", n)
		assert.Error(t, w.err)
		assert.NoError(t, inst.stopWorker(w))
	}
}

func TestInstanceStartFailsWhenServeLoopDies(t *testing.T) {
	inst := newTestInstance(t, testDescriptor(t, "Dead Agent"))
	inst.listen = func(string, string) (net.Listener, error) {
		ln := newScriptedListener()
		close(ln.crash)
		return ln, nil
	}

	for n := 0; n < 20; n++ {
		out := inst.Start()
		require.False(t, out.OK, "run %d", n)
		assert.Equal(t, "Server 'Dead Agent' failed to start", out.Message)
		assert.ErrorIs(t, out.Err, ErrServeLoop)
		assert.Equal(t, StateStopped, inst.State())
	}
}

func TestInstanceReapsCrashedServeLoop(t *testing.T) {
	inst := newTestInstance(t, testDescriptor(t, "Flaky Agent"))
	ln := newScriptedListener()
	inst.listen = func(string, string) (net.Listener, error) { return ln, nil }

	require.True(t, inst.Start().OK)
	require.Equal(t, StateRunning, inst.State())

	close(ln.crash)
	require.Eventually(t, func() bool { return inst.State() == StateStopped }, time.Second, 5*time.Millisecond)

	st := inst.Status()
	assert.False(t, st.Running)
	assert.Nil(t, st.UptimeSeconds)
	assert.Nil(t, st.ServerURL)
	inst.mu.Lock()
	assert.True(t, inst.startedAt.IsZero())
	assert.Nil(t, inst.w)
	inst.mu.Unlock()

	inst.listen = net.Listen
	out := inst.Start()
	require.True(t, out.OK, out.Message)
	assert.Contains(t, out.Message, "started on")
}

func TestInstanceStopTimeout(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	t.Cleanup(func() { close(release) })

	d := testDescriptor(t, "Slow Agent")
	d.Factory = UnitFactoryFunc(func() (http.Handler, error) {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			once.Do(func() { close(entered) })
			<-release
		}), nil
	})
	inst, err := NewInstance(d, InstanceOptions{
		StartGrace:  testGrace,
		StopTimeout: 100 * time.Millisecond,
		Metrics:     m,
	})
	require.NoError(t, err)
	require.True(t, inst.Start().OK)

	client := &http.Client{Timeout: 5 * time.Second}
	go func() {
		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/", d.Port))
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-entered

	begin := time.Now()
	out := inst.Stop()
	assert.True(t, out.OK)
	assert.Equal(t, "Server 'Slow Agent' stopped", out.Message)
	assert.Less(t, time.Since(begin), time.Second)
	assert.Equal(t, StateStopped, inst.State())

	port := strconv.Itoa(d.Port)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stops.WithLabelValues(port, "timeout")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.stops.WithLabelValues(port, "ok")))

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", port))
	require.NoError(t, err, "port is released after the forced close")
	require.NoError(t, ln.Close())
}

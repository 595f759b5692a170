package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/kilomarket/internal/supervisor"
)

func fixedNow() time.Time { return time.Unix(1000050, 0) }

type echoResponder struct {
	prompt string
	err    error
}

func (r *echoResponder) Respond(_ context.Context, systemPrompt, message string) (string, error) {
	r.prompt = systemPrompt
	if r.err != nil {
		return "", r.err
	}
	return "re: " + message, nil
}

func serveUnit(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func crypto(t *testing.T, env Env) supervisor.Descriptor {
	t.Helper()
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	descs, err := Roster(cat, "127.0.0.1", env)
	require.NoError(t, err)
	for _, d := range descs {
		if d.Port == 9001 {
			return d
		}
	}
	t.Fatal("crypto agent missing from roster")
	return supervisor.Descriptor{}
}

func TestDefaultCatalog(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	require.Len(t, cat.Agents, 3)
	assert.Equal(t, 0.75, cat.Service.Cost)
	assert.Equal(t, "yUSD", cat.Service.Currency)

	for i, port := range []int{9000, 9001, 9002} {
		def, ok := cat.Lookup(port)
		require.True(t, ok, port)
		assert.Equal(t, cat.Agents[i].Name, def.Name)
		assert.NotEmpty(t, def.WalletAddress)
		assert.NotEmpty(t, def.SystemPrompt)
	}
	_, ok := cat.Lookup(1234)
	assert.False(t, ok)
}

func TestParseCatalogRejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "empty", yaml: "agents: []"},
		{name: "malformed", yaml: "agents: ["},
		{name: "unknown tool", yaml: "agents:\n  - {id: a, name: A, port: 9000, tools: [launch_rockets]}\n"},
		{name: "duplicate port", yaml: "agents:\n  - {id: a, name: A, port: 9000}\n  - {id: b, name: B, port: 9000}\n"},
		{name: "bad port", yaml: "agents:\n  - {id: a, name: A, port: 70000}\n"},
		{name: "missing id", yaml: "agents:\n  - {name: A, port: 9000}\n"},
		{name: "negative cost", yaml: "service: {cost: -1}\nagents:\n  - {id: a, name: A, port: 9000}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	_, err := LoadCatalog(t.TempDir() + "/missing.yaml")
	assert.Error(t, err)

	cat, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Len(t, cat.Agents, 3)
}

func TestLoadCatalogOverride(t *testing.T) {
	write := func(t *testing.T, data []byte) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "agents.yaml")
		require.NoError(t, os.WriteFile(path, data, 0o600))
		return path
	}

	t.Run("metadata only", func(t *testing.T) {
		data := bytes.Replace(embeddedDefinitions,
			[]byte("name: Crypto Market Agent"), []byte("name: Market Desk"), 1)
		cat, err := LoadCatalog(write(t, data))
		require.NoError(t, err)
		def, ok := cat.Lookup(9001)
		require.True(t, ok)
		assert.Equal(t, "Market Desk", def.Name)
	})

	t.Run("moved port", func(t *testing.T) {
		data := bytes.Replace(embeddedDefinitions, []byte("port: 9001"), []byte("port: 9101"), 1)
		_, err := LoadCatalog(write(t, data))
		assert.ErrorIs(t, err, ErrRosterChanged)
		assert.ErrorContains(t, err, "must stay on port 9001")
	})

	t.Run("dropped agent", func(t *testing.T) {
		cat, err := DefaultCatalog()
		require.NoError(t, err)
		cat.Agents = cat.Agents[:2]
		data, err := yaml.Marshal(cat)
		require.NoError(t, err)
		_, err = LoadCatalog(write(t, data))
		assert.ErrorIs(t, err, ErrRosterChanged)
	})

	t.Run("renamed id", func(t *testing.T) {
		data := bytes.Replace(embeddedDefinitions,
			[]byte("id: vibe_coding_agent"), []byte("id: other_agent"), 1)
		_, err := LoadCatalog(write(t, data))
		assert.ErrorIs(t, err, ErrRosterChanged)
	})
}

func TestRosterCapabilities(t *testing.T) {
	d := crypto(t, Env{})
	assert.Equal(t, "crypto_market_agent", d.ID)
	assert.Equal(t, "Crypto Market Agent", d.DisplayName)
	assert.Equal(t, "127.0.0.1", d.BindHost)

	inst, err := supervisor.NewInstance(d, supervisor.InstanceOptions{})
	require.NoError(t, err)
	caps := inst.Capabilities()
	require.NotNil(t, caps)
	require.NotNil(t, caps.ServiceCost)
	assert.Equal(t, 0.75, *caps.ServiceCost)
	assert.Equal(t, "Data-as-a-Service", caps.BusinessModel)
	assert.Equal(t, "Amazon Nova Pro", caps.Model)
	assert.Equal(t, "0x3e8aB3edCd96d871ff64FEdD5dccC0b99e531556", caps.WalletAddress)

	_, err = Roster(nil, "", Env{})
	assert.Error(t, err)
}

func TestPlaceholderRoster(t *testing.T) {
	descs := PlaceholderRoster("127.0.0.1", Env{Now: fixedNow})
	require.Len(t, descs, 3)
	assert.Equal(t, "Calculator Agent", descs[0].DisplayName)
	assert.Equal(t, 9002, descs[2].Port)

	inst, err := supervisor.NewInstance(descs[1], supervisor.InstanceOptions{})
	require.NoError(t, err)
	assert.Nil(t, inst.Capabilities())

	calc, err := descs[0].Factory.NewUnit()
	require.NoError(t, err)
	calcSrv := serveUnit(t, calc)

	resp, out := postJSON(t, calcSrv.URL+"/tools/calculate", `{"a":6,"b":7,"op":"*"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 42.0, out["result"])

	resp, _ = postJSON(t, calcSrv.URL+"/tools/calculate", `{"a":1,"b":0,"op":"/"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	h, err := descs[1].Factory.NewUnit()
	require.NoError(t, err)
	srv := serveUnit(t, h)

	resp, out = postJSON(t, srv.URL+"/tools/echo", `{"message":"hi"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Echo: hi", out["result"])

	_, out = postJSON(t, srv.URL+"/tools/time", ``)
	assert.Equal(t, "Current time: "+fixedNow().Format(time.RFC3339), out["result"])

	_, out = postJSON(t, srv.URL+"/tools/info", `{}`)
	assert.Equal(t, "This is a placeholder A2A server for KiloMarket", out["result"])

	resp, _ = postJSON(t, srv.URL+"/messages", `{"message":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestUnitCardAndTools(t *testing.T) {
	h, err := crypto(t, Env{}).Factory.NewUnit()
	require.NoError(t, err)
	srv := serveUnit(t, h)

	resp, err := http.Get(srv.URL + "/.well-known/agent.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	var card Card
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&card))
	assert.Equal(t, "Crypto Market Agent", card.Name)
	assert.Equal(t, "yUSD", card.Currency)
	assert.Len(t, card.Skills, 7)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnitMarketTools(t *testing.T) {
	h, err := crypto(t, Env{Now: fixedNow}).Factory.NewUnit()
	require.NoError(t, err)
	srv := serveUnit(t, h)

	resp, out := postJSON(t, srv.URL+"/tools/get_token_price", `{"token_symbol":"btc"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := out["result"].(map[string]any)
	assert.Equal(t, "BTC", result["symbol"])
	assert.Equal(t, 68940.46, result["price"])

	resp, out = postJSON(t, srv.URL+"/tools/get_token_price", `{"token_symbol":"nope"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Len(t, out["available_tokens"], 21)

	resp, _ = postJSON(t, srv.URL+"/tools/get_token_price", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/tools/get_token_price", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out = postJSON(t, srv.URL+"/tools/get_market_data", `{"limit":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["result"], 2)

	resp, out = postJSON(t, srv.URL+"/tools/get_top_movers", `{"period":"7d","limit":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "7d", out["result"].(map[string]any)["period"])

	resp, _ = postJSON(t, srv.URL+"/tools/echo", `{"message":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDiscoveryTools(t *testing.T) {
	url := "http://localhost:9000"
	model := "Pay-per-request"
	dir := DirectoryFunc(func() (supervisor.Status, error) {
		return supervisor.Status{Servers: []supervisor.InstanceStatus{
			{Running: true, Port: 9000, AgentName: "Vibe Coding Agent", ServerURL: &url, BusinessModel: &model},
			{Running: false, Port: 9002, AgentName: "Contract Audit Agent"},
		}}, nil
	})
	h, err := crypto(t, Env{Directory: dir}).Factory.NewUnit()
	require.NoError(t, err)
	srv := serveUnit(t, h)

	resp, out := postJSON(t, srv.URL+"/tools/get_available_a2a_services", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := out["result"].(map[string]any)
	assert.EqualValues(t, 1, result["total_services"])
	assert.Equal(t, "Found 1 available A2A services", result["message"])

	resp, out = postJSON(t, srv.URL+"/tools/get_a2a_service_details", `{"service_name":"vibe coding agent"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := out["result"].(map[string]any)
	assert.Equal(t, url, detail["server_url"])
	assert.Equal(t, "A specialized A2A service agent", detail["description"])

	resp, _ = postJSON(t, srv.URL+"/tools/get_a2a_service_details", `{"service_name":"Contract Audit Agent"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnitMessages(t *testing.T) {
	r := &echoResponder{}
	d := crypto(t, Env{Responder: r})
	h, err := d.Factory.NewUnit()
	require.NoError(t, err)
	srv := serveUnit(t, h)

	resp, out := postJSON(t, srv.URL+"/messages", `{"message":"price of eth?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "re: price of eth?", out["response"])
	assert.Contains(t, r.prompt, "Crypto Market Agent")

	resp, _ = postJSON(t, srv.URL+"/messages", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	r.err = errors.New("upstream down")
	resp, out = postJSON(t, srv.URL+"/messages", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "upstream down", out["error"])
}

func TestToolNamesCoverCatalog(t *testing.T) {
	names := ToolNames()
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	for _, a := range cat.Agents {
		for _, tool := range a.Tools {
			assert.Contains(t, names, tool)
		}
	}
}

package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/kilomarket/internal/llm"
	"github.com/MrSnakeDoc/kilomarket/internal/sessions"
	"github.com/MrSnakeDoc/kilomarket/internal/settings"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls []llm.Request
	reply string
	err   error
}

func (f *fakeProvider) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Model: req.Model, Text: f.reply, Usage: llm.Usage{InputTokens: 3, OutputTokens: 2}}, nil
}

func (f *fakeProvider) last() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeCounter struct {
	turns map[string]int
	err   error
}

func (c *fakeCounter) IncrementTurns(_ context.Context, id string) error {
	if c.err != nil {
		return c.err
	}
	c.turns[id]++
	return nil
}

func factoryFor(p llm.Provider) ProviderFactory {
	return func(id string, _ map[string]string) (llm.Provider, error) {
		if id == settings.ProviderBedrock {
			return nil, llm.ErrUnsupportedProvider
		}
		return p, nil
	}
}

func newSessions(t *testing.T) *sessions.Store {
	t.Helper()
	dir := t.TempDir()
	cfg := settings.NewStore(filepath.Join(dir, "settings.json"), nil)
	s, err := sessions.NewStore(filepath.Join(dir, "sessions"), cfg, nil)
	require.NoError(t, err)
	return s
}

func TestTurnPersistsExchange(t *testing.T) {
	store := newSessions(t)
	sess, err := store.Create("", "", sessions.ProviderRef{
		Provider: settings.ProviderAnthropic,
		Config:   map[string]string{"api_key": "k", "model_id": "claude-test", "max_tokens": "512"},
	})
	require.NoError(t, err)

	p := &fakeProvider{reply: "hello back"}
	counter := &fakeCounter{turns: map[string]int{}}
	e := NewEngine(store, WithProviderFactory(factoryFor(p)), WithTurnCounter(counter))

	reply, err := e.Turn(context.Background(), sess.ID, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", reply.User.Content)
	assert.Equal(t, "hello back", reply.Assistant.Content)
	assert.Equal(t, "claude-test", reply.Model)
	assert.Equal(t, 1, counter.turns[sess.ID])

	req := p.last()
	assert.Equal(t, SystemPrompt, req.System)
	assert.Equal(t, 512, req.MaxTokens)
	assert.Nil(t, req.Temperature)
	assert.Equal(t, []llm.Message{{Role: llm.RoleUser, Content: "hello"}}, req.Messages)

	msgs, err := store.Messages(sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestTurnSlidesWindow(t *testing.T) {
	store := newSessions(t)
	sess, err := store.Create("", "", sessions.ProviderRef{Provider: settings.ProviderGemini, Config: map[string]string{"temperature": "0.7"}})
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		_, err := store.Append(sess.ID, "user", "q"+strconv.Itoa(i))
		require.NoError(t, err)
		_, err = store.Append(sess.ID, "assistant", "a"+strconv.Itoa(i))
		require.NoError(t, err)
	}

	p := &fakeProvider{reply: "ok"}
	e := NewEngine(store, WithProviderFactory(factoryFor(p)), WithWindow(4))
	_, err = e.Turn(context.Background(), sess.ID, "next")
	require.NoError(t, err)

	req := p.last()
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.7, *req.Temperature, 1e-9)
	// The three-message tail starts on an assistant reply, which is dropped.
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "q5"},
		{Role: llm.RoleAssistant, Content: "a5"},
		{Role: llm.RoleUser, Content: "next"},
	}, req.Messages)
}

func TestTurnFailures(t *testing.T) {
	store := newSessions(t)
	withProvider, err := store.Create("", "", sessions.ProviderRef{Provider: settings.ProviderOpenAICompatible})
	require.NoError(t, err)
	bedrock, err := store.Create("", "", sessions.ProviderRef{Provider: settings.ProviderBedrock})
	require.NoError(t, err)
	none, err := store.Create("", "", sessions.ProviderRef{})
	require.NoError(t, err)

	upstream := &llm.ProviderError{StatusCode: 429, Message: "slow down"}
	p := &fakeProvider{err: upstream}
	e := NewEngine(store, WithProviderFactory(factoryFor(p)), WithTurnCounter(&fakeCounter{err: errors.New("down")}))
	ctx := context.Background()

	_, err = e.Turn(ctx, withProvider.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = e.Turn(ctx, none.ID, "hi")
	assert.ErrorIs(t, err, ErrNoProvider)

	_, err = e.Turn(ctx, bedrock.ID, "hi")
	assert.ErrorIs(t, err, llm.ErrUnsupportedProvider)

	_, err = e.Turn(ctx, "8f0e1c1e-6d7b-4b8a-9a3e-2f4d5c6b7a81", "hi")
	assert.ErrorIs(t, err, sessions.ErrNotFound)

	_, err = e.Turn(ctx, withProvider.ID, "hi")
	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.IsRateLimited())

	msgs, err := store.Messages(withProvider.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "failed turns must not be persisted")
}

type staticSettings struct {
	pc settings.ProviderConfig
	ok bool
}

func (s staticSettings) Provider() (settings.ProviderConfig, bool) { return s.pc, s.ok }

func TestAgentResponder(t *testing.T) {
	p := &fakeProvider{reply: "42"}
	r := AgentResponder{
		Settings: staticSettings{ok: true, pc: settings.ProviderConfig{
			Enabled: true, Provider: settings.ProviderAnthropic, Config: map[string]string{"model_id": "m"},
		}},
		Factory: factoryFor(p),
	}

	out, err := r.Respond(context.Background(), "be terse", "answer?")
	require.NoError(t, err)
	assert.Equal(t, "42", out)
	assert.Equal(t, "be terse", p.last().System)
	assert.Equal(t, "m", p.last().Model)

	r.Settings = staticSettings{}
	_, err = r.Respond(context.Background(), "", "answer?")
	assert.ErrorIs(t, err, ErrNoProvider)
}

package settings

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "config", "kilomarket_settings.json"), nil)
}

func readFile(t *testing.T, s *Store) map[string]any {
	t.Helper()
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestDefaultsWhenMissing(t *testing.T) {
	s := newStore(t)

	_, ok := s.Provider()
	assert.False(t, ok)
	assert.Equal(t, ProviderStatus{StatusText: "AI Provider (Not Set)"}, s.ProviderStatus())

	_, ok = s.Wallet()
	assert.False(t, ok)
	assert.Equal(t, "Not set", s.WalletStatus().StatusText)
	assert.Empty(t, s.Passcodes())
}

func TestCorruptFileFallsBackToDefaults(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o600))

	assert.False(t, s.ProviderStatus().Configured)
}

func TestConfigureProvider(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.ConfigureProvider(ProviderAnthropic, map[string]string{"api_key": " sk-test "}))

	pc, ok := s.Provider()
	require.True(t, ok)
	assert.Equal(t, ProviderAnthropic, pc.Provider)
	assert.Equal(t, "sk-test", pc.Config["api_key"])
	assert.Equal(t, "claude-sonnet-4-5-20250929", pc.Config["model_id"])

	st := s.ProviderStatus()
	assert.True(t, st.Configured)
	require.NotNil(t, st.ProviderName)
	assert.Equal(t, "Anthropic", *st.ProviderName)
	assert.Equal(t, "AI Provider (Anthropic)", st.StatusText)

	require.NoError(t, s.ClearProvider())
	assert.False(t, s.ProviderStatus().Configured)
}

func TestConfigureProviderValidation(t *testing.T) {
	s := newStore(t)

	err := s.ConfigureProvider("skynet", nil)
	assert.True(t, errors.Is(err, ErrUnknownProvider))

	err = s.ConfigureProvider(ProviderGemini, map[string]string{"model_id": "gemini-2.5-pro"})
	assert.True(t, errors.Is(err, ErrMissingField))
	assert.Contains(t, err.Error(), "api_key")

	// base_url may stay blank for the public endpoint
	require.NoError(t, s.ConfigureProvider(ProviderOpenAICompatible, map[string]string{"api_key": "k"}))
	pc, _ := s.Provider()
	assert.Equal(t, "", pc.Config["base_url"])
	assert.Equal(t, "gpt-4o", pc.Config["model_id"])

	require.NoError(t, s.ConfigureProvider(ProviderBedrock, nil))
	pc, _ = s.Provider()
	assert.Equal(t, "us-east-1", pc.Config["region_name"])
}

func TestProviderName(t *testing.T) {
	assert.Equal(t, "OpenAI Compatible", ProviderName(ProviderOpenAICompatible))
	assert.Equal(t, "mystery", ProviderName("mystery"))
}

func TestWallet(t *testing.T) {
	s := newStore(t)

	err := s.ConfigureWallet("abcdef0123456789", "bitcoin_mainnet")
	assert.True(t, errors.Is(err, ErrUnsupportedChain))

	err = s.ConfigureWallet("short", "ethereum_sepolia")
	assert.True(t, errors.Is(err, ErrInvalidKey))

	err = s.ConfigureWallet("zzzzzzzzzzzzzzzz", "ethereum_sepolia")
	assert.True(t, errors.Is(err, ErrInvalidKey))

	require.NoError(t, s.ConfigureWallet("  abcdef0123456789 ", "ethereum_sepolia"))
	wc, ok := s.Wallet()
	require.True(t, ok)
	assert.Equal(t, "0xabcdef0123456789", wc.PrivateKey)

	st := s.WalletStatus()
	assert.True(t, st.Configured)
	assert.Equal(t, "Set", *st.PrivateKey)
	assert.Equal(t, "Ethereum Sepolia", *st.ChainName)
	assert.Equal(t, "Already Set", st.StatusText)

	out, err := json.Marshal(st)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "abcdef")

	require.NoError(t, s.ClearWallet())
	_, ok = s.Wallet()
	assert.False(t, ok)
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0x1234567890ab", want: "0x1234567890ab"},
		{in: "1234567890AB", want: "0x1234567890AB"},
		{in: "0x12345", wantErr: true},
		{in: "0x12345678g0", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizeKey(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestPasscodesAndUnknownKeysSurvive(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"theme":"dark","sessions":{"retention":"30d"}}`), 0o600))

	require.NoError(t, s.SetPasscode("abc", "1234"))
	require.NoError(t, s.SetPasscode("def", "5678"))
	require.NoError(t, s.DeletePasscode("abc"))
	require.NoError(t, s.DeletePasscode("missing"))

	_, ok := s.Passcode("abc")
	assert.False(t, ok)
	code, ok := s.Passcode("def")
	assert.True(t, ok)
	assert.Equal(t, "5678", code)

	onDisk := readFile(t, s)
	assert.Equal(t, "dark", onDisk["theme"])
	sessions := onDisk["sessions"].(map[string]any)
	assert.Equal(t, "30d", sessions["retention"])
	assert.Equal(t, map[string]any{"def": "5678"}, sessions["passcodes"])
	assert.Equal(t, map[string]any{"enabled": false}, onDisk["wallet"])
}

func TestWatchInvalidatesCache(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.ConfigureProvider(ProviderAnthropic, map[string]string{"api_key": "k"}))

	stop, err := s.Watch(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = stop() })

	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"ai_provider":{"enabled":false}}`), 0o600))

	assert.Eventually(t, func() bool {
		return !s.ProviderStatus().Configured
	}, 2*time.Second, 10*time.Millisecond)
}

package settings

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrInvalidKey       = errors.New("invalid private key")
)

// Chain is a network a wallet may be configured for.
type Chain struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var Chains = []Chain{{ID: "ethereum_sepolia", Name: "Ethereum Sepolia"}}

func chainName(id string) (string, bool) {
	for _, c := range Chains {
		if c.ID == id {
			return c.Name, true
		}
	}
	return id, false
}

// WalletConfig is the persisted wallet.
type WalletConfig struct {
	Enabled    bool   `json:"enabled"`
	PrivateKey string `json:"private_key,omitempty"`
	Chain      string `json:"chain,omitempty"`
}

// WalletStatus never carries the key itself.
type WalletStatus struct {
	Configured bool    `json:"configured"`
	PrivateKey *string `json:"private_key"`
	Chain      *string `json:"chain"`
	ChainName  *string `json:"chain_name"`
	StatusText string  `json:"status_text"`
}

// NormalizeKey trims key, checks it is hex and adds the 0x prefix.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if len(key) < 10 {
		return "", ErrInvalidKey
	}
	digits := strings.TrimPrefix(strings.TrimPrefix(key, "0x"), "0X")
	if digits == "" {
		return "", ErrInvalidKey
	}
	for _, r := range digits {
		if !isHex(r) {
			return "", fmt.Errorf("%w: must be a valid hexadecimal string", ErrInvalidKey)
		}
	}
	return "0x" + digits, nil
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// Wallet returns the configured wallet, if any.
func (s *Store) Wallet() (WalletConfig, bool) {
	var wc WalletConfig
	s.section(keyWallet, &wc)
	if !wc.Enabled || wc.PrivateKey == "" || wc.Chain == "" {
		return WalletConfig{}, false
	}
	return wc, true
}

func (s *Store) WalletStatus() WalletStatus {
	wc, ok := s.Wallet()
	if !ok {
		return WalletStatus{StatusText: "Not set"}
	}
	set, chain := "Set", wc.Chain
	name, _ := chainName(wc.Chain)
	return WalletStatus{
		Configured: true,
		PrivateKey: &set,
		Chain:      &chain,
		ChainName:  &name,
		StatusText: "Already Set",
	}
}

func (s *Store) ConfigureWallet(privateKey, chain string) error {
	if _, ok := chainName(chain); !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedChain, chain)
	}
	key, err := NormalizeKey(privateKey)
	if err != nil {
		return err
	}
	return s.update(func(doc document) error {
		return doc.set(keyWallet, WalletConfig{Enabled: true, PrivateKey: key, Chain: chain})
	})
}

func (s *Store) ClearWallet() error {
	return s.update(func(doc document) error {
		return doc.set(keyWallet, WalletConfig{Enabled: false})
	})
}

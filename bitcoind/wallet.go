package bitcoind

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
)

// rpcWalletAlreadyLoaded is RPC_WALLET_ALREADY_LOADED in Bitcoin Core.
const rpcWalletAlreadyLoaded = -35

// EnsureWallet creates the named wallet, or loads it if it already exists.
// A wallet that is already loaded is not an error.
func (n *Node) EnsureWallet(name string) error {
	client, err := n.liveClient()
	if err != nil {
		return err
	}

	_, err = client.RawRequest("createwallet", []json.RawMessage{jsonString(name)})
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create wallet %s: %w", name, err)
	}

	_, err = client.RawRequest("loadwallet", []json.RawMessage{jsonString(name)})
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == rpcWalletAlreadyLoaded {
		return nil
	}
	if err != nil && !strings.Contains(err.Error(), "already loaded") {
		return fmt.Errorf("failed to load wallet %s: %w", name, err)
	}
	return nil
}

// UnloadWallet unloads the named wallet.
func (n *Node) UnloadWallet(name string) error {
	client, err := n.liveClient()
	if err != nil {
		return err
	}

	if _, err := client.RawRequest("unloadwallet", []json.RawMessage{jsonString(name)}); err != nil {
		return fmt.Errorf("failed to unload wallet %s: %w", name, err)
	}

	n.mu.Lock()
	if wc, ok := n.wallets[name]; ok {
		wc.Shutdown()
		delete(n.wallets, name)
	}
	n.mu.Unlock()
	return nil
}

// walletClient returns an RPC client bound to /wallet/<name>, which
// bitcoind requires once more than one wallet is loaded.
func (n *Node) walletClient(name string) (*rpcclient.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil, ErrNotRunning
	}
	if wc, ok := n.wallets[name]; ok {
		return wc, nil
	}

	cc, err := n.connConfig()
	if err != nil {
		return nil, err
	}
	cc.Host += "/wallet/" + name

	wc, err := rpcclient.New(cc, nil)
	if err != nil {
		return nil, err
	}
	if n.wallets == nil {
		n.wallets = make(map[string]*rpcclient.Client)
	}
	n.wallets[name] = wc
	return wc, nil
}

// GenerateBech32 returns a new P2WPKH address from the named wallet.
func (n *Node) GenerateBech32(wallet string) (string, error) {
	return n.newAddress(wallet, "bech32")
}

// GenerateBech32m returns a new P2TR address from the named wallet. The
// wallet is created if needed.
func (n *Node) GenerateBech32m(wallet string) (string, error) {
	if err := n.EnsureWallet(wallet); err != nil {
		return "", err
	}
	return n.newAddress(wallet, "bech32m")
}

func (n *Node) newAddress(wallet, addrType string) (string, error) {
	wc, err := n.walletClient(wallet)
	if err != nil {
		return "", err
	}

	raw, err := wc.RawRequest("getnewaddress", []json.RawMessage{jsonString(""), jsonString(addrType)})
	if err != nil {
		return "", fmt.Errorf("failed to generate %s address: %w", addrType, err)
	}

	var addr string
	if err := json.Unmarshal(raw, &addr); err != nil {
		return "", fmt.Errorf("failed to decode address: %w", err)
	}
	return addr, nil
}

// Warp mines blocks to addr.
//
// Example:
//
//	addr, _ := btc.GenerateBech32("miner")
//	btc.Warp(101, addr) // coinbase maturity
func (n *Node) Warp(blocks int64, addr string) error {
	client, err := n.liveClient()
	if err != nil {
		return err
	}

	decoded, err := btcutil.DecodeAddress(addr, &chaincfg.RegressionNetParams)
	if err != nil {
		return fmt.Errorf("invalid regtest address %s: %w", addr, err)
	}

	if _, err := client.GenerateToAddress(blocks, decoded, nil); err != nil {
		return fmt.Errorf("failed to generate %d blocks: %w", blocks, err)
	}
	return nil
}

// SendToAddress pays sats to addr from the named wallet.
func (n *Node) SendToAddress(wallet, addr string, sats int64) (*chainhash.Hash, error) {
	decoded, err := btcutil.DecodeAddress(addr, &chaincfg.RegressionNetParams)
	if err != nil {
		return nil, fmt.Errorf("invalid regtest address %s: %w", addr, err)
	}

	wc, err := n.walletClient(wallet)
	if err != nil {
		return nil, err
	}

	txid, err := wc.SendToAddress(decoded, btcutil.Amount(sats))
	if err != nil {
		return nil, fmt.Errorf("failed to send %d sats to %s: %w", sats, addr, err)
	}
	return txid, nil
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

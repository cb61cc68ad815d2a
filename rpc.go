package lightningd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lnrpc "github.com/fiatjaf/lightningd-gjson-rpc"
	"github.com/tidwall/gjson"
)

// defaultCallTimeout applies when the caller's context has no deadline.
const defaultCallTimeout = 30 * time.Second

// Client speaks lightningd's JSON-RPC 2.0 over its unix socket. Each call
// uses its own connection, so a Client is safe for concurrent use.
type Client struct {
	rpc *lnrpc.Client
}

// NewClient returns a client for the lightning-rpc socket at path. No
// connection is made until the first call.
func NewClient(path string) *Client {
	return &Client{rpc: &lnrpc.Client{Path: path, CallTimeout: defaultCallTimeout}}
}

// Path returns the socket path.
func (c *Client) Path() string { return c.rpc.Path }

// Raw invokes method with named params and returns the result untouched.
// A nil params is sent as an empty object. The call is abandoned when ctx
// is done.
func (c *Client) Raw(ctx context.Context, method string, params map[string]any) (gjson.Result, error) {
	if err := ctx.Err(); err != nil {
		return gjson.Result{}, fmt.Errorf("%s: %w", method, err)
	}
	if params == nil {
		params = map[string]any{}
	}
	timeout := defaultCallTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	type reply struct {
		res gjson.Result
		err error
	}
	done := make(chan reply, 1)
	go func() {
		res, err := c.rpc.CallWithCustomTimeout(timeout, method, params)
		done <- reply{res, err}
	}()

	select {
	case <-ctx.Done():
		return gjson.Result{}, fmt.Errorf("%s: %w", method, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return gjson.Result{}, fmt.Errorf("%s: %w", method, rpcError(r.err))
		}
		return r.res, nil
	}
}

// Call invokes method with params and decodes the result into result, which
// may be nil.
func (c *Client) Call(ctx context.Context, method string, params map[string]any, result any) error {
	res, err := c.Raw(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil || res.Raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(res.Raw), result); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// rpcError turns an error object sent by lightningd into an *RPCError.
// Transport errors are returned as they are.
func rpcError(err error) error {
	var cmd lnrpc.ErrorCommand
	if errors.As(err, &cmd) {
		return &RPCError{Code: cmd.Code, Message: cmd.Message}
	}
	var cmdPtr *lnrpc.ErrorCommand
	if errors.As(err, &cmdPtr) {
		return &RPCError{Code: cmdPtr.Code, Message: cmdPtr.Message}
	}
	return err
}

// Address is a network address as reported by getinfo.
type Address struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Socket  string `json:"socket,omitempty"`
}

// Info is the subset of getinfo the fixture relies on.
type Info struct {
	ID                    string    `json:"id"`
	Alias                 string    `json:"alias"`
	Color                 string    `json:"color"`
	NumPeers              int       `json:"num_peers"`
	NumActiveChannels     int       `json:"num_active_channels"`
	Version               string    `json:"version"`
	BlockHeight           uint32    `json:"blockheight"`
	Network               string    `json:"network"`
	Address               []Address `json:"address"`
	Binding               []Address `json:"binding"`
	WarningBitcoindSync   string    `json:"warning_bitcoind_sync,omitempty"`
	WarningLightningdSync string    `json:"warning_lightningd_sync,omitempty"`
}

// Syncing reports whether the node is still catching up with bitcoind.
func (i *Info) Syncing() bool {
	return i.WarningBitcoindSync != "" || i.WarningLightningdSync != ""
}

// GetInfo calls getinfo.
func (c *Client) GetInfo(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.Call(ctx, "getinfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Stop asks lightningd to shut down.
func (c *Client) Stop(ctx context.Context) error {
	return c.Call(ctx, "stop", nil, nil)
}

// ConnectResult is the reply to connect.
type ConnectResult struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
}

// Connect opens a peer connection to the given node.
func (c *Client) Connect(ctx context.Context, peer IDHost) (*ConnectResult, error) {
	var res ConnectResult
	params := map[string]any{"id": peer.String()}
	if err := c.Call(ctx, "connect", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// NewAddr returns a fresh bech32 address from the node's on-chain wallet.
func (c *Client) NewAddr(ctx context.Context) (string, error) {
	var res struct {
		Bech32 string `json:"bech32"`
	}
	if err := c.Call(ctx, "newaddr", map[string]any{"addresstype": "bech32"}, &res); err != nil {
		return "", err
	}
	return res.Bech32, nil
}

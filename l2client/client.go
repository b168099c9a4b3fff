// Package l2client is the L2 application RPC client of spec §6: JSON
// over HTTP against the rollup's command-submission and bundle-query
// endpoints, plus the nonce oracle (spec §4.2).
package l2client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jupiterxyz/zkbridge/bridgedomain"
)

// Opcodes named in spec §6. DEPOSIT and WITHDRAW are supplied via
// config as decimal strings.
const OpcodeCreatePlayer = 1

// L2Client is the full set of L2 application RPC operations the core
// depends on (spec §6).
type L2Client interface {
	GetNonce(ctx context.Context) (uint64, error)
	CreatePlayer(ctx context.Context, nonce uint64) error
	Deposit(ctx context.Context, nonce, pid1, pid2 uint64, tokenIndex uint32, amount uint64) error
	CheckDeposit(ctx context.Context, nonce, pid1, pid2 uint64, tokenIndex uint32, amount uint64) (bool, error)
	ReadyBundles(ctx context.Context) ([]bridgedomain.Bundle, error)
}

// HTTPClient is the concrete net/http implementation of L2Client.
type HTTPClient struct {
	baseURL        string
	adminKey       string
	depositOpcode  uint64
	withdrawOpcode uint64
	httpClient     *http.Client
}

func NewHTTPClient(baseURL, adminKey string, depositOpcode, withdrawOpcode uint64) *HTTPClient {
	return &HTTPClient{
		baseURL:        baseURL,
		adminKey:       adminKey,
		depositOpcode:  depositOpcode,
		withdrawOpcode: withdrawOpcode,
		httpClient:     &http.Client{Timeout: 15 * time.Second},
	}
}

// buildCmdBuf assembles a command buffer per spec §6: cmdBuf[0] =
// (nonce<<16) | ((len+1)<<8) | opcode, followed by the opcode's
// arguments.
func buildCmdBuf(nonce uint64, opcode uint64, args ...uint64) []uint64 {
	cmdBuf := make([]uint64, 0, len(args)+2)
	header := (nonce << 16) | ((uint64(len(args)) + 1) << 8) | opcode
	cmdBuf = append(cmdBuf, header)
	cmdBuf = append(cmdBuf, args...)
	return cmdBuf
}

type sendTransactionRequest struct {
	CmdBuf   []uint64 `json:"cmdBuf"`
	AdminKey string   `json:"adminKey"`
}

type rpcError struct {
	Message string `json:"message"`
}

func (r *HTTPClient) postJSON(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("l2client: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("l2client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("l2client: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var rpcErr rpcError
		_ = json.NewDecoder(resp.Body).Decode(&rpcErr)
		return fmt.Errorf("l2client: %s returned %d: %s", path, resp.StatusCode, rpcErr.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("l2client: decode response from %s: %w", path, err)
	}
	return nil
}

func (r *HTTPClient) GetNonce(ctx context.Context) (uint64, error) {
	var out struct {
		Nonce uint64 `json:"nonce"`
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/data/nonce", nil)
	if err != nil {
		return 0, fmt.Errorf("l2client: build nonce request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("l2client: fetch nonce: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("l2client: nonce endpoint returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("l2client: decode nonce response: %w", err)
	}
	return out.Nonce, nil
}

func (r *HTTPClient) CreatePlayer(ctx context.Context, nonce uint64) error {
	req := sendTransactionRequest{
		CmdBuf:   buildCmdBuf(nonce, OpcodeCreatePlayer),
		AdminKey: r.adminKey,
	}
	err := r.postJSON(ctx, "/send", req, nil)
	if err != nil && isAlreadyExistsError(err) {
		return nil
	}
	return err
}

func (r *HTTPClient) Deposit(ctx context.Context, nonce, pid1, pid2 uint64, tokenIndex uint32, amount uint64) error {
	req := sendTransactionRequest{
		CmdBuf:   buildCmdBuf(nonce, r.depositOpcode, pid1, pid2, uint64(tokenIndex), amount),
		AdminKey: r.adminKey,
	}
	return r.postJSON(ctx, "/send", req, nil)
}

func (r *HTTPClient) CheckDeposit(ctx context.Context, nonce, pid1, pid2 uint64, tokenIndex uint32, amount uint64) (bool, error) {
	var out struct {
		Data *json.RawMessage `json:"data"`
	}
	q := struct {
		Nonce      uint64 `json:"nonce"`
		PID1       uint64 `json:"pid_1"`
		PID2       uint64 `json:"pid_2"`
		TokenIndex uint32 `json:"tokenIndex"`
		Amount     uint64 `json:"amount"`
	}{nonce, pid1, pid2, tokenIndex, amount}

	if err := r.postJSON(ctx, "/data/checkDeposit", q, &out); err != nil {
		return false, err
	}
	return out.Data != nil, nil
}

func (r *HTTPClient) ReadyBundles(ctx context.Context) ([]bridgedomain.Bundle, error) {
	var out struct {
		Bundles []bridgedomain.Bundle `json:"bundles"`
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/data/bundles", nil)
	if err != nil {
		return nil, fmt.Errorf("l2client: build bundles request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("l2client: fetch bundles: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("l2client: bundles endpoint returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("l2client: decode bundles response: %w", err)
	}
	return out.Bundles, nil
}

func isAlreadyExistsError(err error) bool {
	// The admin player installation (spec §4.6) must tolerate the
	// player already existing from a prior run.
	return err != nil && strings.Contains(err.Error(), "already exists")
}

// Package evm adapts the ledger ports onto an EVM recurring-purchase
// contract over JSON-RPC. All calls pass through a circuit breaker so a dead
// node trips fast instead of hammering timeouts every cycle.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"drip/internal/ledger"
	"drip/internal/logger"
	"drip/internal/order"
	"drip/internal/pkg/circuit"
)

const (
	defaultCallTimeout = 15 * time.Second
	// headroom over the node's gas estimate; execution paths with token
	// transfers occasionally use more gas than the estimate at call time
	gasMargin = 20
)

var errBreakerOpen = errors.New("rpc circuit open")

// Config carries the connection parameters for the adapter.
type Config struct {
	RPCURL           string
	Contract         common.Address
	ChainID          int64
	PrivateKey       string // hex encoded, without 0x
	CallTimeout      time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Client implements ledger.Ledger against the contract.
type Client struct {
	eth         *ethclient.Client
	contract    common.Address
	chainID     *big.Int
	key         *ecdsa.PrivateKey
	from        common.Address
	signer      types.Signer
	dca         abi.ABI
	erc20       abi.ABI
	breaker     *circuit.Breaker
	callTimeout time.Duration
}

var _ ledger.Ledger = (*Client)(nil)

// Dial connects to the node and prepares the signing identity.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("evm: rpc url is required")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, fmt.Errorf("evm: contract address is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("evm: parsing private key: %w", err)
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dialing %s: %w", cfg.RPCURL, err)
	}
	dca, erc20, err := parseABIs()
	if err != nil {
		return nil, err
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	chainID := big.NewInt(cfg.ChainID)
	from := crypto.PubkeyToAddress(key.PublicKey)
	logger.Infof("evm: connected rpc=%s contract=%s keeper=%s chain=%d", cfg.RPCURL, cfg.Contract, from, cfg.ChainID)
	return &Client{
		eth:         eth,
		contract:    cfg.Contract,
		chainID:     chainID,
		key:         key,
		from:        from,
		signer:      types.LatestSignerForChainID(chainID),
		dca:         dca,
		erc20:       erc20,
		breaker:     circuit.NewBreaker("rpc", cfg.BreakerThreshold, cfg.BreakerCooldown),
		callTimeout: cfg.CallTimeout,
	}, nil
}

// Keeper returns the address transactions are signed with.
func (c *Client) Keeper() common.Address { return c.from }

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

func (c *Client) DueOrders(ctx context.Context) (ledger.DueBatch, error) {
	out, err := c.call(ctx, c.dca, c.contract, "checkUpkeep", []byte{})
	if err != nil {
		return ledger.DueBatch{}, ledger.E(ledger.KindTransientRead, "checkUpkeep", err)
	}
	needed, ok := out[0].(bool)
	if !ok {
		return ledger.DueBatch{}, ledger.E(ledger.KindTransientRead, "checkUpkeep", fmt.Errorf("unexpected output shape"))
	}
	if !needed {
		return ledger.DueBatch{}, nil
	}
	payload, _ := out[1].([]byte)
	ids, err := decodeOrderIDs(payload)
	if err != nil {
		return ledger.DueBatch{}, ledger.E(ledger.KindTransientRead, "checkUpkeep", err)
	}
	return ledger.DueBatch{IDs: ids, Payload: payload}, nil
}

func (c *Client) Order(ctx context.Context, id uint64) (order.Order, error) {
	out, err := c.call(ctx, c.dca, c.contract, "getOrder", new(big.Int).SetUint64(id))
	if err != nil {
		return order.Order{}, ledger.E(ledger.KindTransientRead, "getOrder", err)
	}
	if len(out) != 11 {
		return order.Order{}, ledger.E(ledger.KindTransientRead, "getOrder", fmt.Errorf("unexpected output arity %d", len(out)))
	}
	return order.Order{
		ID:                 id,
		Owner:              out[0].(common.Address),
		SourceAsset:        out[1].(common.Address),
		TargetAsset:        out[2].(common.Address),
		AmountPerInterval:  out[3].(*big.Int),
		Interval:           time.Duration(out[4].(*big.Int).Int64()) * time.Second,
		IntervalsCompleted: out[5].(*big.Int).Uint64(),
		TotalIntervals:     out[6].(*big.Int).Uint64(),
		NextExecution:      time.Unix(out[7].(*big.Int).Int64(), 0).UTC(),
		Start:              time.Unix(out[8].(*big.Int).Int64(), 0).UTC(),
		Active:             out[9].(bool),
		Exists:             out[10].(bool),
	}, nil
}

func (c *Client) Allowance(ctx context.Context, owner, asset common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.erc20, asset, "allowance", owner, c.contract)
	if err != nil {
		return nil, ledger.E(ledger.KindTransientRead, "allowance", err)
	}
	granted, ok := out[0].(*big.Int)
	if !ok {
		return nil, ledger.E(ledger.KindTransientRead, "allowance", fmt.Errorf("unexpected output shape"))
	}
	return granted, nil
}

func (c *Client) CreateOrder(ctx context.Context, spec ledger.CreateSpec) (uint64, error) {
	if spec.AmountPerInterval == nil || spec.AmountPerInterval.Sign() <= 0 {
		return 0, ledger.E(ledger.KindInvalidInput, "createOrder", fmt.Errorf("amount per interval must be positive"))
	}
	if spec.TotalIntervals == 0 || spec.Interval <= 0 {
		return 0, ledger.E(ledger.KindInvalidInput, "createOrder", fmt.Errorf("interval terms must be positive"))
	}

	// the contract assigns ids sequentially; read the next one before the
	// write so we can report what was created
	out, err := c.call(ctx, c.dca, c.contract, "nextOrderId")
	if err != nil {
		return 0, ledger.E(ledger.KindTransientRead, "nextOrderId", err)
	}
	id := out[0].(*big.Int).Uint64()

	err = c.transact(ctx, c.dca, c.contract, "createOrder",
		spec.SourceAsset,
		spec.TargetAsset,
		spec.AmountPerInterval,
		new(big.Int).SetInt64(int64(spec.Interval/time.Second)),
		new(big.Int).SetUint64(spec.TotalIntervals),
		new(big.Int).SetInt64(spec.FirstExecution.Unix()),
	)
	if err != nil {
		return 0, err
	}
	logger.Infof("evm: order %d created (%s -> %s, %d intervals)", id, spec.SourceAsset, spec.TargetAsset, spec.TotalIntervals)
	return id, nil
}

func (c *Client) ExecuteDue(ctx context.Context, batch ledger.DueBatch) error {
	return c.transact(ctx, c.dca, c.contract, "performUpkeep", batch.Payload)
}

func (c *Client) ExecuteOrder(ctx context.Context, id uint64) error {
	return c.transact(ctx, c.dca, c.contract, "executeOrder", new(big.Int).SetUint64(id))
}

func (c *Client) CancelOrder(ctx context.Context, id uint64) error {
	return c.transact(ctx, c.dca, c.contract, "cancelOrder", new(big.Int).SetUint64(id))
}

func (c *Client) Approve(ctx context.Context, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ledger.E(ledger.KindInvalidInput, "approve", fmt.Errorf("invalid approval amount"))
	}
	return c.transact(ctx, c.erc20, asset, "approve", c.contract, amount)
}

// call performs a read through the breaker with the configured timeout.
func (c *Client) call(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	if !c.breaker.Allow() {
		return nil, errBreakerOpen
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	raw, err := c.eth.CallContract(cctx, ethereum.CallMsg{From: c.from, To: &to, Data: data}, nil)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	c.breaker.RecordSuccess()
	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", method, err)
	}
	return out, nil
}

// transact signs and submits a state-changing call and waits for inclusion.
// Estimation reverts and failed receipts classify as permanent rejections;
// everything else on the submission path is a transient write.
func (c *Client) transact(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...interface{}) error {
	if !c.breaker.Allow() {
		return ledger.E(ledger.KindTransientWrite, method, errBreakerOpen)
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return ledger.E(ledger.KindInvalidInput, method, err)
	}

	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	nonce, err := c.eth.PendingNonceAt(cctx, c.from)
	if err != nil {
		c.breaker.RecordFailure()
		return ledger.E(ledger.KindTransientWrite, method, fmt.Errorf("nonce: %w", err))
	}
	gasPrice, err := c.eth.SuggestGasPrice(cctx)
	if err != nil {
		c.breaker.RecordFailure()
		return ledger.E(ledger.KindTransientWrite, method, fmt.Errorf("gas price: %w", err))
	}
	gas, err := c.eth.EstimateGas(cctx, ethereum.CallMsg{From: c.from, To: &to, Data: data})
	if err != nil {
		// an estimate that reverts will revert on chain too
		if isRevert(err) {
			return ledger.E(ledger.KindPermanentRejection, method, err)
		}
		c.breaker.RecordFailure()
		return ledger.E(ledger.KindTransientWrite, method, fmt.Errorf("gas estimate: %w", err))
	}
	gas += gas * gasMargin / 100

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gas, gasPrice, data)
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return ledger.E(ledger.KindInvalidInput, method, fmt.Errorf("signing: %w", err))
	}
	if err := c.eth.SendTransaction(cctx, signed); err != nil {
		c.breaker.RecordFailure()
		return ledger.E(ledger.KindTransientWrite, method, fmt.Errorf("send: %w", err))
	}
	c.breaker.RecordSuccess()
	logger.Debugf("evm: %s submitted tx=%s nonce=%d gas=%d", method, signed.Hash(), nonce, gas)

	receipt, err := bind.WaitMined(ctx, c.eth, signed)
	if err != nil {
		return ledger.E(ledger.KindTransientWrite, method, fmt.Errorf("waiting for receipt %s: %w", signed.Hash(), err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return ledger.E(ledger.KindPermanentRejection, method, fmt.Errorf("tx %s reverted in block %d", signed.Hash(), receipt.BlockNumber))
	}
	logger.Infof("evm: %s mined tx=%s block=%d gas_used=%d", method, signed.Hash(), receipt.BlockNumber, receipt.GasUsed)
	return nil
}

func decodeOrderIDs(performData []byte) ([]uint64, error) {
	if len(performData) == 0 {
		return nil, nil
	}
	vals, err := performDataArgs.Unpack(performData)
	if err != nil {
		return nil, fmt.Errorf("decoding performData: %w", err)
	}
	raw, ok := vals[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected performData shape")
	}
	ids := make([]uint64, 0, len(raw))
	for _, v := range raw {
		ids = append(ids, v.Uint64())
	}
	return ids, nil
}

func isRevert(err error) bool {
	return err != nil && strings.Contains(err.Error(), "execution reverted")
}

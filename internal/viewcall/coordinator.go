// Package viewcall implements the view-call subsystem (spec.md §4.5): it
// builds calldata for a $call(...) expression, executes it through a
// caller-supplied RPC transport, caches the decoded result keyed by
// block height, and applies accessor paths and cross-type widening to
// the result.
//
// This package does not parse $call(...) expressions out of a manifest
// value string, and does not resolve $field/$constant(...) target
// references on its own — those require the event's log params and the
// manifest's constant table, which only the table runtime holds. Target
// resolution for anything beyond a literal address or
// "$rindexer_contract_address" is delegated to a caller-supplied
// resolver function.
package viewcall

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/semaphore"

	"chainindexer/internal/abimap"
)

// DefaultMaxConcurrentCalls is the concurrency limiter default (spec.md
// §4.5 step 4); used when Config.MaxConcurrent is zero.
const DefaultMaxConcurrentCalls = 10

// Caller performs the actual RPC round-trip. internal/rpctransport
// provides the reference implementation; viewcall only depends on this
// narrow interface so it never imports a concrete transport.
type Caller interface {
	EthCall(ctx context.Context, network string, target common.Address, calldata []byte, blockNumber uint64) ([]byte, error)
}

// Config configures a Coordinator.
type Config struct {
	// MaxConcurrent caps in-flight RPC calls; zero means DefaultMaxConcurrentCalls.
	MaxConcurrent int64
}

type cacheKey struct {
	network     string
	target      common.Address
	calldata    string // []byte isn't comparable; hex-free raw string is fine as a map key
	blockNumber uint64
}

// CallRequest describes one view call to execute.
type CallRequest struct {
	Network      string
	Target       common.Address
	FunctionSig  string // "returns (...)" already trimmed
	ReturnFields []ReturnField
	Args         []any // resolved Go values, positionally matching the signature's parameter types
	BlockNumber  uint64
	Accessor     string
}

// Coordinator is the cache + concurrency limiter + executor for view
// calls. It is a value the caller constructs and owns — not a global
// singleton — so multiple indexer instances in one process never share
// state.
type Coordinator struct {
	caller Caller

	mu    sync.RWMutex
	cache map[cacheKey]abimap.DecodedValue
	sem   *semaphore.Weighted
}

// NewCoordinator builds a Coordinator backed by caller.
func NewCoordinator(caller Caller, cfg Config) *Coordinator {
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrentCalls
	}
	return &Coordinator{
		caller: caller,
		cache:  make(map[cacheKey]abimap.DecodedValue),
		sem:    semaphore.NewWeighted(limit),
	}
}

// Configure resets the concurrency limit. Intended for startup only —
// swapping the semaphore mid-flight drops any permits already acquired
// from the old one, so callers should do this before dispatching calls.
func (c *Coordinator) Configure(maxConcurrent int64) {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentCalls
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sem = semaphore.NewWeighted(maxConcurrent)
}

// Execute builds calldata, consults the cache, executes the call through
// the configured limiter if needed, decodes the result, and applies the
// request's accessor. The cache is consulted both before and after
// acquiring a permit, to avoid a thundering herd of identical calls
// racing into the RPC transport (spec.md §4.5 step 4).
func (c *Coordinator) Execute(ctx context.Context, req CallRequest) (abimap.DecodedValue, error) {
	_, paramTypes, err := ParseFunctionSignature(req.FunctionSig)
	if err != nil {
		return abimap.DecodedValue{}, err
	}
	calldata, err := BuildCalldata(req.FunctionSig, paramTypes, req.Args)
	if err != nil {
		return abimap.DecodedValue{}, err
	}

	key := cacheKey{
		network:     req.Network,
		target:      req.Target,
		calldata:    string(calldata),
		blockNumber: req.BlockNumber,
	}

	if v, ok := c.lookup(key); ok {
		return applyAccessor(v, req)
	}

	sem := c.currentSemaphore()
	if err := sem.Acquire(ctx, 1); err != nil {
		return abimap.DecodedValue{}, fmt.Errorf("viewcall: acquiring call permit: %w", err)
	}
	defer sem.Release(1)

	if v, ok := c.lookup(key); ok {
		return applyAccessor(v, req)
	}

	raw, err := c.caller.EthCall(ctx, req.Network, req.Target, calldata, req.BlockNumber)
	if err != nil {
		return abimap.DecodedValue{}, fmt.Errorf("viewcall: eth_call for %q: %w", req.FunctionSig, err)
	}

	decoded, err := DecodeReturn(raw, req.ReturnFields)
	if err != nil {
		return abimap.DecodedValue{}, err
	}

	c.store(key, decoded)

	return applyAccessor(decoded, req)
}

func applyAccessor(v abimap.DecodedValue, req CallRequest) (abimap.DecodedValue, error) {
	if req.Accessor == "" {
		return v, nil
	}
	return ApplyAccessor(v, req.Accessor, req.ReturnFields)
}

func (c *Coordinator) lookup(key cacheKey) (abimap.DecodedValue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.cache[key]
	return v, ok
}

func (c *Coordinator) store(key cacheKey, v abimap.DecodedValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = v
}

func (c *Coordinator) currentSemaphore() *semaphore.Weighted {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sem
}

// ResolveTarget resolves a $call target expression (spec.md §4.5 step 1):
// a literal address, "$rindexer_contract_address" (the event's own
// contract), or anything else prefixed with "$" ("$field" or
// "$constant(name)"), which is delegated to resolveField since only the
// table runtime has the log params and constant table in scope.
func ResolveTarget(expr string, contractAddress common.Address, resolveField func(spec string) (common.Address, error)) (common.Address, error) {
	switch {
	case expr == "$rindexer_contract_address":
		return contractAddress, nil
	case strings.HasPrefix(expr, "$"):
		return resolveField(strings.TrimPrefix(expr, "$"))
	default:
		if !common.IsHexAddress(expr) {
			return common.Address{}, fmt.Errorf("viewcall: %q is not a valid contract address", expr)
		}
		return common.HexToAddress(expr), nil
	}
}

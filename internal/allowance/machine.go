// Package allowance tracks whether the owner's spending permission covers a
// recurring order's full consumable budget, and walks the approve/confirm
// cycle when it does not. The ledger-held allowance value is the only truth;
// on any read error the machine fails safe to "needs approval".
package allowance

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"drip/internal/logger"
	"drip/internal/split"
)

// State of the permission check.
type State int

const (
	StateUnknown State = iota
	StateChecking
	StateSufficient
	StateInsufficient
	StateApprovalSubmitted
	StateApprovalConfirming
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateSufficient:
		return "sufficient"
	case StateInsufficient:
		return "insufficient-needs-approval"
	case StateApprovalSubmitted:
		return "approval-submitted"
	case StateApprovalConfirming:
		return "approval-confirming"
	default:
		return "unknown"
	}
}

// Ledger is the slice of the ledger ports the machine consumes.
type Ledger interface {
	Allowance(ctx context.Context, owner, asset common.Address) (*big.Int, error)
	Approve(ctx context.Context, asset common.Address, amount *big.Int) error
}

// Inputs are the order terms the permission must cover. Any change re-enters
// the checking state.
type Inputs struct {
	Owner          common.Address
	SourceAsset    common.Address
	Native         bool // chain-native unit, no permission required
	TotalBudget    *big.Int
	TotalIntervals uint64
}

const (
	DefaultConfirmPoll    = 2 * time.Second
	DefaultConfirmTimeout = 2 * time.Minute
)

// Params aggregates machine dependencies.
type Params struct {
	Ledger         Ledger
	ConfirmPoll    time.Duration
	ConfirmTimeout time.Duration
	// OnChange, when set, observes every state transition.
	OnChange func(State)
}

// Machine is safe for concurrent use. Ledger reads happen outside the lock; a
// generation counter discards results that a newer SetInputs has obsoleted.
type Machine struct {
	ledger         Ledger
	confirmPoll    time.Duration
	confirmTimeout time.Duration
	onChange       func(State)

	mu         sync.Mutex
	state      State
	inputs     Inputs
	required   *big.Int
	gen        uint64
	cancelPoll context.CancelFunc
}

func New(p Params) (*Machine, error) {
	if p.Ledger == nil {
		return nil, fmt.Errorf("allowance: nil ledger")
	}
	if p.ConfirmPoll <= 0 {
		p.ConfirmPoll = DefaultConfirmPoll
	}
	if p.ConfirmTimeout <= 0 {
		p.ConfirmTimeout = DefaultConfirmTimeout
	}
	return &Machine{
		ledger:         p.Ledger,
		confirmPoll:    p.ConfirmPoll,
		confirmTimeout: p.ConfirmTimeout,
		onChange:       p.OnChange,
		state:          StateUnknown,
	}, nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Required returns the total the permission must cover (ActualTotalUsed from
// the splitter), or nil before the first successful check.
func (m *Machine) Required() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.required == nil {
		return nil
	}
	return new(big.Int).Set(m.required)
}

// SetInputs installs new order terms and re-checks. Any in-flight
// confirmation poll is cancelled: its result belongs to stale terms.
func (m *Machine) SetInputs(ctx context.Context, in Inputs) State {
	m.mu.Lock()
	m.inputs = in
	m.gen++
	gen := m.gen
	if m.cancelPoll != nil {
		m.cancelPoll()
		m.cancelPoll = nil
	}
	m.mu.Unlock()

	return m.check(ctx, gen)
}

// Recheck re-runs the check against the current inputs, e.g. right after an
// approval confirmed.
func (m *Machine) Recheck(ctx context.Context) State {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	return m.check(ctx, gen)
}

func (m *Machine) check(ctx context.Context, gen uint64) State {
	m.mu.Lock()
	if gen != m.gen {
		s := m.state
		m.mu.Unlock()
		return s
	}
	in := m.inputs
	m.transitionLocked(StateChecking)
	m.mu.Unlock()

	if in.Native {
		// Nothing to approve for the chain's native unit.
		return m.apply(gen, StateSufficient, big.NewInt(0))
	}

	res, err := split.Split(in.TotalBudget, in.TotalIntervals)
	if err != nil {
		logger.Warnf("allowance: cannot compute required total: %v", err)
		return m.apply(gen, StateInsufficient, nil)
	}

	granted, err := m.ledger.Allowance(ctx, in.Owner, in.SourceAsset)
	if err != nil {
		// Never silently assume sufficiency on a read error.
		logger.Warnf("allowance: read failed, assuming approval needed: %v", err)
		return m.apply(gen, StateInsufficient, res.ActualTotalUsed)
	}

	if granted.Cmp(res.ActualTotalUsed) >= 0 {
		return m.apply(gen, StateSufficient, res.ActualTotalUsed)
	}
	return m.apply(gen, StateInsufficient, res.ActualTotalUsed)
}

// SubmitApproval grants the ledger contract the required total and starts the
// bounded confirmation poll. Only valid in the insufficient state.
func (m *Machine) SubmitApproval(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateInsufficient {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("allowance: cannot approve from state %s", state)
	}
	if m.required == nil {
		m.mu.Unlock()
		return fmt.Errorf("allowance: required total unknown")
	}
	in := m.inputs
	amount := new(big.Int).Set(m.required)
	gen := m.gen
	m.mu.Unlock()

	if err := m.ledger.Approve(ctx, in.SourceAsset, amount); err != nil {
		return fmt.Errorf("allowance: approval submission: %w", err)
	}
	m.apply(gen, StateApprovalSubmitted, amount)

	pollCtx, cancel := context.WithTimeout(ctx, m.confirmTimeout)
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.cancelPoll = cancel
	m.mu.Unlock()

	m.apply(gen, StateApprovalConfirming, amount)
	go func() {
		defer cancel()
		m.confirmLoop(pollCtx, gen)
	}()
	return nil
}

// confirmLoop re-checks on a fixed cadence until the permission shows up,
// the timeout lapses, or newer inputs cancel it.
func (m *Machine) confirmLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(m.confirmPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debugf("allowance: confirmation poll stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			if m.check(ctx, gen) == StateSufficient {
				return
			}
			// not yet visible; restore the confirming state for observers
			m.apply(gen, StateApprovalConfirming, nil)
		}
	}
}

// apply commits a state if gen is still current; returns the live state.
func (m *Machine) apply(gen uint64, s State, required *big.Int) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return m.state
	}
	if required != nil {
		m.required = required
	}
	m.transitionLocked(s)
	return m.state
}

func (m *Machine) transitionLocked(s State) {
	if m.state == s {
		return
	}
	logger.Debugf("allowance: %s -> %s", m.state, s)
	m.state = s
	if m.onChange != nil {
		m.onChange(s)
	}
}

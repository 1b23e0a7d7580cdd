package propagation

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"slices"
	"sync"

	"mercator-hq/bastion/pkg/policy"
)

// ErrTransportTimeout is returned by transports whose push timed out. It is
// classified the same as context.DeadlineExceeded.
var ErrTransportTimeout = errors.New("transport timeout")

// Transport delivers a policy to the service named by the binding.
type Transport interface {
	Push(ctx context.Context, b policy.ServicePolicyBinding, p *policy.Policy) error
	Name() string
}

// Withdrawer is implemented by transports that can retract a policy from a
// service once it is deleted or disabled.
type Withdrawer interface {
	Withdraw(ctx context.Context, serviceID, policyID string) error
}

// Message is the wire form of a push.
type Message struct {
	ServiceID string                      `json:"service_id"`
	Binding   policy.ServicePolicyBinding `json:"binding"`
	Policy    *policy.Policy              `json:"policy"`
}

func encodeMessage(b policy.ServicePolicyBinding, p *policy.Policy) ([]byte, error) {
	return json.Marshal(Message{ServiceID: b.ServiceID, Binding: b, Policy: p})
}

// wrapTimeout turns network timeouts into ErrTransportTimeout.
func wrapTimeout(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() && !errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTransportTimeout, err)
	}
	return err
}

// Discard accepts every push and drops it.
type Discard struct{}

// Name returns "discard".
func (Discard) Name() string { return "discard" }

// Push does nothing.
func (Discard) Push(context.Context, policy.ServicePolicyBinding, *policy.Policy) error { return nil }

// Memory records pushes in memory. It is used in tests and for local runs.
type Memory struct {
	mu          sync.Mutex
	pushes      []Message
	withdrawals []Message

	// Fail, when set, is consulted before recording a push.
	Fail func(serviceID, policyID string) error
}

// NewMemory creates an empty memory transport.
func NewMemory() *Memory {
	return &Memory{}
}

// Name returns "memory".
func (m *Memory) Name() string { return "memory" }

// Push records the push unless Fail returns an error.
func (m *Memory) Push(ctx context.Context, b policy.ServicePolicyBinding, p *policy.Policy) error {
	if m.Fail != nil {
		if err := m.Fail(b.ServiceID, p.ID); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, Message{ServiceID: b.ServiceID, Binding: b, Policy: p.Clone()})
	return nil
}

// Pushes returns the recorded pushes in arrival order.
func (m *Memory) Pushes() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.pushes)
}

// Withdraw records the withdrawal.
func (m *Memory) Withdraw(_ context.Context, serviceID, policyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withdrawals = append(m.withdrawals, Message{
		ServiceID: serviceID,
		Policy:    &policy.Policy{ID: policyID},
	})
	return nil
}

// Withdrawals returns the recorded withdrawals in arrival order.
func (m *Memory) Withdrawals() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.withdrawals)
}

// Func adapts a function to the Transport interface.
type Func func(ctx context.Context, b policy.ServicePolicyBinding, p *policy.Policy) error

// Name returns "func".
func (f Func) Name() string { return "func" }

// Push calls f.
func (f Func) Push(ctx context.Context, b policy.ServicePolicyBinding, p *policy.Policy) error {
	return f(ctx, b, p)
}

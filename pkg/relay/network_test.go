package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/channel"
	"github.com/sara-star-quant/qkdnet/pkg/crypto"
	"github.com/sara-star-quant/qkdnet/pkg/network"
	"github.com/sara-star-quant/qkdnet/pkg/qsim"
	"github.com/sara-star-quant/qkdnet/pkg/topology"
)

// deafEndpoint drops everything it sends and never receives anything.
type deafEndpoint struct {
	channel.Endpoint
}

func (deafEndpoint) SendQubit(context.Context, string, channel.Qubit, time.Duration) error {
	return nil
}

func (deafEndpoint) SendClassical(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (e deafEndpoint) wait(ctx context.Context, ch, from string, timeout time.Duration) error {
	select {
	case <-time.After(timeout):
		return &qerrors.ChannelTimeoutError{Channel: ch, Op: "receive", From: from, To: e.ID(), Timeout: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e deafEndpoint) ReceiveQubit(ctx context.Context, from string, timeout time.Duration) (channel.Qubit, error) {
	return nil, e.wait(ctx, "quantum", from, timeout)
}

func (e deafEndpoint) ReceiveClassical(ctx context.Context, from string, timeout time.Duration) ([]byte, error) {
	return nil, e.wait(ctx, "classical", from, timeout)
}

// deafNetwork is a simulated network on which one node hears nothing.
type deafNetwork struct {
	Network
	deaf string
}

func (n deafNetwork) Endpoint(node string) channel.Endpoint {
	ep := n.Network.Endpoint(node)
	if node == n.deaf {
		return deafEndpoint{ep}
	}
	return ep
}

func deafAt(node string) NetworkFactory {
	return func(hops []topology.Hop) (Network, error) {
		nw := network.New(qsim.New(crypto.Reader))
		for _, h := range hops {
			if err := nw.Connect(h.From, h.To); err != nil {
				nw.Close()
				return nil, err
			}
		}
		return deafNetwork{Network: Simulated(nw), deaf: node}, nil
	}
}

func TestSilentNodeTimesOutItsHop(t *testing.T) {
	g := line(t, []string{"A", "B", "C", "D"})
	wait := 500 * time.Millisecond
	o := newOrchestrator(t, func(c *Config) {
		c.Link.WaitTime = wait
	}, WithNetwork(deafAt("D")))

	start := time.Now()
	report, err := o.Run(context.Background(), g, []byte(message))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*wait, "run did not honor WaitTime")

	var te *qerrors.ChannelTimeoutError
	require.True(t, errors.As(err, &te), "expected ChannelTimeoutError, got %v", err)
	assert.Equal(t, "D", te.To)

	var le *qerrors.LinkError
	require.True(t, errors.As(err, &le), "expected LinkError, got %v", err)
	assert.Equal(t, 2, le.Hop)
	assert.Equal(t, "D", le.Node)

	p := report.Primary
	require.Len(t, p.Hops, 3)
	assert.True(t, p.Hops[0].Established, "upstream hop harmed: %v", p.Hops[0].Err)
	assert.True(t, p.Hops[1].Established, "upstream hop harmed: %v", p.Hops[1].Err)
	assert.False(t, p.Hops[2].Established)
	assert.ErrorIs(t, p.Hops[2].Err, qerrors.ErrChannelTimeout)
	assert.False(t, p.Intact)
	assert.Empty(t, p.Delivered)
}

func TestNetworkFactoryErrorStopsRun(t *testing.T) {
	boom := errors.New("no fibre")
	o := newOrchestrator(t, nil, WithNetwork(func([]topology.Hop) (Network, error) {
		return nil, boom
	}))

	report, err := o.Run(context.Background(), line(t, []string{"A", "B"}), []byte(message))
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, report.Primary)
	assert.Empty(t, report.Primary.Hops)
	assert.EqualValues(t, 1, o.Collector().Snapshot().PathsFailed)
}

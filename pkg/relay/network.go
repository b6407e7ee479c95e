package relay

import (
	"github.com/sara-star-quant/qkdnet/pkg/channel"
	"github.com/sara-star-quant/qkdnet/pkg/metrics"
	"github.com/sara-star-quant/qkdnet/pkg/network"
	"github.com/sara-star-quant/qkdnet/pkg/qsim"
	"github.com/sara-star-quant/qkdnet/pkg/topology"
)

// Network carries the hops of one path run. Implementations that also
// have a Stats() network.Stats method get their counters copied into the
// path report.
type Network interface {
	// Endpoint returns node's view of the quantum and classical channels.
	Endpoint(node string) channel.Endpoint

	// Close releases the network. Pending channel waits must return.
	Close()
}

// NetworkFactory builds the network for one path run with every hop
// connected.
type NetworkFactory func(hops []topology.Hop) (Network, error)

// WithNetwork runs paths over networks built by f instead of the in-memory
// simulator. Spies and SpyProbability are then up to f.
func WithNetwork(f NetworkFactory) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.network = f
		}
	}
}

// Simulated adapts an in-memory network to Network.
func Simulated(nw *network.Network) Network {
	return simNetwork{nw}
}

type simNetwork struct {
	*network.Network
}

func (n simNetwork) Endpoint(node string) channel.Endpoint {
	return n.Host(node)
}

// simulated is the default factory: one simulator per run, each hop wired
// with the spies on its raw route.
func (o *Orchestrator) simulated(rs streams, log *metrics.Logger) NetworkFactory {
	return func(hops []topology.Hop) (Network, error) {
		nw := network.New(qsim.New(rs.get("qsim")),
			network.WithQueueCapacity(o.cfg.QueueCapacity),
			network.WithRand(rs.get("network")),
			network.WithLogger(log),
		)
		for _, h := range hops {
			spies := make([]network.Spy, len(h.Via))
			for i, id := range h.Via {
				spies[i] = network.Spy{ID: id, Probability: o.cfg.SpyProbability}
			}
			if err := nw.Connect(h.From, h.To, spies...); err != nil {
				nw.Close()
				return nil, err
			}
		}
		return Simulated(nw), nil
	}
}

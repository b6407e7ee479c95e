package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/crypto"
	"github.com/sara-star-quant/qkdnet/pkg/link"
	"github.com/sara-star-quant/qkdnet/pkg/metrics"
	"github.com/sara-star-quant/qkdnet/pkg/network"
	"github.com/sara-star-quant/qkdnet/pkg/topology"
)

// Session slots per hop.
const (
	sideInitiator = 0
	sideResponder = 1
)

// RunPath delivers message over path, which must be a valid path of g.
// Every node task is joined before RunPath returns. The report is returned
// on failure too, with Err set to the first hop failure that was not a
// consequence of another one.
func (o *Orchestrator) RunPath(ctx context.Context, g *topology.Graph, path topology.Path, message []byte) (*PathReport, error) {
	hops, err := g.Hops(path)
	if err != nil {
		return nil, err
	}

	report := &PathReport{
		RunID:     uuid.NewString(),
		Path:      path,
		RelayPath: g.RelayPath(path),
	}
	log := o.logger.With(metrics.Fields{"run_id": report.RunID, "path": path.String()})

	if o.cfg.PathTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.PathTimeout)
		defer cancel()
	}

	obs := metrics.NewPathObserver(o.collector, o.tracer, log)
	ctx, end := obs.OnPathStart(ctx, report.RunID, path.String())
	start := time.Now()

	rs := o.streams(path)
	build := o.network
	if build == nil {
		build = o.simulated(rs, log)
	}
	nw, err := build(hops)
	if err != nil {
		end(0, err)
		return report, err
	}
	defer nw.Close()

	r := &pathRun{
		cfg:      o.cfg,
		nw:       nw,
		obs:      obs,
		log:      log,
		streams:  rs,
		hops:     hops,
		message:  message,
		sessions: make([][2]*link.Session, len(hops)),
		hopErrs:  make([][2]error, len(hops)),
		relays:   make([]RelayReport, len(hops)-1),
	}

	log.Info("path started", metrics.Fields{
		"hops":     len(hops),
		"relays":   len(hops) - 1,
		"protocol": o.cfg.Link.Protocol.String(),
	})
	cause := r.execute(ctx)
	r.fill(report)
	if s, ok := nw.(interface{ Stats() network.Stats }); ok {
		report.Traffic = s.Stats()
	}
	report.Duration = time.Since(start)
	report.Err = cause

	if cause != nil {
		log.Error("path failed", metrics.Fields{"error": cause, "kind": metrics.FailureKind(cause)})
		end(0, cause)
		return report, cause
	}
	log.Info("path delivered", metrics.Fields{
		"intact":    report.Intact,
		"unsafe":    len(report.Unsafe()),
		"disturbed": report.Traffic.QubitsDisturbed,
		"duration":  report.Duration.String(),
	})
	end(len(report.Delivered), nil)
	return report, nil
}

// pathRun is the state of one RunPath call. Session and error slots are
// each written by a single node task and read after the group is joined.
type pathRun struct {
	cfg     Config
	nw      Network
	obs     *metrics.PathObserver
	log     *metrics.Logger
	streams streams
	hops    []topology.Hop
	message []byte

	sessions [][2]*link.Session
	hopErrs  [][2]error
	relays   []RelayReport

	delivered []byte

	mu       sync.Mutex
	failures []error
}

func (r *pathRun) execute(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.sender(gctx) })
	for i := 1; i < len(r.hops); i++ {
		g.Go(func() error { return r.relay(gctx, i) })
	}
	g.Go(func() error { return r.receiver(gctx) })

	if err := g.Wait(); err == nil {
		return nil
	}
	return r.cause()
}

// cause picks the first failure that did not merely follow another task's
// failure. When only follow-on failures were seen the chain was aborted
// from outside.
func (r *pathRun) cause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, err := range r.failures {
		if !secondary(err) {
			return err
		}
	}
	if len(r.failures) == 0 {
		return qerrors.ErrAborted
	}
	return fmt.Errorf("%w: %w", qerrors.ErrAborted, r.failures[0])
}

func secondary(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, qerrors.ErrPeerAborted) ||
		errors.Is(err, qerrors.ErrNetworkClosed)
}

func (r *pathRun) fail(hop topology.Hop, node string, side int, err error) error {
	lerr := qerrors.NewLinkError(hop.Index, hop.From, hop.To, node, err)
	r.hopErrs[hop.Index][side] = lerr
	r.mu.Lock()
	r.failures = append(r.failures, lerr)
	r.mu.Unlock()
	r.log.Debug("task failed", metrics.Fields{"node": node, "hop": hop.Index, "error": err, "kind": metrics.FailureKind(err)})
	return lerr
}

func (r *pathRun) engine(node string, hop topology.Hop) (*link.Engine, error) {
	cfg := r.cfg.Link
	cfg.Rand = r.streams.get(fmt.Sprintf("node:%s:hop:%d", node, hop.Index))
	return link.NewEngine(cfg,
		link.WithLogger(r.log),
		link.WithObserver(func(s *link.Session) link.Observer {
			return r.obs.NewLinkObserver(metrics.LinkAttributes{
				SessionID: s.ID,
				Local:     s.Local,
				Peer:      s.Peer,
				Role:      s.Role.String(),
				Protocol:  s.Protocol.String(),
				Hop:       hop.Index,
			})
		}),
	)
}

// initiate runs node's initiator end of hop with a fresh secret and applies
// the eavesdropper policy to the result.
func (r *pathRun) initiate(ctx context.Context, node string, hop topology.Hop) (*link.Session, error) {
	eng, err := r.engine(node, hop)
	if err != nil {
		return nil, err
	}
	secret, err := crypto.RandomBits(r.streams.get(fmt.Sprintf("secret:%s:hop:%d", node, hop.Index)), r.cfg.Link.KeySize)
	if err != nil {
		return nil, err
	}
	defer secret.Zeroize()

	s, err := eng.Initiate(ctx, r.nw.Endpoint(node), hop.To, secret)
	r.sessions[hop.Index][sideInitiator] = s
	if err != nil {
		return s, err
	}
	return s, r.cfg.Policy.Apply(s.Verdict)
}

func (r *pathRun) respond(ctx context.Context, node string, hop topology.Hop) (*link.Session, error) {
	eng, err := r.engine(node, hop)
	if err != nil {
		return nil, err
	}
	s, err := eng.Respond(ctx, r.nw.Endpoint(node), hop.From)
	r.sessions[hop.Index][sideResponder] = s
	if err != nil {
		return s, err
	}
	return s, r.cfg.Policy.Apply(s.Verdict)
}

func (r *pathRun) sender(ctx context.Context) error {
	hop := r.hops[0]
	node := hop.From
	host := r.nw.Endpoint(node)

	s, err := r.initiate(ctx, node, hop)
	if err != nil {
		return r.fail(hop, node, sideInitiator, err)
	}

	var ct []byte
	err = r.obs.OnCipher(ctx, metrics.SpanEncrypt, func() error {
		c, err := crypto.NewXORCipherFromBits(s.SiftedKey)
		if err != nil {
			return err
		}
		defer c.Zeroize()
		ct = c.Encrypt(r.message)
		return nil
	})
	if err != nil {
		link.Abort(ctx, host, hop.To, err)
		return r.fail(hop, node, sideInitiator, err)
	}

	if err := link.SendPayload(ctx, host, hop.To, ct, r.cfg.Link.WaitTime); err != nil {
		return r.fail(hop, node, sideInitiator, err)
	}
	r.log.Debug("payload sent", metrics.Fields{"node": node, "to": hop.To, "bytes": len(ct)})
	return nil
}

// relay runs relay node i, which sits between hops i-1 and i. The
// ciphertext is moved from the upstream key to the downstream key without
// being decrypted.
func (r *pathRun) relay(ctx context.Context, i int) error {
	in, out := r.hops[i-1], r.hops[i]
	node := in.To
	host := r.nw.Endpoint(node)

	prev, err := r.respond(ctx, node, in)
	if err != nil {
		return r.fail(in, node, sideResponder, err)
	}
	ct, err := link.ReceivePayload(ctx, host, in.From, r.cfg.Link.WaitTime)
	if err != nil {
		return r.fail(in, node, sideResponder, err)
	}

	next, err := r.initiate(ctx, node, out)
	if err != nil {
		return r.fail(out, node, sideInitiator, err)
	}

	var fwd []byte
	err = r.obs.OnCipher(ctx, metrics.SpanRelay, func() error {
		moved, composed, err := crypto.Recompose(ct, prev.SiftedKey, next.SiftedKey)
		if err != nil {
			return err
		}
		r.relays[i-1] = RelayReport{Node: node, ComposedKeyLength: len(composed)}
		composed.Zeroize()
		fwd = moved
		return nil
	})
	if err != nil {
		link.Abort(ctx, host, out.To, err)
		return r.fail(out, node, sideInitiator, err)
	}

	if err := link.SendPayload(ctx, host, out.To, fwd, r.cfg.Link.WaitTime); err != nil {
		return r.fail(out, node, sideInitiator, err)
	}
	r.log.Debug("payload forwarded", metrics.Fields{"node": node, "from": in.From, "to": out.To})
	return nil
}

func (r *pathRun) receiver(ctx context.Context) error {
	hop := r.hops[len(r.hops)-1]
	node := hop.To
	host := r.nw.Endpoint(node)

	s, err := r.respond(ctx, node, hop)
	if err != nil {
		return r.fail(hop, node, sideResponder, err)
	}
	ct, err := link.ReceivePayload(ctx, host, hop.From, r.cfg.Link.WaitTime)
	if err != nil {
		return r.fail(hop, node, sideResponder, err)
	}

	err = r.obs.OnCipher(ctx, metrics.SpanDecrypt, func() error {
		c, err := crypto.NewXORCipherFromBits(s.SiftedKey)
		if err != nil {
			return err
		}
		defer c.Zeroize()
		r.delivered = c.Decrypt(ct)
		return nil
	})
	if err != nil {
		return r.fail(hop, node, sideResponder, err)
	}
	return nil
}

// fill copies the joined run into report and wipes the session keys.
func (r *pathRun) fill(report *PathReport) {
	report.Hops = make([]HopReport, len(r.hops))
	for i, h := range r.hops {
		hr := HopReport{
			Index:    h.Index,
			From:     h.From,
			To:       h.To,
			Spies:    h.Via,
			Protocol: r.cfg.Link.Protocol.String(),
		}
		ini, rsp := r.sessions[i][sideInitiator], r.sessions[i][sideResponder]
		if ini != nil {
			hr.SenderFingerprint = ini.Fingerprint()
			ini.Zeroize()
		}
		if rsp != nil {
			hr.ReceiverFingerprint = rsp.Fingerprint()
			hr.SiftedKeyLength = len(rsp.SiftedKey)
			hr.ErrorRate = rsp.ErrorRate
			hr.Safe = rsp.Verdict.Safe
			rsp.Zeroize()
		}
		hr.Established = ini != nil && rsp != nil && ini.Established() && rsp.Established()

		for _, err := range r.hopErrs[i] {
			if err != nil && (hr.Err == nil || secondary(hr.Err) && !secondary(err)) {
				hr.Err = err
			}
		}
		if !hr.Established && hr.Err == nil {
			hr.Err = qerrors.ErrAborted
		}
		report.Hops[i] = hr
	}

	for _, rr := range r.relays {
		if rr.Node != "" {
			report.Relays = append(report.Relays, rr)
		}
	}

	if r.delivered != nil {
		report.Delivered = string(r.delivered)
		report.Intact = bytes.Equal(r.delivered, r.message)
	}
}

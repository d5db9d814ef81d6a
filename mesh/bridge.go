package mesh

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/bitcraps/bitcraps/common"
	"github.com/bitcraps/bitcraps/consensus"
	"github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/metrics"
	"github.com/bitcraps/bitcraps/protocol"
)

// Config tunes one bridge instance.
type Config struct {
	// GameID scopes the bridge to one game's traffic.
	GameID protocol.GameID

	// Identity signs outgoing frames.
	Identity *crypto.Identity

	// Keys verifies incoming frame signatures by sender.
	Keys map[protocol.PeerID]ed25519.PublicKey

	// MaxFrameBytes is the fragmentation threshold.
	MaxFrameBytes int

	// DedupCacheSize bounds the per-game duplicate LRU.
	DedupCacheSize int

	// FanoutRate and FanoutBurst bound gossip forwarding per neighbor.
	FanoutRate  float64
	FanoutBurst float64

	// MaintenanceInterval drives TTL eviction and view-change checks.
	MaintenanceInterval time.Duration

	Clock   common.Clock
	Logger  slog.Logger
	Metrics *metrics.Metrics

	// OnCommit is invoked for every state commit the engine reports.
	// It runs on the bridge goroutine; receivers must not block.
	OnCommit func(consensus.StateCommitted)

	// OnEvidence is invoked for every evidence record this peer
	// detects or accepts from gossip. Same goroutine rules as OnCommit.
	OnEvidence func(*protocol.EvidenceRecord)
}

// DefaultBridgeConfig returns the standard tuning. Callers fill in the
// game, identity and key fields.
func DefaultBridgeConfig() Config {
	return Config{
		MaxFrameBytes:       1024,
		DedupCacheSize:      4096,
		FanoutRate:          200,
		FanoutBurst:         400,
		MaintenanceInterval: time.Second,
		Clock:               common.SystemClock{},
		Logger:              slog.Disabled,
		Metrics:             metrics.NewNop(),
	}
}

// Bridge adapts the consensus engine to the unreliable broadcast
// substrate: framing, fan-out, dedup, reassembly and sync.
type Bridge struct {
	cfg       Config
	engine    *consensus.Engine
	transport Transport

	self    protocol.PeerID
	dedup   *deduper
	reasm   *reassembler
	buckets *bucketSet
	budget  *common.LoopBudget

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBridge wires an engine to a transport.
func NewBridge(engine *consensus.Engine, transport Transport, cfg Config) (*Bridge, error) {
	if engine == nil || transport == nil {
		return nil, errors.New("mesh: bridge needs an engine and a transport")
	}
	if cfg.Identity == nil {
		return nil, errors.New("mesh: bridge needs an identity")
	}
	if cfg.Clock == nil {
		cfg.Clock = common.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Disabled
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 1024
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = time.Second
	}
	return &Bridge{
		cfg:       cfg,
		engine:    engine,
		transport: transport,
		self:      protocol.PeerID(cfg.Identity.PeerID),
		dedup:     newDeduper(cfg.DedupCacheSize),
		reasm:     newReassembler(),
		buckets:   newBucketSet(cfg.FanoutRate, cfg.FanoutBurst),
		budget:    common.ForNetwork(),
	}, nil
}

// Start launches the receive and maintenance loops. They run until the
// context is cancelled or Stop is called; cancellation mid-send has no
// visible effect on consensus, which re-requests what it needs.
func (b *Bridge) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(2)
	go b.receiveLoop(ctx)
	go b.maintenanceLoop(ctx)
}

// Stop cancels the loops and waits for them to exit.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.dedup.drop(b.cfg.GameID)
}

// BroadcastProposal publishes a signed proposal.
func (b *Bridge) BroadcastProposal(p *protocol.Proposal) error {
	return b.broadcast(MsgProposal, protocol.EncodeProposal(p))
}

// BroadcastVote publishes a signed vote.
func (b *Bridge) BroadcastVote(v *protocol.Vote) error {
	return b.broadcast(MsgVote, protocol.EncodeVote(v))
}

// BroadcastEvidence publishes an evidence record.
func (b *Bridge) BroadcastEvidence(ev *protocol.EvidenceRecord) error {
	return b.broadcast(MsgEvidence, protocol.EncodeEvidence(ev))
}

// RequestSync asks neighbors for everything past the current head.
func (b *Bridge) RequestSync() error {
	head := b.engine.Head()
	req := &protocol.SyncRequest{
		GameID:    b.cfg.GameID,
		KnownHead: head.HeadHash,
		FromSeq:   head.Sequence + 1,
	}
	b.cfg.Metrics.SyncRequests.Inc()
	return b.broadcast(MsgSyncRequest, protocol.EncodeSyncRequest(req))
}

func (b *Bridge) broadcast(kind MsgKind, payload []byte) error {
	frames := fragmentMessage(kind, b.self, b.cfg.GameID, payload,
		b.cfg.MaxFrameBytes, b.cfg.Identity.Priv)
	for _, env := range frames {
		// Mark own frames seen so the gossip echo is absorbed.
		b.dedup.seen(b.cfg.GameID, env.MsgID, env.FragIndex)
		if err := b.transport.Broadcast(b.cfg.GameID, env.Encode()); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) sendTo(peer protocol.PeerID, kind MsgKind, payload []byte) error {
	frames := fragmentMessage(kind, b.self, b.cfg.GameID, payload,
		b.cfg.MaxFrameBytes, b.cfg.Identity.Priv)
	for _, env := range frames {
		b.dedup.seen(b.cfg.GameID, env.MsgID, env.FragIndex)
		if err := b.transport.Send(peer, b.cfg.GameID, env.Encode()); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) receiveLoop(ctx context.Context) {
	defer b.wg.Done()
	incoming := b.transport.Incoming(b.cfg.GameID)

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-incoming:
			if !ok {
				return
			}
			if !b.budget.CanProceed() {
				b.budget.Backoff()
			}
			b.handleFrame(frame)
		}
	}
}

func (b *Bridge) maintenanceLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := b.cfg.Clock.Now()

			// Evicted pending proposals may still matter; re-request.
			if evicted := b.engine.EvictStale(now); len(evicted) > 0 {
				b.cfg.Logger.Debugf("game %s: %d pending proposals expired, re-requesting",
					b.cfg.GameID, len(evicted))
				if err := b.RequestSync(); err != nil {
					b.cfg.Logger.Warnf("game %s: sync request failed: %v", b.cfg.GameID, err)
				}
			}

			// Stalled round: the smallest connected participant steps up.
			connected := append(b.transport.Neighbors(b.cfg.GameID), b.self)
			p, out, err := b.engine.MaybeViewChange(now, connected, nil)
			if err != nil {
				b.cfg.Logger.Warnf("game %s: view change failed: %v", b.cfg.GameID, err)
				continue
			}
			if p != nil {
				if err := b.BroadcastProposal(p); err != nil {
					b.cfg.Logger.Warnf("game %s: view change broadcast failed: %v", b.cfg.GameID, err)
				}
				b.dispatchOutbound(out)
			}
		}
	}
}

// handleFrame is the single entry point for substrate input: decode,
// verify, dedup, gossip, reassemble, dispatch.
func (b *Bridge) handleFrame(frame InboundFrame) {
	env, err := DecodeEnvelope(frame.Bytes)
	if err != nil {
		b.cfg.Logger.Debugf("dropping malformed frame from %s: %v", frame.From, err)
		return
	}
	if env.GameID != b.cfg.GameID || env.Sender == b.self {
		return
	}
	pub, ok := b.cfg.Keys[env.Sender]
	if !ok || !env.VerifySignature(pub) {
		b.cfg.Logger.Debugf("dropping frame with bad signature from %s", env.Sender)
		return
	}
	if b.dedup.seen(env.GameID, env.MsgID, env.FragIndex) {
		b.cfg.Metrics.MessagesDeduplicated.Inc()
		return
	}

	b.forward(env, frame)

	payload, complete := b.reasm.add(env, b.cfg.Clock.Now())
	if !complete {
		return
	}
	b.dispatch(env.Kind, env.Sender, payload)
}

// forward gossips an unseen frame to every neighbor except the one it
// arrived from, within the per-neighbor token budget.
func (b *Bridge) forward(env *Envelope, frame InboundFrame) {
	for _, neighbor := range b.transport.Neighbors(b.cfg.GameID) {
		if neighbor == frame.From || neighbor == env.Sender {
			continue
		}
		bucket := b.buckets.get(neighbor.String() + "/" + env.GameID.String())
		if !bucket.allow() {
			continue // drop, never queue
		}
		if err := b.transport.Send(neighbor, env.GameID, frame.Bytes); err != nil {
			continue // best-effort path: absorb and move on
		}
		b.cfg.Metrics.MessagesForwarded.Inc()
	}
}

func (b *Bridge) dispatch(kind MsgKind, sender protocol.PeerID, payload []byte) {
	now := b.cfg.Clock.Now()

	switch kind {
	case MsgProposal:
		p, err := protocol.DecodeProposal(payload)
		if err != nil {
			b.cfg.Logger.Debugf("bad proposal payload from %s: %v", sender, err)
			return
		}
		out, err := b.engine.HandleProposal(p, now)
		b.dispatchOutbound(out)
		switch {
		case err == nil:
		case errors.Is(err, protocol.ErrMissingAncestor):
			if serr := b.RequestSync(); serr != nil {
				b.cfg.Logger.Warnf("sync request failed: %v", serr)
			}
		case errors.Is(err, protocol.ErrStale):
			// Silent drop.
		default:
			b.cfg.Logger.Debugf("proposal from %s dropped: %v", sender, err)
		}

	case MsgVote:
		v, err := protocol.DecodeVote(payload)
		if err != nil {
			b.cfg.Logger.Debugf("bad vote payload from %s: %v", sender, err)
			return
		}
		out, err := b.engine.HandleVote(v, now)
		b.dispatchOutbound(out)
		if err != nil && !errors.Is(err, protocol.ErrStale) {
			b.cfg.Logger.Debugf("vote from %s dropped: %v", sender, err)
		}

	case MsgEvidence:
		ev, err := protocol.DecodeEvidence(payload)
		if err != nil {
			b.cfg.Logger.Debugf("bad evidence payload from %s: %v", sender, err)
			return
		}
		if err := b.engine.AddEvidence(ev); err != nil {
			b.cfg.Logger.Debugf("evidence from %s rejected: %v", sender, err)
			return
		}
		if b.cfg.OnEvidence != nil {
			b.cfg.OnEvidence(ev)
		}

	case MsgSyncRequest:
		req, err := protocol.DecodeSyncRequest(payload)
		if err != nil {
			return
		}
		resp := b.engine.BuildSyncResponse(req)
		if len(resp.Entries) == 0 {
			return
		}
		if err := b.sendTo(sender, MsgSyncResponse, protocol.EncodeSyncResponse(resp)); err != nil {
			b.cfg.Logger.Warnf("sync response to %s failed: %v", sender, err)
		}

	case MsgSyncResponse, MsgCommit:
		resp, err := protocol.DecodeSyncResponse(payload)
		if err != nil {
			b.cfg.Logger.Debugf("bad sync payload from %s: %v", sender, err)
			return
		}
		out, err := b.engine.ApplySynced(resp.Entries, now)
		b.dispatchOutbound(out)
		if err != nil {
			// Inconsistent sync aborts; another neighbor will answer
			// the next request.
			b.cfg.Logger.Debugf("sync from %s aborted: %v", sender, err)
		}
	}
}

// Publish broadcasts whatever an engine call returned to the caller:
// the game manager submits operations directly to the engine and hands
// the resulting Outbound here.
func (b *Bridge) Publish(out *consensus.Outbound) {
	b.dispatchOutbound(out)
}

// dispatchOutbound publishes whatever the engine produced.
func (b *Bridge) dispatchOutbound(out *consensus.Outbound) {
	if out == nil {
		return
	}
	for _, v := range out.Votes {
		if err := b.BroadcastVote(v); err != nil {
			b.cfg.Logger.Warnf("vote broadcast failed: %v", err)
		}
	}
	for _, ev := range out.Evidence {
		if err := b.BroadcastEvidence(ev); err != nil {
			b.cfg.Logger.Warnf("evidence broadcast failed: %v", err)
		}
		if b.cfg.OnEvidence != nil {
			b.cfg.OnEvidence(ev)
		}
	}
	if b.cfg.OnCommit != nil {
		for _, committed := range out.Committed {
			b.cfg.OnCommit(committed)
		}
	}
}

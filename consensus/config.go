package consensus

import (
	"crypto/ed25519"
	"errors"

	"github.com/decred/slog"

	"github.com/bitcraps/bitcraps/common"
	"github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/metrics"
	"github.com/bitcraps/bitcraps/protocol"
)

// Config carries everything an engine needs at construction. There is
// no other configuration surface: no files, no environment.
type Config struct {
	// GameID identifies the game this engine drives.
	GameID protocol.GameID

	// Identity is this peer's keypair.
	Identity *crypto.Identity

	// ParticipantKeys maps every initial participant to its public key.
	ParticipantKeys map[protocol.PeerID]ed25519.PublicKey

	// InitialSupply is minted to the treasury at genesis.
	InitialSupply uint64

	// InitialBalances funds participants out of the treasury at genesis.
	// Every peer must configure the same map or genesis states diverge.
	InitialBalances map[protocol.PeerID]uint64

	// MinBet and MaxBet bound a single wager.
	MinBet uint64
	MaxBet uint64

	// MaxOpsPerProposal bounds the operations array.
	MaxOpsPerProposal int

	// MaxClockSkew is the tolerated proposal timestamp drift in seconds.
	MaxClockSkew uint64

	// ProposalTTL is how long a pending proposal lives before eviction,
	// in seconds.
	ProposalTTL uint64

	// RoundTimeout is how long a height may stall before a view change,
	// in seconds.
	RoundTimeout uint64

	// SyncBatchSize caps the committed proposals served per SyncRequest.
	SyncBatchSize int

	Clock   common.Clock
	Logger  slog.Logger
	Metrics *metrics.Metrics
}

// DefaultConfig returns the standard tuning. Callers fill in the game,
// identity and participant fields.
func DefaultConfig() Config {
	return Config{
		InitialSupply:     1 << 40,
		MinBet:            1,
		MaxBet:            1_000_000,
		MaxOpsPerProposal: 64,
		MaxClockSkew:      30,
		ProposalTTL:       60,
		RoundTimeout:      30,
		SyncBatchSize:     64,
		Clock:             common.SystemClock{},
		Logger:            slog.Disabled,
		Metrics:           metrics.NewNop(),
	}
}

// validate rejects configurations that cannot produce a working engine.
func (c *Config) validate() error {
	if c.Identity == nil {
		return errors.New("consensus: config needs an identity")
	}
	if len(c.ParticipantKeys) < 2 {
		return errors.New("consensus: a game needs at least two participants")
	}
	if _, ok := c.ParticipantKeys[protocol.PeerID(c.Identity.PeerID)]; !ok {
		return errors.New("consensus: own peer id missing from participant keys")
	}
	var funded uint64
	for _, b := range c.InitialBalances {
		funded += b
	}
	if funded > c.InitialSupply {
		return errors.New("consensus: initial balances exceed supply")
	}
	if c.MaxOpsPerProposal <= 0 || c.MaxBet == 0 || c.MinBet > c.MaxBet {
		return errors.New("consensus: invalid bet or proposal bounds")
	}
	if c.Clock == nil {
		c.Clock = common.SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = slog.Disabled
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNop()
	}
	if c.SyncBatchSize <= 0 {
		c.SyncBatchSize = 64
	}
	return nil
}

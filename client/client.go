// Package client is the PayStream client surface: an account ledger with
// validated transfers, and pay-per-write access to replicated sequences
// backed by a local cache.
package client

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"PayStream/internal/ledger"
	"PayStream/internal/logger"
	"PayStream/internal/network"
	"PayStream/internal/protocol"
	"PayStream/internal/replica"
	"PayStream/internal/storage"
	"PayStream/internal/validation"
)

// defaultValidationTimeout bounds how long a transfer waits for quorum.
const defaultValidationTimeout = 30 * time.Second

// Config holds the client configuration.
type Config struct {
	PrivateKey ed25519.PrivateKey          // PrivateKey is the account key
	Validators []*validation.ValidatorInfo // Validators is the payment section
	CachePath  string                      // CachePath is the replica cache directory
	ListenAddr string                      // ListenAddr is the local QUIC address, default "127.0.0.1:0"
	PaymentKey [32]byte                    // PaymentKey receives write payments
	WritePrice uint64                      // WritePrice is the cost of one mutation

	// ValidationTimeout bounds the wait for a validation quorum.
	// Zero means the default.
	ValidationTimeout time.Duration
}

// Client is a PayStream network client.
type Client struct {
	actor      *ledger.Actor
	validators *validation.ValidatorSet
	aggregator *validation.Aggregator
	cache      *replica.Cache
	db         *storage.Storage
	transport  Transport

	paymentKey [32]byte
	price      uint64
	timeout    time.Duration

	waiters *waiterTable
}

// New creates a client, connects to the validators and seeds the local
// balance from the network.
func New(cfg Config) (*Client, error) {
	listenAddr := cfg.ListenAddr
	if listenAddr == "" {
		listenAddr = "127.0.0.1:0"
	}

	node, err := network.NewNode(network.Config{
		PrivateKey: cfg.PrivateKey,
		ListenAddr: listenAddr,
	})
	if err != nil {
		return nil, fmt.Errorf("create node:\n%w", err)
	}

	if err := node.Start(); err != nil {
		return nil, fmt.Errorf("start node:\n%w", err)
	}

	vs := validation.NewValidatorSet(cfg.Validators)

	transport, err := NewQUICTransport(node, vs)
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("connect transport:\n%w", err)
	}

	c, err := newClient(cfg, vs, transport)
	if err != nil {
		transport.Close()
		return nil, err
	}

	c.seedBalance()

	return c, nil
}

// newClient wires a client over an already connected transport.
func newClient(cfg Config, vs *validation.ValidatorSet, transport Transport) (*Client, error) {
	db, err := storage.Open(cfg.CachePath)
	if err != nil {
		return nil, fmt.Errorf("open cache:\n%w", err)
	}

	timeout := cfg.ValidationTimeout
	if timeout == 0 {
		timeout = defaultValidationTimeout
	}

	c := &Client{
		actor:      ledger.NewActor(cfg.PrivateKey, 0),
		validators: vs,
		aggregator: validation.NewAggregator(vs),
		cache:      replica.New(db),
		db:         db,
		transport:  transport,
		paymentKey: cfg.PaymentKey,
		price:      cfg.WritePrice,
		timeout:    timeout,
		waiters:    newWaiterTable(),
	}

	transport.OnShare(c.handleShare)

	return c, nil
}

// seedBalance initializes the local ledger from the network-held
// balance. A fresh account simply starts at zero.
func (c *Client) seedBalance() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	balance, err := c.NetworkBalance(ctx, c.PublicKey())
	if err != nil {
		logger.Warn("balance seed failed, starting at zero", "error", err)
		return
	}

	if err := c.actor.Apply(ledger.CreditReceived{Amount: balance}); err != nil {
		logger.Warn("balance seed not applied", "error", err)
	}
}

// PublicKey returns the client's account key.
func (c *Client) PublicKey() [32]byte {
	return c.actor.PublicKey()
}

// LocalBalance returns the ledger's view of the balance. It reflects
// registered debits immediately, without a network round trip.
func (c *Client) LocalBalance() uint64 {
	return c.actor.Balance()
}

// NetworkBalance queries the network-held balance of a key.
func (c *Client) NetworkBalance(ctx context.Context, key [32]byte) (uint64, error) {
	resp, err := c.transport.SendQuery(ctx, &protocol.GetBalanceQuery{Key: key})
	if err != nil {
		return 0, fmt.Errorf("query balance:\n%w", err)
	}

	balance, ok := resp.(*protocol.BalanceResponse)
	if !ok {
		return 0, fmt.Errorf("got %T:\n%w", resp, protocol.ErrUnexpectedResponse)
	}

	return balance.Amount, nil
}

// History returns the client's registered transfers in commit order.
func (c *Client) History() []*ledger.SignedTransfer {
	return c.actor.History()
}

// CreditForTest credits the local ledger directly. Test networks use it
// to simulate a payout, there is no production path to it.
func (c *Client) CreditForTest(amount uint64) error {
	return c.actor.Apply(ledger.CreditReceived{Amount: amount})
}

// Close releases the transport and the cache.
func (c *Client) Close() error {
	err := c.transport.Close()

	if dbErr := c.db.Close(); err == nil {
		err = dbErr
	}

	return err
}

// RandomName returns a fresh random sequence name.
func RandomName() [32]byte {
	var name [32]byte
	rand.Read(name[:])
	return name
}

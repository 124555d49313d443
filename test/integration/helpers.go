package integration

import (
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"PayStream/client"
	"PayStream/internal/ledger"
	"PayStream/internal/network"
	"PayStream/internal/protocol"
	"PayStream/internal/sequence"
	"PayStream/internal/validation"
)

// paymentKey is the section key that collects write payments.
var paymentKey = [32]byte{0xfe, 0xed}

// netState is the replicated state shared by all stub validators. One
// instance stands in for a converged section.
type netState struct {
	mu         sync.Mutex
	sequences  map[[40]byte]*sequence.Sequence
	balances   map[[32]byte]uint64
	registered map[[32]byte]bool // registered marks settled transfer ids
	deleted    map[[40]byte]bool // deleted marks removed addresses
}

func newNetState() *netState {
	return &netState{
		sequences:  make(map[[40]byte]*sequence.Sequence),
		balances:   make(map[[32]byte]uint64),
		registered: make(map[[32]byte]bool),
		deleted:    make(map[[40]byte]bool),
	}
}

// credit seeds an account balance before a client connects.
func (s *netState) credit(key [32]byte, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances[key] += amount
}

// stubValidator is one validator endpoint: a QUIC node that validates
// transfers, settles registrations and serves sequence storage.
type stubValidator struct {
	node  *network.Node
	bls   *validation.BLSKeyPair
	id    validation.Hash
	state *netState
	vs    *validation.ValidatorSet
}

// startValidators boots a section of stub validators over a shared
// state and returns their infos for client configs.
func startValidators(t *testing.T, count int) (*netState, []*validation.ValidatorInfo) {
	t.Helper()

	state := newNetState()

	nodes := make([]*network.Node, count)
	blsKeys := make([]*validation.BLSKeyPair, count)
	infos := make([]*validation.ValidatorInfo, count)

	for i := 0; i < count; i++ {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("failed to generate key: %v", err)
		}

		bls, err := validation.DeriveFromED25519(priv)
		if err != nil {
			t.Fatalf("failed to derive BLS key: %v", err)
		}
		blsKeys[i] = bls

		node, err := network.NewNode(network.Config{
			PrivateKey: priv,
			ListenAddr: "127.0.0.1:0",
		})
		if err != nil {
			t.Fatalf("failed to create node: %v", err)
		}
		if err := node.Start(); err != nil {
			t.Fatalf("failed to start node: %v", err)
		}
		t.Cleanup(func() {
			node.Close()
		})
		nodes[i] = node

		info := &validation.ValidatorInfo{Addr: node.Addr()}
		copy(info.ID[:], node.PublicKey())
		copy(info.BLSPublicKey[:], bls.PublicKeyBytes())
		infos[i] = info
	}

	vs := validation.NewValidatorSet(infos)

	for i, node := range nodes {
		v := &stubValidator{
			node:  node,
			bls:   blsKeys[i],
			id:    infos[i].ID,
			state: state,
			vs:    vs,
		}
		node.OnRequest(v.handleRequest)
		node.OnMessage(v.handleValidate)
	}

	return state, infos
}

// handleRequest serves one command or query and always answers, typed
// failures travel back as error responses.
func (v *stubValidator) handleRequest(p *network.Peer, data []byte) ([]byte, error) {
	resp := v.process(p, data)
	return protocol.EncodeResponse(resp), nil
}

func (v *stubValidator) process(p *network.Peer, data []byte) protocol.Response {
	if len(data) == 0 {
		return &protocol.ErrorResponse{}
	}

	if data[0] >= 0x10 {
		query, err := protocol.DecodeQuery(data)
		if err != nil {
			return &protocol.ErrorResponse{}
		}
		return v.processQuery(query)
	}

	cmd, err := protocol.DecodeCommand(data)
	if err != nil {
		return &protocol.ErrorResponse{}
	}

	var requester [32]byte
	copy(requester[:], p.PublicKey())

	if err := v.processCommand(cmd, requester); err != nil {
		return &protocol.ErrorResponse{Code: protocol.ErrorCode(err)}
	}

	return &protocol.AckResponse{}
}

func (v *stubValidator) processQuery(query protocol.Query) protocol.Response {
	v.state.mu.Lock()
	defer v.state.mu.Unlock()

	switch q := query.(type) {
	case *protocol.GetSequenceQuery:
		seq, ok := v.state.sequences[q.Address]
		if !ok {
			return &protocol.ErrorResponse{Code: protocol.ErrorCode(protocol.ErrNoSuchData)}
		}
		snapshot, err := protocol.Compress(sequence.Encode(seq))
		if err != nil {
			return &protocol.ErrorResponse{}
		}
		return &protocol.SequenceResponse{Snapshot: snapshot}

	case *protocol.GetBalanceQuery:
		return &protocol.BalanceResponse{Amount: v.state.balances[q.Key]}

	default:
		return &protocol.ErrorResponse{}
	}
}

// processCommand applies one mutation to the shared state. Commands fan
// out to every validator, so replays of an already applied mutation ack
// without effect.
func (v *stubValidator) processCommand(cmd protocol.Command, requester [32]byte) error {
	v.state.mu.Lock()
	defer v.state.mu.Unlock()

	switch c := cmd.(type) {
	case *protocol.NewSequenceCmd:
		if err := v.checkProof(c.Proof); err != nil {
			return err
		}
		raw, err := protocol.Decompress(c.Snapshot)
		if err != nil {
			return protocol.ErrInvalidOperation
		}
		seq, err := sequence.Decode(raw)
		if err != nil {
			return protocol.ErrInvalidOperation
		}
		v.state.sequences[seq.Address().Key()] = seq
		return nil

	case *protocol.AppendEntryCmd:
		seq, ok := v.state.sequences[c.Address]
		if !ok {
			return protocol.ErrNoSuchData
		}
		if seq.EntriesIndex() == c.Index+1 {
			return nil // already applied
		}
		if err := v.checkProof(c.Proof); err != nil {
			return err
		}
		if err := seq.CheckPermission(sequence.ActionAppend, requester); err != nil {
			return err
		}
		return seq.ApplyAppend(c.Entry, c.Index)

	case *protocol.DeleteSequenceCmd:
		seq, ok := v.state.sequences[c.Address]
		if !ok {
			if v.state.deleted[c.Address] {
				return nil // already applied
			}
			return protocol.ErrNoSuchData
		}
		if err := v.checkProof(c.Proof); err != nil {
			return err
		}
		if !seq.IsPrivate() {
			return protocol.ErrInvalidOperation
		}
		owner, err := seq.CurrentOwner()
		if err != nil || owner.PublicKey != requester {
			return protocol.ErrPermissionDenied
		}
		delete(v.state.sequences, c.Address)
		v.state.deleted[c.Address] = true
		return nil

	case *protocol.SetOwnerCmd:
		seq, ok := v.state.sequences[c.Address]
		if !ok {
			return protocol.ErrNoSuchData
		}
		if seq.OwnersIndex() == c.Index+1 {
			return nil // already applied
		}
		if err := v.checkProof(c.Proof); err != nil {
			return err
		}
		if err := seq.CheckPermission(sequence.ActionManage, requester); err != nil {
			return err
		}
		return seq.ApplySetOwner(c.Owner, c.Index)

	case *protocol.SetPermissionsCmd:
		seq, ok := v.state.sequences[c.Address]
		if !ok {
			return protocol.ErrNoSuchData
		}
		if seq.PermissionsIndex() == c.Index+1 {
			return nil // already applied
		}
		if err := v.checkProof(c.Proof); err != nil {
			return err
		}
		if err := seq.CheckPermission(sequence.ActionManage, requester); err != nil {
			return err
		}
		return seq.ApplyPermissionsRecord(sequence.Flavor(c.Flavor), c.Permissions, c.Index)

	case *protocol.RegisterTransferCmd:
		return v.registerTransfer(c.Proof)

	default:
		return protocol.ErrInvalidOperation
	}
}

// checkProof verifies an attached payment proof. Holds state.mu.
func (v *stubValidator) checkProof(proofBytes []byte) error {
	proof, err := validation.DecodeProof(proofBytes)
	if err != nil {
		return protocol.ErrInvalidOperation
	}

	if err := validation.VerifyProof(proof, v.vs); err != nil {
		return protocol.ErrInvalidOperation
	}

	return nil
}

// registerTransfer settles a proven transfer against the balances.
// Holds state.mu.
func (v *stubValidator) registerTransfer(proofBytes []byte) error {
	proof, err := validation.DecodeProof(proofBytes)
	if err != nil {
		return protocol.ErrInvalidOperation
	}

	if err := validation.VerifyProof(proof, v.vs); err != nil {
		return protocol.ErrInvalidOperation
	}

	transfer, err := ledger.DecodeTransfer(proof.Transfer)
	if err != nil {
		return protocol.ErrInvalidOperation
	}

	if err := transfer.Verify(); err != nil {
		return protocol.ErrInvalidOperation
	}

	if v.state.registered[transfer.ID] {
		return nil // already settled
	}

	if v.state.balances[transfer.Sender] < transfer.Amount {
		return protocol.ErrInsufficientBalance
	}

	v.state.balances[transfer.Sender] -= transfer.Amount
	v.state.balances[transfer.Recipient] += transfer.Amount
	v.state.registered[transfer.ID] = true

	return nil
}

// handleValidate countersigns a pushed transfer and pushes the share
// back on the same connection.
func (v *stubValidator) handleValidate(p *network.Peer, data []byte) {
	cmd, err := protocol.DecodeCommand(data)
	if err != nil {
		return
	}

	validate, ok := cmd.(*protocol.ValidateTransferCmd)
	if !ok {
		return
	}

	transfer, err := ledger.DecodeTransfer(validate.Transfer)
	if err != nil {
		return
	}

	if err := transfer.Verify(); err != nil {
		return
	}

	v.state.mu.Lock()
	funded := v.state.balances[transfer.Sender] >= transfer.Amount
	v.state.mu.Unlock()

	if !funded {
		return
	}

	digest := validation.TransferDigest(validate.Transfer)

	share := &protocol.ShareResponse{
		TransferID: transfer.ID,
		Digest:     digest,
		Signature:  v.bls.Sign(digest[:]),
	}
	share.Validator = [32]byte(v.id)

	p.Send(protocol.EncodeResponse(share))
}

// newTestClient connects a funded client to the section.
func newTestClient(t *testing.T, state *netState, validators []*validation.ValidatorInfo, balance uint64) *client.Client {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	var pub [32]byte
	copy(pub[:], priv.Public().(ed25519.PublicKey))

	if balance > 0 {
		state.credit(pub, balance)
	}

	c, err := client.New(client.Config{
		PrivateKey:        priv,
		Validators:        validators,
		CachePath:         t.TempDir(),
		PaymentKey:        paymentKey,
		WritePrice:        5,
		ValidationTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
	})

	return c
}

package client

import (
	"context"
	"fmt"

	"PayStream/internal/logger"
	"PayStream/internal/protocol"
	"PayStream/internal/sequence"
)

// CreatePrivateSequence creates and stores a private sequence owned by
// the client. Initial permissions and entries, both optional, are part
// of the stored snapshot, so one payment covers the whole creation.
func (c *Client) CreatePrivateSequence(ctx context.Context, name [32]byte, tag uint64,
	perms map[[32]byte]sequence.PrivateUserPermissions, entries [][]byte) (*sequence.Sequence, error) {

	seq := sequence.NewPrivate(name, tag, c.PublicKey())

	if perms != nil {
		if _, err := seq.SetPrivatePermissions(perms); err != nil {
			return nil, err
		}
	}

	return c.storeSequence(ctx, seq, entries)
}

// CreatePublicSequence creates and stores a public sequence owned by the
// client.
func (c *Client) CreatePublicSequence(ctx context.Context, name [32]byte, tag uint64,
	perms map[sequence.User]sequence.PublicUserPermissions, entries [][]byte) (*sequence.Sequence, error) {

	seq := sequence.NewPublic(name, tag, c.PublicKey())

	if perms != nil {
		if _, err := seq.SetPublicPermissions(perms); err != nil {
			return nil, err
		}
	}

	return c.storeSequence(ctx, seq, entries)
}

// storeSequence pays for and pushes a freshly built sequence, then
// caches it.
func (c *Client) storeSequence(ctx context.Context, seq *sequence.Sequence, entries [][]byte) (*sequence.Sequence, error) {
	for _, entry := range entries {
		seq.Append(entry)
	}

	snapshot, err := protocol.Compress(sequence.Encode(seq))
	if err != nil {
		return nil, fmt.Errorf("compress snapshot:\n%w", err)
	}

	proof, err := c.payForWrite(ctx)
	if err != nil {
		return nil, err
	}

	cmd := &protocol.NewSequenceCmd{Snapshot: snapshot, Proof: proof}
	if err := c.transport.SendCommand(ctx, cmd); err != nil {
		return nil, err
	}

	if err := c.cache.Put(seq); err != nil {
		return nil, err
	}

	logger.Info("sequence created", "address", seq.Address(), "private", seq.IsPrivate())

	return seq, nil
}

// GetSequence returns the sequence at an address, reading through the
// local cache: a cached copy is served as is, a miss fetches from the
// network and populates the cache.
func (c *Client) GetSequence(ctx context.Context, addr sequence.Address) (*sequence.Sequence, error) {
	seq, hit, err := c.cache.Get(addr)
	if err != nil {
		return nil, err
	}

	if hit {
		return seq, nil
	}

	return c.RefreshSequence(ctx, addr)
}

// RefreshSequence fetches the sequence from the network, bypassing and
// then updating the cache.
func (c *Client) RefreshSequence(ctx context.Context, addr sequence.Address) (*sequence.Sequence, error) {
	resp, err := c.transport.SendQuery(ctx, &protocol.GetSequenceQuery{Address: addr.Key()})
	if err != nil {
		return nil, fmt.Errorf("fetch %s:\n%w", addr, err)
	}

	seqResp, ok := resp.(*protocol.SequenceResponse)
	if !ok {
		return nil, fmt.Errorf("got %T:\n%w", resp, protocol.ErrUnexpectedResponse)
	}

	raw, err := protocol.Decompress(seqResp.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("decompress %s:\n%w", addr, err)
	}

	seq, err := sequence.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s:\n%w", addr, err)
	}

	if err := c.cache.Put(seq); err != nil {
		return nil, err
	}

	return seq, nil
}

// Append adds an entry to a sequence. The permission check runs against
// the local copy before anything is paid or sent, a denial costs
// nothing. The cache is updated only after the network accepted the
// mutation, and a rejected mutation does not refund its payment.
func (c *Client) Append(ctx context.Context, addr sequence.Address, entry []byte) error {
	seq, err := c.GetSequence(ctx, addr)
	if err != nil {
		return err
	}

	if err := seq.CheckPermission(sequence.ActionAppend, c.PublicKey()); err != nil {
		return err
	}

	op := seq.Append(entry)

	proof, err := c.payForWrite(ctx)
	if err != nil {
		return err
	}

	cmd := &protocol.AppendEntryCmd{
		Address: addr.Key(),
		Index:   op.Index,
		Entry:   entry,
		Proof:   proof,
	}
	if err := c.transport.SendCommand(ctx, cmd); err != nil {
		return err
	}

	return c.cache.Put(seq)
}

// Delete removes a private sequence from the network. Public sequences
// are perpetual: their delete is still paid and sent, the network
// rejects it authoritatively and the cached copy stays intact. Only the
// current owner may delete.
func (c *Client) Delete(ctx context.Context, addr sequence.Address) error {
	seq, err := c.GetSequence(ctx, addr)
	if err != nil {
		return err
	}

	owner, err := seq.CurrentOwner()
	if err != nil || owner.PublicKey != c.PublicKey() {
		return protocol.ErrPermissionDenied
	}

	proof, err := c.payForWrite(ctx)
	if err != nil {
		return err
	}

	cmd := &protocol.DeleteSequenceCmd{Address: addr.Key(), Proof: proof}
	if err := c.transport.SendCommand(ctx, cmd); err != nil {
		return err
	}

	return c.cache.Remove(addr)
}

// SetOwner hands a sequence over to a new owner key.
func (c *Client) SetOwner(ctx context.Context, addr sequence.Address, newOwner [32]byte) error {
	seq, err := c.GetSequence(ctx, addr)
	if err != nil {
		return err
	}

	if err := seq.CheckPermission(sequence.ActionManage, c.PublicKey()); err != nil {
		return err
	}

	op := seq.SetOwner(newOwner)

	proof, err := c.payForWrite(ctx)
	if err != nil {
		return err
	}

	cmd := &protocol.SetOwnerCmd{
		Address: addr.Key(),
		Index:   op.Index,
		Owner:   newOwner,
		Proof:   proof,
	}
	if err := c.transport.SendCommand(ctx, cmd); err != nil {
		return err
	}

	return c.cache.Put(seq)
}

// SetPrivatePermissions appends a new permission record to a private
// sequence.
func (c *Client) SetPrivatePermissions(ctx context.Context, addr sequence.Address,
	perms map[[32]byte]sequence.PrivateUserPermissions) error {

	return c.setPermissions(ctx, addr, func(seq *sequence.Sequence) (sequence.PermissionsOp, error) {
		return seq.SetPrivatePermissions(perms)
	})
}

// SetPublicPermissions appends a new permission record to a public
// sequence.
func (c *Client) SetPublicPermissions(ctx context.Context, addr sequence.Address,
	perms map[sequence.User]sequence.PublicUserPermissions) error {

	return c.setPermissions(ctx, addr, func(seq *sequence.Sequence) (sequence.PermissionsOp, error) {
		return seq.SetPublicPermissions(perms)
	})
}

func (c *Client) setPermissions(ctx context.Context, addr sequence.Address,
	mutate func(*sequence.Sequence) (sequence.PermissionsOp, error)) error {

	seq, err := c.GetSequence(ctx, addr)
	if err != nil {
		return err
	}

	if err := seq.CheckPermission(sequence.ActionManage, c.PublicKey()); err != nil {
		return err
	}

	op, err := mutate(seq)
	if err != nil {
		return err
	}

	proof, err := c.payForWrite(ctx)
	if err != nil {
		return err
	}

	cmd := &protocol.SetPermissionsCmd{
		Address:     addr.Key(),
		Index:       op.Index,
		Flavor:      byte(op.Flavor),
		Permissions: op.Record,
		Proof:       proof,
	}
	if err := c.transport.SendCommand(ctx, cmd); err != nil {
		return err
	}

	return c.cache.Put(seq)
}

// LastEntry returns the index and value of the newest entry.
func (c *Client) LastEntry(ctx context.Context, addr sequence.Address) (uint64, []byte, error) {
	seq, err := c.readableSequence(ctx, addr)
	if err != nil {
		return 0, nil, err
	}

	return seq.LastEntry()
}

// Range returns the entries between two positions, end exclusive.
func (c *Client) Range(ctx context.Context, addr sequence.Address, start, end sequence.Index) ([][]byte, error) {
	seq, err := c.readableSequence(ctx, addr)
	if err != nil {
		return nil, err
	}

	return seq.InRange(start, end)
}

// Owner returns the current owner key of a sequence.
func (c *Client) Owner(ctx context.Context, addr sequence.Address) ([32]byte, error) {
	seq, err := c.readableSequence(ctx, addr)
	if err != nil {
		return [32]byte{}, err
	}

	owner, err := seq.CurrentOwner()
	if err != nil {
		return [32]byte{}, err
	}

	return owner.PublicKey, nil
}

// UserPermissions returns a user's grant set under the latest permission
// record.
func (c *Client) UserPermissions(ctx context.Context, addr sequence.Address, user sequence.User) (sequence.UserPermissions, error) {
	seq, err := c.readableSequence(ctx, addr)
	if err != nil {
		return sequence.UserPermissions{}, err
	}

	if seq.PermissionsIndex() == 0 {
		return sequence.UserPermissions{}, protocol.ErrNoSuchEntry
	}

	return seq.UserPermissionsAt(user, seq.PermissionsIndex()-1)
}

// readableSequence fetches a sequence and applies the read gate.
func (c *Client) readableSequence(ctx context.Context, addr sequence.Address) (*sequence.Sequence, error) {
	seq, err := c.GetSequence(ctx, addr)
	if err != nil {
		return nil, err
	}

	if err := seq.CheckPermission(sequence.ActionRead, c.PublicKey()); err != nil {
		return nil, err
	}

	return seq, nil
}

// payForWrite runs one write payment to the section's payment key and
// returns the proof to attach to the mutation. The payment is consumed
// whether or not the mutation is later accepted.
func (c *Client) payForWrite(ctx context.Context) ([]byte, error) {
	proof, err := c.sendTransfer(ctx, c.paymentKey, c.price)
	if err != nil {
		return nil, fmt.Errorf("write payment:\n%w", err)
	}

	return proof, nil
}

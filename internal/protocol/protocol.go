// Package protocol defines the client-to-network wire messages and the
// shared error taxonomy. Messages are a 1-byte type followed by a fixed
// layout, with variable fields length-prefixed by a big-endian uint32.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// AddressSize is the packed size of a sequence address (32B name + 8B tag).
const AddressSize = 40

// Message types. Commands mutate network state, queries read it,
// responses travel back on the same stream.
const (
	msgTypeNewSequence      = 0x01
	msgTypeAppendEntry      = 0x02
	msgTypeDeleteSequence   = 0x03
	msgTypeSetOwner         = 0x04
	msgTypeSetPermissions   = 0x05
	msgTypeValidateTransfer = 0x06
	msgTypeRegisterTransfer = 0x07

	msgTypeGetSequence = 0x10
	msgTypeGetBalance  = 0x11

	msgTypeAck      = 0x20
	msgTypeError    = 0x21
	msgTypeSequence = 0x22
	msgTypeBalance  = 0x23
	msgTypeShare    = 0x24
)

// Command is a mutation sent to the network.
type Command interface {
	Encode() []byte
}

// Query is a read sent to the network.
type Query interface {
	Encode() []byte
}

// Response is a reply from the network.
type Response interface {
	encodeResponse() []byte
}

// EncodeResponse encodes any response to bytes.
func EncodeResponse(resp Response) []byte {
	return resp.encodeResponse()
}

// NewSequenceCmd stores a new sequence snapshot on the network.
type NewSequenceCmd struct {
	Snapshot []byte // Snapshot is the zstd-compressed serialized sequence
	Proof    []byte // Proof is the serialized payment proof
}

// Encode encodes the command to bytes.
// Format: [1B type] [4B snapLen] [NB snap] [4B proofLen] [NB proof]
func (c *NewSequenceCmd) Encode() []byte {
	buf := make([]byte, 0, 1+4+len(c.Snapshot)+4+len(c.Proof))
	buf = append(buf, msgTypeNewSequence)
	buf = appendBytes(buf, c.Snapshot)
	buf = appendBytes(buf, c.Proof)
	return buf
}

// AppendEntryCmd appends one entry to a stored sequence.
type AppendEntryCmd struct {
	Address [AddressSize]byte // Address is the packed sequence address
	Index   uint64            // Index is the entry count the append is based on
	Entry   []byte            // Entry is the opaque entry payload
	Proof   []byte            // Proof is the serialized payment proof
}

// Encode encodes the command to bytes.
// Format: [1B type] [40B addr] [8B index] [4B entryLen] [NB entry] [4B proofLen] [NB proof]
func (c *AppendEntryCmd) Encode() []byte {
	buf := make([]byte, 0, 1+AddressSize+8+4+len(c.Entry)+4+len(c.Proof))
	buf = append(buf, msgTypeAppendEntry)
	buf = append(buf, c.Address[:]...)
	buf = binary.BigEndian.AppendUint64(buf, c.Index)
	buf = appendBytes(buf, c.Entry)
	buf = appendBytes(buf, c.Proof)
	return buf
}

// DeleteSequenceCmd removes a stored sequence. Only valid for private
// sequences, owner-only.
type DeleteSequenceCmd struct {
	Address [AddressSize]byte // Address is the packed sequence address
	Proof   []byte            // Proof is the serialized payment proof
}

// Encode encodes the command to bytes.
// Format: [1B type] [40B addr] [4B proofLen] [NB proof]
func (c *DeleteSequenceCmd) Encode() []byte {
	buf := make([]byte, 0, 1+AddressSize+4+len(c.Proof))
	buf = append(buf, msgTypeDeleteSequence)
	buf = append(buf, c.Address[:]...)
	buf = appendBytes(buf, c.Proof)
	return buf
}

// SetOwnerCmd appends a new owner record to a stored sequence.
type SetOwnerCmd struct {
	Address [AddressSize]byte // Address is the packed sequence address
	Index   uint64            // Index is the owner count the change is based on
	Owner   [32]byte          // Owner is the new owner public key
	Proof   []byte            // Proof is the serialized payment proof
}

// Encode encodes the command to bytes.
// Format: [1B type] [40B addr] [8B index] [32B owner] [4B proofLen] [NB proof]
func (c *SetOwnerCmd) Encode() []byte {
	buf := make([]byte, 0, 1+AddressSize+8+32+4+len(c.Proof))
	buf = append(buf, msgTypeSetOwner)
	buf = append(buf, c.Address[:]...)
	buf = binary.BigEndian.AppendUint64(buf, c.Index)
	buf = append(buf, c.Owner[:]...)
	buf = appendBytes(buf, c.Proof)
	return buf
}

// SetPermissionsCmd appends a new permission record to a stored sequence.
type SetPermissionsCmd struct {
	Address     [AddressSize]byte // Address is the packed sequence address
	Index       uint64            // Index is the permission count the change is based on
	Flavor      byte              // Flavor matches the sequence flavor (0 public, 1 private)
	Permissions []byte            // Permissions is the packed permission record
	Proof       []byte            // Proof is the serialized payment proof
}

// Encode encodes the command to bytes.
// Format: [1B type] [40B addr] [8B index] [1B flavor] [4B permsLen] [NB perms] [4B proofLen] [NB proof]
func (c *SetPermissionsCmd) Encode() []byte {
	buf := make([]byte, 0, 1+AddressSize+8+1+4+len(c.Permissions)+4+len(c.Proof))
	buf = append(buf, msgTypeSetPermissions)
	buf = append(buf, c.Address[:]...)
	buf = binary.BigEndian.AppendUint64(buf, c.Index)
	buf = append(buf, c.Flavor)
	buf = appendBytes(buf, c.Permissions)
	buf = appendBytes(buf, c.Proof)
	return buf
}

// ValidateTransferCmd asks a validator to countersign a transfer.
type ValidateTransferCmd struct {
	Transfer []byte // Transfer is the serialized signed transfer
}

// Encode encodes the command to bytes.
// Format: [1B type] [4B transferLen] [NB transfer]
func (c *ValidateTransferCmd) Encode() []byte {
	buf := make([]byte, 0, 1+4+len(c.Transfer))
	buf = append(buf, msgTypeValidateTransfer)
	buf = appendBytes(buf, c.Transfer)
	return buf
}

// RegisterTransferCmd commits a validated transfer to the network.
type RegisterTransferCmd struct {
	Proof []byte // Proof is the serialized payment proof
}

// Encode encodes the command to bytes.
// Format: [1B type] [4B proofLen] [NB proof]
func (c *RegisterTransferCmd) Encode() []byte {
	buf := make([]byte, 0, 1+4+len(c.Proof))
	buf = append(buf, msgTypeRegisterTransfer)
	buf = appendBytes(buf, c.Proof)
	return buf
}

// DecodeCommand decodes an encoded command by its type byte.
func DecodeCommand(data []byte) (Command, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	switch data[0] {
	case msgTypeNewSequence:
		snap, rest, err := readBytes(data[1:])
		if err != nil {
			return nil, fmt.Errorf("new sequence snapshot:\n%w", err)
		}
		proof, _, err := readBytes(rest)
		if err != nil {
			return nil, fmt.Errorf("new sequence proof:\n%w", err)
		}
		return &NewSequenceCmd{Snapshot: snap, Proof: proof}, nil

	case msgTypeAppendEntry:
		if len(data) < 1+AddressSize+8 {
			return nil, fmt.Errorf("append entry too short: %d", len(data))
		}
		cmd := &AppendEntryCmd{
			Index: binary.BigEndian.Uint64(data[1+AddressSize : 1+AddressSize+8]),
		}
		copy(cmd.Address[:], data[1:1+AddressSize])
		entry, rest, err := readBytes(data[1+AddressSize+8:])
		if err != nil {
			return nil, fmt.Errorf("append entry payload:\n%w", err)
		}
		proof, _, err := readBytes(rest)
		if err != nil {
			return nil, fmt.Errorf("append entry proof:\n%w", err)
		}
		cmd.Entry = entry
		cmd.Proof = proof
		return cmd, nil

	case msgTypeDeleteSequence:
		if len(data) < 1+AddressSize {
			return nil, fmt.Errorf("delete sequence too short: %d", len(data))
		}
		cmd := &DeleteSequenceCmd{}
		copy(cmd.Address[:], data[1:1+AddressSize])
		proof, _, err := readBytes(data[1+AddressSize:])
		if err != nil {
			return nil, fmt.Errorf("delete sequence proof:\n%w", err)
		}
		cmd.Proof = proof
		return cmd, nil

	case msgTypeSetOwner:
		if len(data) < 1+AddressSize+8+32 {
			return nil, fmt.Errorf("set owner too short: %d", len(data))
		}
		cmd := &SetOwnerCmd{
			Index: binary.BigEndian.Uint64(data[1+AddressSize : 1+AddressSize+8]),
		}
		copy(cmd.Address[:], data[1:1+AddressSize])
		copy(cmd.Owner[:], data[1+AddressSize+8:1+AddressSize+8+32])
		proof, _, err := readBytes(data[1+AddressSize+8+32:])
		if err != nil {
			return nil, fmt.Errorf("set owner proof:\n%w", err)
		}
		cmd.Proof = proof
		return cmd, nil

	case msgTypeSetPermissions:
		if len(data) < 1+AddressSize+8+1 {
			return nil, fmt.Errorf("set permissions too short: %d", len(data))
		}
		cmd := &SetPermissionsCmd{
			Index:  binary.BigEndian.Uint64(data[1+AddressSize : 1+AddressSize+8]),
			Flavor: data[1+AddressSize+8],
		}
		copy(cmd.Address[:], data[1:1+AddressSize])
		perms, rest, err := readBytes(data[1+AddressSize+8+1:])
		if err != nil {
			return nil, fmt.Errorf("set permissions record:\n%w", err)
		}
		proof, _, err := readBytes(rest)
		if err != nil {
			return nil, fmt.Errorf("set permissions proof:\n%w", err)
		}
		cmd.Permissions = perms
		cmd.Proof = proof
		return cmd, nil

	case msgTypeValidateTransfer:
		transfer, _, err := readBytes(data[1:])
		if err != nil {
			return nil, fmt.Errorf("validate transfer:\n%w", err)
		}
		return &ValidateTransferCmd{Transfer: transfer}, nil

	case msgTypeRegisterTransfer:
		proof, _, err := readBytes(data[1:])
		if err != nil {
			return nil, fmt.Errorf("register transfer:\n%w", err)
		}
		return &RegisterTransferCmd{Proof: proof}, nil

	default:
		return nil, fmt.Errorf("unknown command type: 0x%02x", data[0])
	}
}

// GetSequenceQuery fetches a full sequence snapshot.
type GetSequenceQuery struct {
	Address [AddressSize]byte // Address is the packed sequence address
}

// Encode encodes the query to bytes.
// Format: [1B type] [40B addr]
func (q *GetSequenceQuery) Encode() []byte {
	buf := make([]byte, 1+AddressSize)
	buf[0] = msgTypeGetSequence
	copy(buf[1:], q.Address[:])
	return buf
}

// GetBalanceQuery fetches the network-held balance of a public key.
type GetBalanceQuery struct {
	Key [32]byte // Key is the account public key
}

// Encode encodes the query to bytes.
// Format: [1B type] [32B key]
func (q *GetBalanceQuery) Encode() []byte {
	buf := make([]byte, 1+32)
	buf[0] = msgTypeGetBalance
	copy(buf[1:], q.Key[:])
	return buf
}

// DecodeQuery decodes an encoded query by its type byte.
func DecodeQuery(data []byte) (Query, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty query")
	}

	switch data[0] {
	case msgTypeGetSequence:
		if len(data) < 1+AddressSize {
			return nil, fmt.Errorf("get sequence too short: %d", len(data))
		}
		q := &GetSequenceQuery{}
		copy(q.Address[:], data[1:1+AddressSize])
		return q, nil

	case msgTypeGetBalance:
		if len(data) < 1+32 {
			return nil, fmt.Errorf("get balance too short: %d", len(data))
		}
		q := &GetBalanceQuery{}
		copy(q.Key[:], data[1:1+32])
		return q, nil

	default:
		return nil, fmt.Errorf("unknown query type: 0x%02x", data[0])
	}
}

// AckResponse acknowledges a successful command.
type AckResponse struct{}

func (r *AckResponse) encodeResponse() []byte {
	return []byte{msgTypeAck}
}

// ErrorResponse carries a wire error code.
type ErrorResponse struct {
	Code byte // Code is the wire error code
}

// Err maps the response back to its sentinel error.
func (r *ErrorResponse) Err() error {
	return ErrorFromCode(r.Code)
}

func (r *ErrorResponse) encodeResponse() []byte {
	return []byte{msgTypeError, r.Code}
}

// SequenceResponse carries a zstd-compressed sequence snapshot.
type SequenceResponse struct {
	Snapshot []byte // Snapshot is the compressed serialized sequence
}

func (r *SequenceResponse) encodeResponse() []byte {
	buf := make([]byte, 0, 1+4+len(r.Snapshot))
	buf = append(buf, msgTypeSequence)
	buf = appendBytes(buf, r.Snapshot)
	return buf
}

// BalanceResponse carries an account balance.
type BalanceResponse struct {
	Amount uint64 // Amount is the balance in network token units
}

func (r *BalanceResponse) encodeResponse() []byte {
	buf := make([]byte, 9)
	buf[0] = msgTypeBalance
	binary.BigEndian.PutUint64(buf[1:], r.Amount)
	return buf
}

// ShareResponse is one validator's countersignature over a transfer.
type ShareResponse struct {
	TransferID [32]byte // TransferID identifies the transfer being validated
	Validator  [32]byte // Validator is the signing validator's id
	Digest     [32]byte // Digest is the transfer digest the validator saw
	Signature  []byte   // Signature is the BLS signature (96 bytes)
}

// Format: [1B type] [32B transferID] [32B validator] [32B digest] [96B sig]
func (r *ShareResponse) encodeResponse() []byte {
	buf := make([]byte, 1+32+32+32+96)
	buf[0] = msgTypeShare
	copy(buf[1:33], r.TransferID[:])
	copy(buf[33:65], r.Validator[:])
	copy(buf[65:97], r.Digest[:])
	copy(buf[97:193], r.Signature)
	return buf
}

// DecodeResponse decodes an encoded response by its type byte.
func DecodeResponse(data []byte) (Response, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	switch data[0] {
	case msgTypeAck:
		return &AckResponse{}, nil

	case msgTypeError:
		if len(data) < 2 {
			return nil, fmt.Errorf("error response too short: %d", len(data))
		}
		return &ErrorResponse{Code: data[1]}, nil

	case msgTypeSequence:
		snap, _, err := readBytes(data[1:])
		if err != nil {
			return nil, fmt.Errorf("sequence response:\n%w", err)
		}
		return &SequenceResponse{Snapshot: snap}, nil

	case msgTypeBalance:
		if len(data) < 9 {
			return nil, fmt.Errorf("balance response too short: %d", len(data))
		}
		return &BalanceResponse{Amount: binary.BigEndian.Uint64(data[1:9])}, nil

	case msgTypeShare:
		if len(data) < 1+32+32+32+96 {
			return nil, fmt.Errorf("share response too short: %d", len(data))
		}
		r := &ShareResponse{Signature: make([]byte, 96)}
		copy(r.TransferID[:], data[1:33])
		copy(r.Validator[:], data[33:65])
		copy(r.Digest[:], data[65:97])
		copy(r.Signature, data[97:193])
		return r, nil

	default:
		return nil, fmt.Errorf("unknown response type: 0x%02x", data[0])
	}
}

// appendBytes appends a length-prefixed byte field.
func appendBytes(buf, field []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(field)))
	return append(buf, field...)
}

// readBytes reads a length-prefixed byte field and returns the remainder.
func readBytes(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("field truncated: %d < 4", len(data))
	}

	n := binary.BigEndian.Uint32(data[:4])

	if len(data) < 4+int(n) {
		return nil, nil, fmt.Errorf("field truncated: need %d, have %d", 4+n, len(data))
	}

	field := make([]byte, n)
	copy(field, data[4:4+n])

	return field, data[4+int(n):], nil
}

package types

import (
	"bytes"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/blake2b"
)

// Transaction is an account-model transfer, optionally carrying
// contract call data for the trivial painting contract. It is
// deliberately not a protobuf message (unlike pb.Transaction):
// nothing in this simulator crosses a real wire, so a plain struct is
// enough to satisfy the data model.
type Transaction struct {
	From      common.Address
	To        common.Address
	Value     uint64
	Nonce     uint64
	Timestamp int64
	PublicKey []byte // uncompressed ECDSA public key the signature must recover to From.
	Signature []byte
	Data      []byte // optional contract call payload (e.g. the painting contract).
}

// IsCoinbase reports whether tx is the protocol-generated first
// transaction of a block: it consumes no sender nonce and pays the
// proposer the block reward.
func (tx *Transaction) IsCoinbase(protocolNodeID common.Address) bool {
	return tx.From == protocolNodeID
}

// ID returns the deterministic digest of the transaction's fixed
// fields, per spec.md §6: H(concat({from, to, value, nonce,
// timestamp})).
func (tx *Transaction) ID() [32]byte {
	var buf bytes.Buffer
	buf.Write(tx.From.Bytes())
	buf.Write(tx.To.Bytes())
	_ = binary.Write(&buf, binary.BigEndian, tx.Value)
	_ = binary.Write(&buf, binary.BigEndian, tx.Nonce)
	_ = binary.Write(&buf, binary.BigEndian, tx.Timestamp)
	return blake2b.Sum256(buf.Bytes())
}

// TransactionsRoot returns H(concat(txid for tx in txs)), the
// transactionHash stored in a block header.
func TransactionsRoot(txs []*Transaction) [32]byte {
	var buf bytes.Buffer
	for _, tx := range txs {
		id := tx.ID()
		buf.Write(id[:])
	}
	return blake2b.Sum256(buf.Bytes())
}

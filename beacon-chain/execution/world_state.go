// Package execution implements WorldState: the account-model
// execution layer that Blockchain rebuilds from the canonical chain
// (spec.md §3, §4.5). Signature recovery follows the go-ethereum
// crypto package the way sharding/notary/service_test.go derives
// addresses from public keys (e.g. via
// crypto.PubkeyToAddress(key.PublicKey)); this package is the one
// place that treats ECDSA as a concrete capability rather than an
// opaque sign/verify call, since WorldState cannot apply a
// transaction without knowing whether its signature actually recovers
// to its claimed sender.
package execution

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/beaconsim/beacon-chain/types"
)

var log = logrus.WithField("prefix", "execution")

// Account is one entry of the world state's account map (spec.md §3).
// An account that has ever received a paint call also carries a Pixels
// canvas; nothing distinguishes a "contract account" from a regular one
// beyond that, since the painting contract is not consensus-critical
// (spec.md §1) and does not need its own account variant.
type Account struct {
	Balance uint64
	Nonce   uint64
	Code    []byte
	Storage map[[32]byte][32]byte
	Pixels  map[[2]int32]string
}

// Receipt records the outcome of one applied transaction.
type Receipt struct {
	BlockHash [32]byte
	TxID      [32]byte
	From      common.Address
	To        common.Address
	Value     uint64
}

// WorldState is the execution-layer account map plus a receipts
// index, keyed (blockHash, txid).
type WorldState struct {
	accounts map[common.Address]*Account
	receipts map[[32]byte]map[[32]byte]*Receipt
}

// New constructs an empty WorldState. Genesis accounts should be
// seeded via SeedAccount immediately after construction, since "genesis
// is the only producer of initial accounts" (spec.md §3).
func New() *WorldState {
	return &WorldState{
		accounts: make(map[common.Address]*Account),
		receipts: make(map[[32]byte]map[[32]byte]*Receipt),
	}
}

// SeedAccount installs a genesis account. Calling it after genesis has
// been applied is a caller error this package does not guard against,
// matching spec.md's "genesis is the only producer of initial
// accounts" invariant.
func (w *WorldState) SeedAccount(addr common.Address, balance uint64) {
	w.accounts[addr] = &Account{Balance: balance}
}

// Account returns a copy of the named account, or the zero account if
// unknown.
func (w *WorldState) Account(addr common.Address) Account {
	if acc, ok := w.accounts[addr]; ok {
		return *acc
	}
	return Account{}
}

// Receipt looks up the receipt for (blockHash, txid).
func (w *WorldState) Receipt(blockHash, txid [32]byte) (*Receipt, bool) {
	byTx, ok := w.receipts[blockHash]
	if !ok {
		return nil, false
	}
	r, ok := byTx[txid]
	return r, ok
}

// Reset clears all accounts and receipts; used during reorg state
// rebuild (spec.md §4.5).
func (w *WorldState) Reset() {
	w.accounts = make(map[common.Address]*Account)
	w.receipts = make(map[[32]byte]map[[32]byte]*Receipt)
}

// Clone returns a deep copy suitable for validating a block's
// transactions against a scratch state before committing them for
// real (spec.md §4.5: "validate each transaction against a scratch
// copy of WorldState").
func (w *WorldState) Clone() *WorldState {
	clone := New()
	for addr, acc := range w.accounts {
		accCopy := *acc
		if acc.Storage != nil {
			accCopy.Storage = make(map[[32]byte][32]byte, len(acc.Storage))
			for k, v := range acc.Storage {
				accCopy.Storage[k] = v
			}
		}
		if acc.Pixels != nil {
			accCopy.Pixels = make(map[[2]int32]string, len(acc.Pixels))
			for k, v := range acc.Pixels {
				accCopy.Pixels[k] = v
			}
		}
		clone.accounts[addr] = &accCopy
	}
	return clone
}

var (
	// ErrUnknownSender is returned when a non-coinbase transaction's
	// sender has no account.
	ErrUnknownSender = errors.New("sender account does not exist")
	// ErrInsufficientBalance is returned when the sender cannot cover
	// the transaction's value.
	ErrInsufficientBalance = errors.New("sender balance insufficient")
	// ErrNonceMismatch is returned when tx.Nonce doesn't equal the
	// sender's current nonce.
	ErrNonceMismatch = errors.New("transaction nonce does not match sender nonce")
	// ErrBadSignature is returned when the signature does not recover
	// to the claimed sender.
	ErrBadSignature = errors.New("transaction signature invalid")
	// ErrBadCoinbase is returned when the first transaction of a block
	// is not a well-formed coinbase.
	ErrBadCoinbase = errors.New("first transaction is not a valid coinbase")
)

// ValidateTransaction checks tx against w without mutating it, per the
// rules in spec.md §4.5. isFirst indicates whether tx is the block's
// first transaction, which must be the coinbase.
func (w *WorldState) ValidateTransaction(tx *types.Transaction, isFirst bool, protocolNodeID common.Address, blockReward uint64) error {
	if isFirst {
		if !tx.IsCoinbase(protocolNodeID) || tx.Value != blockReward {
			return ErrBadCoinbase
		}
		return nil
	}
	if tx.IsCoinbase(protocolNodeID) {
		return ErrBadCoinbase
	}

	sender, ok := w.accounts[tx.From]
	if !ok {
		return ErrUnknownSender
	}
	if sender.Balance < tx.Value {
		return ErrInsufficientBalance
	}
	if tx.Nonce != sender.Nonce {
		return ErrNonceMismatch
	}
	if err := verifySignature(tx); err != nil {
		return err
	}
	return nil
}

// verifySignature checks that tx.Signature recovers a public key
// matching tx.PublicKey, and that tx.PublicKey's address equals
// tx.From.
func verifySignature(tx *types.Transaction) error {
	if len(tx.PublicKey) == 0 || len(tx.Signature) == 0 {
		return ErrBadSignature
	}
	pub, err := crypto.UnmarshalPubkey(tx.PublicKey)
	if err != nil {
		return errors.Wrap(ErrBadSignature, err.Error())
	}
	if crypto.PubkeyToAddress(*pub) != tx.From {
		return ErrBadSignature
	}
	id := tx.ID()
	recovered, err := crypto.SigToPub(id[:], tx.Signature)
	if err != nil {
		return errors.Wrap(ErrBadSignature, err.Error())
	}
	if !bytes.Equal(crypto.FromECDSAPub(recovered), tx.PublicKey) {
		return ErrBadSignature
	}
	return nil
}

// ApplyTransaction applies tx to w, recording a receipt under
// blockHash. The caller must have already validated tx via
// ValidateTransaction against an equivalent scratch state.
func (w *WorldState) ApplyTransaction(blockHash [32]byte, tx *types.Transaction, isFirst bool, protocolNodeID common.Address) {
	if !isFirst {
		sender := w.accounts[tx.From]
		sender.Balance -= tx.Value
		sender.Nonce++
	}

	receiver, ok := w.accounts[tx.To]
	if !ok {
		receiver = &Account{}
		w.accounts[tx.To] = receiver
	}
	receiver.Balance += tx.Value

	if len(tx.Data) > 0 {
		applyContractData(receiver, tx.Data)
	}

	byTx, ok := w.receipts[blockHash]
	if !ok {
		byTx = make(map[[32]byte]*Receipt)
		w.receipts[blockHash] = byTx
	}
	id := tx.ID()
	byTx[id] = &Receipt{BlockHash: blockHash, TxID: id, From: tx.From, To: tx.To, Value: tx.Value}
}

// paintDataPrefix tags a transaction's Data field as a paint call so
// applyContractData doesn't try to interpret unrelated opaque payloads
// as pixel writes.
var paintDataPrefix = []byte("PAINT")

// EncodePaintData builds the Data payload for a transaction that paints
// a single pixel of the shared canvas at (x, y). color is stored
// verbatim (e.g. "#ff00aa") and is never validated, since the
// contract is explicitly not consensus-critical
// (spec.md §1).
func EncodePaintData(x, y int32, color string) []byte {
	buf := make([]byte, 0, len(paintDataPrefix)+8+len(color))
	buf = append(buf, paintDataPrefix...)
	buf = append(buf, byte(x>>24), byte(x>>16), byte(x>>8), byte(x))
	buf = append(buf, byte(y>>24), byte(y>>16), byte(y>>8), byte(y))
	buf = append(buf, color...)
	return buf
}

// applyContractData handles the trivial painting contract mentioned in
// spec.md §1: a recognized paint call sets one pixel on the receiver's
// canvas; for anything else the first 32 bytes (zero-padded) are
// stored at storage slot zero and the rest is dropped, since the
// contract is "not consensus-critical".
func applyContractData(receiver *Account, data []byte) {
	if len(data) >= len(paintDataPrefix)+8 && bytes.HasPrefix(data, paintDataPrefix) {
		rest := data[len(paintDataPrefix):]
		x := int32(rest[0])<<24 | int32(rest[1])<<16 | int32(rest[2])<<8 | int32(rest[3])
		y := int32(rest[4])<<24 | int32(rest[5])<<16 | int32(rest[6])<<8 | int32(rest[7])
		color := string(rest[8:])
		if receiver.Pixels == nil {
			receiver.Pixels = make(map[[2]int32]string)
		}
		receiver.Pixels[[2]int32{x, y}] = color
		return
	}
	if receiver.Storage == nil {
		receiver.Storage = make(map[[32]byte][32]byte)
	}
	var slot, value [32]byte
	copy(value[:], data)
	receiver.Storage[slot] = value
}

// ApplyBlock validates and applies every transaction in block against
// w in order, returning the first validation error encountered (if
// any) without partially mutating w: validation runs against a
// scratch Clone() first, per spec.md §4.5.
func ApplyBlock(w *WorldState, blockHash [32]byte, txs []*types.Transaction, protocolNodeID common.Address, blockReward uint64) error {
	scratch := w.Clone()
	for i, tx := range txs {
		if err := scratch.ValidateTransaction(tx, i == 0, protocolNodeID, blockReward); err != nil {
			log.WithField("txIndex", i).Debug("Transaction failed validation")
			return err
		}
		scratch.ApplyTransaction(blockHash, tx, i == 0, protocolNodeID)
	}
	for i, tx := range txs {
		w.ApplyTransaction(blockHash, tx, i == 0, protocolNodeID)
	}
	return nil
}

package execution

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ethsim/beaconsim/beacon-chain/types"
)

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func signTx(t *testing.T, tx *types.Transaction, key *ecdsa.PrivateKey) {
	t.Helper()
	tx.PublicKey = crypto.FromECDSAPub(&key.PublicKey)
	id := tx.ID()
	sig, err := crypto.Sign(id[:], key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	tx.Signature = sig
}

func TestValidateTransaction_CoinbaseMustBeFirstAndMatchReward(t *testing.T) {
	w := New()
	var protocolNodeID common.Address
	protocolNodeID[0] = 0xaa
	coinbase := &types.Transaction{From: protocolNodeID, To: common.Address{0x1}, Value: 10}
	if err := w.ValidateTransaction(coinbase, true, protocolNodeID, 10); err != nil {
		t.Fatalf("expected valid coinbase, got %v", err)
	}
	if err := w.ValidateTransaction(coinbase, true, protocolNodeID, 5); err != ErrBadCoinbase {
		t.Fatalf("expected ErrBadCoinbase on reward mismatch, got %v", err)
	}
}

func TestValidateTransaction_InsufficientBalance(t *testing.T) {
	w := New()
	var protocolNodeID common.Address
	key := mustKey(t)
	from := crypto.PubkeyToAddress(key.PublicKey)
	w.SeedAccount(from, 5)

	tx := &types.Transaction{From: from, To: common.Address{0x2}, Value: 10, Nonce: 0}
	signTx(t, tx, key)

	if err := w.ValidateTransaction(tx, false, protocolNodeID, 0); err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestValidateTransaction_NonceMismatch(t *testing.T) {
	w := New()
	var protocolNodeID common.Address
	key := mustKey(t)
	from := crypto.PubkeyToAddress(key.PublicKey)
	w.SeedAccount(from, 100)

	tx := &types.Transaction{From: from, To: common.Address{0x2}, Value: 10, Nonce: 5}
	signTx(t, tx, key)

	if err := w.ValidateTransaction(tx, false, protocolNodeID, 0); err != ErrNonceMismatch {
		t.Fatalf("expected ErrNonceMismatch, got %v", err)
	}
}

func TestValidateTransaction_SignatureMustRecoverToFrom(t *testing.T) {
	w := New()
	var protocolNodeID common.Address
	key := mustKey(t)
	otherKey := mustKey(t)
	from := crypto.PubkeyToAddress(key.PublicKey)
	w.SeedAccount(from, 100)

	tx := &types.Transaction{From: from, To: common.Address{0x2}, Value: 10, Nonce: 0}
	signTx(t, tx, otherKey) // signed by the wrong key

	if err := w.ValidateTransaction(tx, false, protocolNodeID, 0); err == nil {
		t.Fatalf("expected signature validation failure")
	}
}

func TestApplyBlock_UpdatesBalancesAndReceipts(t *testing.T) {
	w := New()
	var protocolNodeID common.Address
	protocolNodeID[0] = 0xaa
	key := mustKey(t)
	from := crypto.PubkeyToAddress(key.PublicKey)
	w.SeedAccount(from, 100)
	proposer := common.Address{0x9}

	coinbase := &types.Transaction{From: protocolNodeID, To: proposer, Value: 10}
	transfer := &types.Transaction{From: from, To: common.Address{0x2}, Value: 20, Nonce: 0}
	signTx(t, transfer, key)

	var blockHash [32]byte
	blockHash[0] = 1
	if err := ApplyBlock(w, blockHash, []*types.Transaction{coinbase, transfer}, protocolNodeID, 10); err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}

	if got := w.Account(proposer).Balance; got != 10 {
		t.Fatalf("expected proposer balance 10, got %d", got)
	}
	if got := w.Account(from).Balance; got != 80 {
		t.Fatalf("expected sender balance 80, got %d", got)
	}
	if got := w.Account(from).Nonce; got != 1 {
		t.Fatalf("expected sender nonce 1, got %d", got)
	}
	if got := w.Account(common.Address{0x2}).Balance; got != 20 {
		t.Fatalf("expected receiver balance 20, got %d", got)
	}
	if _, ok := w.Receipt(blockHash, transfer.ID()); !ok {
		t.Fatalf("expected receipt for transfer tx")
	}
}

func TestApplyBlock_RejectsInvalidBlockWithoutMutatingState(t *testing.T) {
	w := New()
	var protocolNodeID common.Address
	protocolNodeID[0] = 0xaa
	key := mustKey(t)
	from := crypto.PubkeyToAddress(key.PublicKey)
	w.SeedAccount(from, 5)

	coinbase := &types.Transaction{From: protocolNodeID, To: common.Address{0x9}, Value: 10}
	badTransfer := &types.Transaction{From: from, To: common.Address{0x2}, Value: 50, Nonce: 0}
	signTx(t, badTransfer, key)

	var blockHash [32]byte
	err := ApplyBlock(w, blockHash, []*types.Transaction{coinbase, badTransfer}, protocolNodeID, 10)
	if err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := w.Account(from).Balance; got != 5 {
		t.Fatalf("expected sender balance untouched at 5, got %d", got)
	}
}

// Global agreement on types shared by the banknote components.

package agreement

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Asset is a configured, immutable asset entry.
type Asset struct {
	Symbol  string
	Address common.Address // token contract, or the native sentinel

	// Decimals is only meaningful for the native asset. ERC-20 decimals
	// are read from the token contract.
	Decimals uint8
	Native   bool
}

func (a Asset) String() string {
	if a.Native {
		return fmt.Sprintf("%s(native)", a.Symbol)
	}
	return fmt.Sprintf("%s(%s)", a.Symbol, a.Address.Hex())
}

type BanknoteStatus string

const (
	BanknotePending    BanknoteStatus = "pending"    // mint broadcast, not yet confirmed
	BanknoteMinted     BanknoteStatus = "minted"     // mint confirmed and id recovered
	BanknoteUnresolved BanknoteStatus = "unresolved" // mint confirmed, id needs a manual chain lookup
	BanknoteRedeemed   BanknoteStatus = "redeemed"
	BanknoteFailed     BanknoteStatus = "failed" // mint reverted, nothing escrowed
)

// Banknote is the off-chain record of an escrowed bearer note.
type Banknote struct {
	ID           *big.Int // nil until recovered from the mint event
	Issuer       common.Address
	ClaimAddress common.Address
	Asset        common.Address
	AssetSymbol  string
	Denomination *big.Int // whole units
	Status       BanknoteStatus
	MintTxHash   common.Hash
	RedeemTxHash common.Hash
}

func (b *Banknote) String() string {
	return fmt.Sprintf("%+v", *b)
}

// TransactionResult is the confirmed outcome of a value-moving transaction.
// Amount and AssetSymbol come from the emitted event, not from the request.
type TransactionResult struct {
	TxHash      common.Hash
	BanknoteID  *big.Int
	AssetSymbol string
	Amount      string   // formatted with the asset's decimals
	RawAmount   *big.Int // base units
}

func (r *TransactionResult) String() string {
	return fmt.Sprintf("%+v", *r)
}

// Balance of one asset for one account. A failed read is reported as a zero
// balance with Err set.
type Balance struct {
	Symbol    string
	Raw       *big.Int
	Decimals  uint8
	Formatted string
	Err       error
}

// BanknoteMintedEvent mirrors banknoteMinted(minter, erc20, id, denomination).
type BanknoteMintedEvent struct {
	TxHash       common.Hash
	Minter       common.Address
	Erc20        common.Address
	Id           *big.Int
	Denomination *big.Int
}

func (ev *BanknoteMintedEvent) String() string {
	return fmt.Sprintf("%+v", *ev)
}

// BanknoteRedeemedEvent mirrors
// banknoteRedeemed(redeemer, erc20, amount, description, id).
type BanknoteRedeemedEvent struct {
	TxHash      common.Hash
	Redeemer    common.Address
	Erc20       common.Address
	Amount      *big.Int
	Description [32]byte
	Id          *big.Int
}

func (ev *BanknoteRedeemedEvent) String() string {
	return fmt.Sprintf("%+v", *ev)
}

// Redemption is the ledger record of a confirmed redemption.
type Redemption struct {
	TxHash      common.Hash
	BanknoteID  *big.Int
	Redeemer    common.Address
	Asset       common.Address
	AssetSymbol string
	Amount      *big.Int
	Description [32]byte
}

type TxKind string

const (
	TxKindApprove TxKind = "approve"
	TxKindMint    TxKind = "mint"
	TxKindRedeem  TxKind = "redeem"
	TxKindSkim    TxKind = "skim"
)

type TxStatus string

const (
	TxPending  TxStatus = "pending"
	TxSuccess  TxStatus = "success"
	TxReverted TxStatus = "reverted"
	TxTimeout  TxStatus = "timeout" // waited long enough, outcome still unknown
)

// MonitoredTx is a broadcast transaction whose outcome can be re-queried by
// hash.
type MonitoredTx struct {
	TxHash common.Hash
	Kind   TxKind
	Status TxStatus
	Ref    string // banknote id or asset symbol, free form
	SentAt time.Time
}

func (mtx *MonitoredTx) String() string {
	return fmt.Sprintf("%+v", *mtx)
}

type LifecycleKind string

const (
	LifecycleMinted   LifecycleKind = "minted"
	LifecycleRedeemed LifecycleKind = "redeemed"
	LifecycleSkimmed  LifecycleKind = "skimmed"
)

// LifecycleEvent is published after a banknote changes state on chain. It
// never carries a bearer secret.
type LifecycleEvent struct {
	ID          string        `json:"id"`
	Kind        LifecycleKind `json:"kind"`
	TxHash      string        `json:"txHash"`
	BanknoteID  string        `json:"banknoteId,omitempty"`
	AssetSymbol string        `json:"assetSymbol"`
	Amount      string        `json:"amount"`
	Account     string        `json:"account"`
	Timestamp   time.Time     `json:"timestamp"`
}

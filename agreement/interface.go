package agreement

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BanknoteLedger is how the minter, redeemer and tx monitor record outcomes.
// Implementations must be append-only for banknotes.
type BanknoteLedger interface {
	// InsertBanknote stores a freshly broadcast banknote keyed by its mint tx
	// hash. secret may be nil, in which case it is not persisted.
	InsertBanknote(note *Banknote, secret []byte) error

	// ResolveBanknote moves a pending banknote to minted (id known),
	// unresolved (id nil) or failed. A minted note that already has a
	// redemption on record becomes redeemed instead.
	ResolveBanknote(mintTxHash common.Hash, id *big.Int, status BanknoteStatus) error

	// InsertRedemption stores the redemption and marks the banknote redeemed
	// if the ledger knows it.
	InsertRedemption(r *Redemption) error

	InsertMonitoredTx(mtx *MonitoredTx) error
	UpdateTxStatus(txHash common.Hash, status TxStatus) error
}

// Emitter publishes lifecycle events to whoever is interested.
type Emitter interface {
	Emit(ctx context.Context, ev *LifecycleEvent) error
	Close() error
}

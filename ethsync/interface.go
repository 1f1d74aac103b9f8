package ethsync

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/TEENet-io/banknote-go/agreement"
)

// State is the part of the ledger the synchronizer writes to.
type State interface {
	GetLastScannedBlock() (uint64, bool, error)
	SetLastScannedBlock(num uint64) error

	GetBanknoteByMintTxHash(mintTxHash common.Hash) (*agreement.Banknote, bool, error)
	ResolveBanknote(mintTxHash common.Hash, id *big.Int, status agreement.BanknoteStatus) error
	InsertRedemption(r *agreement.Redemption) error
}

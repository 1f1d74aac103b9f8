// ABI of the banknote collateral vault. The vault is deployed separately;
// only its interface is needed here.

package contracts

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

const (
	MethodMintBanknote    = "mintBanknote"
	MethodRedeemBanknote  = "redeemBanknote"
	MethodGetBanknoteInfo = "getBanknoteInfo"
	MethodGetSurplus      = "getSurplus"
	MethodSkimSurplus     = "skimSurplus"
	MethodGetNextId       = "getNextId"

	EventBanknoteMinted   = "banknoteMinted"
	EventBanknoteRedeemed = "banknoteRedeemed"
	EventSurplusSkimmed   = "surplusSkimmed"
)

// Revert reasons raised by the vault.
const (
	ReasonAlreadyRedeemed     = "Banknote already redeemed"
	ReasonAmountExceeds       = "Amount exceeds banknote value"
	ReasonInvalidSignature    = "Invalid signature"
	ReasonUnknownBanknote     = "Banknote does not exist"
	ReasonInsufficientSurplus = "Insufficient surplus"
	ReasonZeroDenomination    = "Denomination must be positive"
	ReasonNativeValue         = "Incorrect native value"
	ReasonZeroClaimKey        = "Claim key is zero"
	ReasonZeroAmount          = "Amount must be positive"
)

// NativeAssetAddress stands in for the chain's own coin wherever the vault
// expects a token address.
var NativeAssetAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

var BanknoteVaultMetaData = &bind.MetaData{
	ABI: `[
	{"type":"function","name":"mintBanknote","stateMutability":"payable",
	 "inputs":[{"name":"erc20","type":"address"},{"name":"claimPublicKey","type":"address"},{"name":"denomination","type":"uint256"}],
	 "outputs":[{"name":"id","type":"uint256"}]},
	{"type":"function","name":"redeemBanknote","stateMutability":"nonpayable",
	 "inputs":[{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"signature","type":"bytes"},{"name":"description","type":"bytes32"}],
	 "outputs":[]},
	{"type":"function","name":"getBanknoteInfo","stateMutability":"view",
	 "inputs":[{"name":"id","type":"uint256"}],
	 "outputs":[{"name":"minter","type":"address"},{"name":"claimPublicKey","type":"address"},{"name":"erc20","type":"address"},{"name":"denomination","type":"uint256"}]},
	{"type":"function","name":"getSurplus","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"erc20","type":"address"}],
	 "outputs":[{"name":"amount","type":"uint256"}]},
	{"type":"function","name":"skimSurplus","stateMutability":"nonpayable",
	 "inputs":[{"name":"erc20","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[]},
	{"type":"function","name":"getNextId","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"banknoteMinted","anonymous":false,
	 "inputs":[{"name":"minter","type":"address","indexed":true},{"name":"erc20","type":"address","indexed":true},{"name":"id","type":"uint256","indexed":false},{"name":"denomination","type":"uint256","indexed":false}]},
	{"type":"event","name":"banknoteRedeemed","anonymous":false,
	 "inputs":[{"name":"redeemer","type":"address","indexed":true},{"name":"erc20","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"description","type":"bytes32","indexed":false},{"name":"id","type":"uint256","indexed":false}]},
	{"type":"event","name":"surplusSkimmed","anonymous":false,
	 "inputs":[{"name":"owner","type":"address","indexed":true},{"name":"erc20","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`,
}

var VaultABI = mustGetAbi(BanknoteVaultMetaData)

func mustGetAbi(md *bind.MetaData) abi.ABI {
	parsed, err := md.GetAbi()
	if err != nil {
		panic(err)
	}
	return *parsed
}

package etherman

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/TEENet-io/banknote-go/contracts"
)

var (
	// Events
	BanknoteMintedSignatureHash   = contracts.VaultABI.Events[contracts.EventBanknoteMinted].ID
	BanknoteRedeemedSignatureHash = contracts.VaultABI.Events[contracts.EventBanknoteRedeemed].ID
	SurplusSkimmedSignatureHash   = contracts.VaultABI.Events[contracts.EventSurplusSkimmed].ID
	TransferSignatureHash         = contracts.ERC20ABI.Events[contracts.EventTransfer].ID
	ApprovalSignatureHash         = contracts.ERC20ABI.Events[contracts.EventApproval].ID
)

var ErrUnexpectedOutput = errors.New("unexpected contract call output")

// EthereumClient is everything the banknote layer needs from a node.
// *ethclient.Client satisfies it, and so does SimulatedChain.
type EthereumClient interface {
	ethereum.ChainStateReader
	ethereum.TransactionReader

	bind.DeployBackend
	bind.ContractBackend

	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Real params to call the vault's mintBanknote()
type MintParams struct {
	Asset        ethcommon.Address // token, or contracts.NativeAssetAddress
	ClaimAddress ethcommon.Address
	Denomination *big.Int // whole units
	Value        *big.Int // attached native value, nil for tokens
}

// Real params to call the vault's redeemBanknote()
type RedeemParams struct {
	Id          *big.Int
	Amount      *big.Int // base units
	Signature   []byte
	Description [32]byte
}

// BanknoteInfo is what getBanknoteInfo() returns.
type BanknoteInfo struct {
	Minter       ethcommon.Address
	ClaimAddress ethcommon.Address
	Erc20        ethcommon.Address
	Denomination *big.Int
}

type Etherman struct {
	ethClient     EthereumClient
	vaultAddress  ethcommon.Address
	vaultContract *bind.BoundContract
	limiter       *rate.Limiter

	tokenContracts sync.Map // address -> *bind.BoundContract
}

func NewEtherman(cfg *Config) (*Etherman, error) {
	ethClient, err := ethclient.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	return NewEthermanWithClient(cfg, ethClient), nil
}

func NewEthermanWithClient(cfg *Config, client EthereumClient) *Etherman {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Etherman{
		ethClient:    client,
		vaultAddress: cfg.VaultContractAddress,
		vaultContract: bind.NewBoundContract(
			cfg.VaultContractAddress, contracts.VaultABI, client, client, client,
		),
		limiter: limiter,
	}
}

func (etherman *Etherman) Client() EthereumClient {
	return etherman.ethClient
}

func (etherman *Etherman) VaultAddress() ethcommon.Address {
	return etherman.vaultAddress
}

func (etherman *Etherman) wait(ctx context.Context) error {
	return etherman.limiter.Wait(ctx)
}

func (etherman *Etherman) getTokenContract(token ethcommon.Address) *bind.BoundContract {
	if c, ok := etherman.tokenContracts.Load(token); ok {
		return c.(*bind.BoundContract)
	}
	c := bind.NewBoundContract(token, contracts.ERC20ABI, etherman.ethClient, etherman.ethClient, etherman.ethClient)
	actual, _ := etherman.tokenContracts.LoadOrStore(token, c)
	return actual.(*bind.BoundContract)
}

func (etherman *Etherman) call(
	ctx context.Context,
	contract *bind.BoundContract,
	method string,
	params ...interface{},
) ([]interface{}, error) {
	if err := etherman.wait(ctx); err != nil {
		return nil, err
	}
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, err
	}
	return out, nil
}

func (etherman *Etherman) transact(
	ctx context.Context,
	auth *bind.TransactOpts,
	contract *bind.BoundContract,
	method string,
	params ...interface{},
) (*types.Transaction, error) {
	if err := etherman.wait(ctx); err != nil {
		return nil, err
	}
	opts := *auth
	opts.Context = ctx
	return contract.Transact(&opts, method, params...)
}

func bigOutput(out []interface{}, i int) (*big.Int, error) {
	if len(out) <= i {
		return nil, ErrUnexpectedOutput
	}
	v, ok := abi.ConvertType(out[i], new(*big.Int)).(**big.Int)
	if !ok || *v == nil {
		return nil, ErrUnexpectedOutput
	}
	return *v, nil
}

func addressOutput(out []interface{}, i int) (ethcommon.Address, error) {
	if len(out) <= i {
		return ethcommon.Address{}, ErrUnexpectedOutput
	}
	v, ok := abi.ConvertType(out[i], new(ethcommon.Address)).(*ethcommon.Address)
	if !ok {
		return ethcommon.Address{}, ErrUnexpectedOutput
	}
	return *v, nil
}

func (etherman *Etherman) ChainID(ctx context.Context) (*big.Int, error) {
	if err := etherman.wait(ctx); err != nil {
		return nil, err
	}
	return etherman.ethClient.ChainID(ctx)
}

func (etherman *Etherman) NativeBalance(ctx context.Context, account ethcommon.Address) (*big.Int, error) {
	if err := etherman.wait(ctx); err != nil {
		return nil, err
	}
	return etherman.ethClient.BalanceAt(ctx, account, nil)
}

func (etherman *Etherman) TokenBalanceOf(ctx context.Context, token, owner ethcommon.Address) (*big.Int, error) {
	out, err := etherman.call(ctx, etherman.getTokenContract(token), contracts.MethodBalanceOf, owner)
	if err != nil {
		return nil, err
	}
	return bigOutput(out, 0)
}

func (etherman *Etherman) TokenDecimals(ctx context.Context, token ethcommon.Address) (uint8, error) {
	out, err := etherman.call(ctx, etherman.getTokenContract(token), contracts.MethodDecimals)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, ErrUnexpectedOutput
	}
	v, ok := abi.ConvertType(out[0], new(uint8)).(*uint8)
	if !ok {
		return 0, ErrUnexpectedOutput
	}
	return *v, nil
}

// TokenAllowance returns how much the vault may pull from owner.
func (etherman *Etherman) TokenAllowance(ctx context.Context, token, owner ethcommon.Address) (*big.Int, error) {
	out, err := etherman.call(ctx, etherman.getTokenContract(token), contracts.MethodAllowance, owner, etherman.vaultAddress)
	if err != nil {
		return nil, err
	}
	return bigOutput(out, 0)
}

// TokenApprove sets the vault's allowance over auth's tokens to amount.
func (etherman *Etherman) TokenApprove(
	ctx context.Context,
	auth *bind.TransactOpts,
	token ethcommon.Address,
	amount *big.Int,
) (*types.Transaction, error) {
	return etherman.transact(ctx, auth, etherman.getTokenContract(token), contracts.MethodApprove, etherman.vaultAddress, amount)
}

func (etherman *Etherman) MintBanknote(ctx context.Context, auth *bind.TransactOpts, params *MintParams) (*types.Transaction, error) {
	if err := etherman.wait(ctx); err != nil {
		return nil, err
	}
	opts := *auth
	opts.Context = ctx
	opts.Value = params.Value
	return etherman.vaultContract.Transact(&opts, contracts.MethodMintBanknote,
		params.Asset, params.ClaimAddress, params.Denomination)
}

func (etherman *Etherman) RedeemBanknote(ctx context.Context, auth *bind.TransactOpts, params *RedeemParams) (*types.Transaction, error) {
	return etherman.transact(ctx, auth, etherman.vaultContract, contracts.MethodRedeemBanknote,
		params.Id, params.Amount, params.Signature, params.Description)
}

func (etherman *Etherman) GetBanknoteInfo(ctx context.Context, id *big.Int) (*BanknoteInfo, error) {
	out, err := etherman.call(ctx, etherman.vaultContract, contracts.MethodGetBanknoteInfo, id)
	if err != nil {
		return nil, err
	}

	info := &BanknoteInfo{}
	if info.Minter, err = addressOutput(out, 0); err != nil {
		return nil, err
	}
	if info.ClaimAddress, err = addressOutput(out, 1); err != nil {
		return nil, err
	}
	if info.Erc20, err = addressOutput(out, 2); err != nil {
		return nil, err
	}
	if info.Denomination, err = bigOutput(out, 3); err != nil {
		return nil, err
	}
	return info, nil
}

func (etherman *Etherman) GetSurplus(ctx context.Context, owner, token ethcommon.Address) (*big.Int, error) {
	out, err := etherman.call(ctx, etherman.vaultContract, contracts.MethodGetSurplus, owner, token)
	if err != nil {
		return nil, err
	}
	return bigOutput(out, 0)
}

// SkimSurplus withdraws amount of auth's surplus in token. Zero means all.
func (etherman *Etherman) SkimSurplus(
	ctx context.Context,
	auth *bind.TransactOpts,
	token ethcommon.Address,
	amount *big.Int,
) (*types.Transaction, error) {
	return etherman.transact(ctx, auth, etherman.vaultContract, contracts.MethodSkimSurplus, token, amount)
}

func (etherman *Etherman) GetNextId(ctx context.Context) (*big.Int, error) {
	out, err := etherman.call(ctx, etherman.vaultContract, contracts.MethodGetNextId)
	if err != nil {
		return nil, err
	}
	return bigOutput(out, 0)
}

func (etherman *Etherman) BlockNumber(ctx context.Context) (uint64, error) {
	if err := etherman.wait(ctx); err != nil {
		return 0, err
	}
	return etherman.ethClient.BlockNumber(ctx)
}

// VaultLogs returns the banknoteMinted and banknoteRedeemed logs emitted by
// the vault in blocks [from, to].
func (etherman *Etherman) VaultLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	if err := etherman.wait(ctx); err != nil {
		return nil, err
	}
	return etherman.ethClient.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []ethcommon.Address{etherman.vaultAddress},
		Topics:    [][]ethcommon.Hash{{BanknoteMintedSignatureHash, BanknoteRedeemedSignatureHash}},
	})
}

package etherman

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"

	mycommon "github.com/TEENet-io/banknote-go/common"
	"github.com/TEENet-io/banknote-go/contracts"
)

var (
	simulatedChainID        = big.NewInt(1337)
	simulatedGasLimit       = uint64(300_000)
	simulatedGasPrice       = big.NewInt(1_000_000_000)
	simulatedNativeDecimals = uint8(18)
	simulatedInitialBalance = mycommon.ScaleDenomination(big.NewInt(100), simulatedNativeDecimals)

	errSimNonce           = errors.New("invalid nonce")
	errSimInsufficientEth = errors.New("insufficient funds for gas * price + value")
	errSimUnknownTx       = errors.New("transaction type not supported")
)

// SimulatedChain is an in-memory chain that runs the vault and ERC-20
// semantics natively. It verifies transaction senders and redemption
// signatures for real and allows faults to be injected.
type SimulatedChain struct {
	mu sync.Mutex

	ChainId      *big.Int
	Accounts     []*bind.TransactOpts
	VaultAddress common.Address

	native  map[common.Address]*big.Int
	nonces  map[common.Address]uint64
	tokens  map[common.Address]*simToken
	notes   map[uint64]*simBanknote
	nextId  uint64
	surplus map[common.Address]map[common.Address]*big.Int

	block    uint64
	autoMine bool
	pending  []*types.Transaction
	txs      map[common.Hash]*types.Transaction
	receipts map[common.Hash]*types.Receipt

	// fault injection
	failSends    int
	sendErr      error
	failReceipts int
	callErrs     map[common.Address]error
	logOrder     func([]*types.Log) []*types.Log

	sends map[string]int
}

type simToken struct {
	symbol     string
	decimals   uint8
	noDecimals bool
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

type simBanknote struct {
	minter       common.Address
	claim        common.Address
	erc20        common.Address
	denomination *big.Int
	value        *big.Int // base units
	redeemed     bool
}

type simCall struct {
	from  common.Address
	to    common.Address
	value *big.Int
	data  []byte
}

// revertError looks like the error geth returns for a reverted call.
type revertError struct {
	reason string
	data   string
}

func newRevertError(reason string) *revertError {
	e := &revertError{reason: reason}
	if reason != "" {
		stringTy, _ := abi.NewType("string", "", nil)
		packed, _ := abi.Arguments{{Type: stringTy}}.Pack(reason)
		selector := crypto.Keccak256([]byte("Error(string)"))[:4]
		e.data = hexutil.Encode(append(selector, packed...))
	}
	return e
}

func (e *revertError) Error() string {
	if e.reason == "" {
		return msgExecutionReverted
	}
	return msgExecutionReverted + ": " + e.reason
}

func (e *revertError) ErrorCode() int { return 3 }

func (e *revertError) ErrorData() interface{} { return e.data }

func NewSimulatedChain(sks []*ecdsa.PrivateKey, chainID *big.Int) *SimulatedChain {
	if chainID == nil {
		chainID = simulatedChainID
	}

	sim := &SimulatedChain{
		ChainId:      chainID,
		VaultAddress: mycommon.RandEthAddress(),
		native:       map[common.Address]*big.Int{},
		nonces:       map[common.Address]uint64{},
		tokens:       map[common.Address]*simToken{},
		notes:        map[uint64]*simBanknote{},
		surplus:      map[common.Address]map[common.Address]*big.Int{},
		block:        1,
		autoMine:     true,
		txs:          map[common.Hash]*types.Transaction{},
		receipts:     map[common.Hash]*types.Receipt{},
		callErrs:     map[common.Address]error{},
		sends:        map[string]int{},
	}

	for _, sk := range sks {
		auth, _ := bind.NewKeyedTransactorWithChainID(sk, chainID)
		sim.Accounts = append(sim.Accounts, auth)
		sim.native[auth.From] = new(big.Int).Set(simulatedInitialBalance)
	}

	return sim
}

//////////////////////////////////////////////////////////////////////
// test controls
//////////////////////////////////////////////////////////////////////

// DeployToken registers an ERC-20 token at a random address.
func (sim *SimulatedChain) DeployToken(symbol string, decimals uint8) common.Address {
	sim.mu.Lock()
	defer sim.mu.Unlock()

	addr := mycommon.RandEthAddress()
	sim.tokens[addr] = &simToken{
		symbol:     symbol,
		decimals:   decimals,
		balances:   map[common.Address]*big.Int{},
		allowances: map[common.Address]map[common.Address]*big.Int{},
	}
	return addr
}

// DeployTokenWithoutDecimals registers a token whose decimals() reverts.
func (sim *SimulatedChain) DeployTokenWithoutDecimals(symbol string) common.Address {
	addr := sim.DeployToken(symbol, 0)
	sim.mu.Lock()
	sim.tokens[addr].noDecimals = true
	sim.mu.Unlock()
	return addr
}

// MintToken credits amount base units of token to account.
func (sim *SimulatedChain) MintToken(token, to common.Address, amount *big.Int) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	addTo(sim.tokens[token].balances, to, amount)
}

func (sim *SimulatedChain) TokenBalance(token, owner common.Address) *big.Int {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return new(big.Int).Set(valueOf(sim.tokens[token].balances, owner))
}

func (sim *SimulatedChain) SurplusOf(owner, erc20 common.Address) *big.Int {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return new(big.Int).Set(valueOf(sim.surplus[owner], erc20))
}

// FailSends makes the next n SendTransaction calls fail with err.
func (sim *SimulatedChain) FailSends(n int, err error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.failSends = n
	sim.sendErr = err
}

// FailReceipts makes the next n TransactionReceipt calls fail.
func (sim *SimulatedChain) FailReceipts(n int) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.failReceipts = n
}

// FailCalls makes every eth_call to contract fail with err. nil clears.
func (sim *SimulatedChain) FailCalls(contract common.Address, err error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if err == nil {
		delete(sim.callErrs, contract)
		return
	}
	sim.callErrs[contract] = err
}

// SetAutoMine controls whether sent transactions are mined immediately.
// When off, they wait for Commit.
func (sim *SimulatedChain) SetAutoMine(on bool) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.autoMine = on
}

// SetLogOrder rearranges the logs of every receipt mined afterwards.
func (sim *SimulatedChain) SetLogOrder(order func([]*types.Log) []*types.Log) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.logOrder = order
}

// Commit mines all pending transactions, one block each.
func (sim *SimulatedChain) Commit() {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	for _, tx := range sim.pending {
		sim.mine(tx)
	}
	sim.pending = nil
}

// InjectLog mines a block whose only content is vlog, as if emitted by a
// tx nobody here sent. It returns that tx hash.
func (sim *SimulatedChain) InjectLog(vlog *types.Log) common.Hash {
	sim.mu.Lock()
	defer sim.mu.Unlock()

	sim.block++
	blockNumber := new(big.Int).SetUint64(sim.block)
	txHash := common.BytesToHash(mycommon.RandBytes(32))

	vlog.TxHash = txHash
	vlog.BlockNumber = sim.block
	vlog.BlockHash = crypto.Keccak256Hash(blockNumber.Bytes())
	vlog.Index = 0
	sim.receipts[txHash] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockHash:   vlog.BlockHash,
		BlockNumber: blockNumber,
		Logs:        []*types.Log{vlog},
	}
	return txHash
}

// SendCount returns how many SendTransaction calls targeted method,
// failed ones included.
func (sim *SimulatedChain) SendCount(method string) int {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.sends[method]
}

func (sim *SimulatedChain) TotalSends() int {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	total := 0
	for _, n := range sim.sends {
		total += n
	}
	return total
}

//////////////////////////////////////////////////////////////////////
// EthereumClient
//////////////////////////////////////////////////////////////////////

func (sim *SimulatedChain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(sim.ChainId), nil
}

func (sim *SimulatedChain) BlockNumber(ctx context.Context) (uint64, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.block, nil
}

func (sim *SimulatedChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return &types.Header{
		Number:   new(big.Int).SetUint64(sim.block),
		GasLimit: simulatedGasLimit * 100,
	}, nil
}

func (sim *SimulatedChain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return new(big.Int).Set(valueOf(sim.native, account)), nil
}

func (sim *SimulatedChain) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	return make([]byte, 32), nil
}

func (sim *SimulatedChain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.codeAt(account), nil
}

func (sim *SimulatedChain) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return sim.CodeAt(ctx, account, nil)
}

func (sim *SimulatedChain) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.nonces[account], nil
}

func (sim *SimulatedChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return sim.NonceAt(ctx, account, nil)
}

func (sim *SimulatedChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(simulatedGasPrice), nil
}

func (sim *SimulatedChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (sim *SimulatedChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()

	if msg.To == nil {
		return 0, errSimUnknownTx
	}
	if _, err := sim.execute(&simCall{from: msg.From, to: *msg.To, value: msg.Value, data: msg.Data}, false); err != nil {
		return 0, err
	}
	return simulatedGasLimit, nil
}

func (sim *SimulatedChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()

	if msg.To == nil {
		return nil, errSimUnknownTx
	}
	if err, ok := sim.callErrs[*msg.To]; ok {
		return nil, err
	}
	res, err := sim.execute(&simCall{from: msg.From, to: *msg.To, value: msg.Value, data: msg.Data}, false)
	if err != nil {
		return nil, err
	}
	return res.output, nil
}

func (sim *SimulatedChain) PendingCallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return sim.CallContract(ctx, msg, nil)
}

func (sim *SimulatedChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()

	sim.sends[sim.methodName(tx)]++

	if sim.failSends > 0 {
		sim.failSends--
		return sim.sendErr
	}

	from, err := types.Sender(types.LatestSignerForChainID(sim.ChainId), tx)
	if err != nil {
		return err
	}
	if tx.Nonce() != sim.nonces[from] {
		return fmt.Errorf("%w: have %d want %d", errSimNonce, tx.Nonce(), sim.nonces[from])
	}
	if tx.Value() != nil && valueOf(sim.native, from).Cmp(tx.Value()) < 0 {
		return errSimInsufficientEth
	}

	sim.nonces[from]++
	sim.txs[tx.Hash()] = tx
	if sim.autoMine {
		sim.mine(tx)
	} else {
		sim.pending = append(sim.pending, tx)
	}
	return nil
}

func (sim *SimulatedChain) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()

	tx, ok := sim.txs[txHash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, mined := sim.receipts[txHash]
	return tx, !mined, nil
}

func (sim *SimulatedChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()

	if sim.failReceipts > 0 {
		sim.failReceipts--
		return nil, errors.New("connection refused")
	}
	receipt, ok := sim.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (sim *SimulatedChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()

	addrs := map[common.Address]bool{}
	for _, a := range q.Addresses {
		addrs[a] = true
	}

	logs := []types.Log{}
	for _, receipt := range sim.receipts {
		n := receipt.BlockNumber
		if q.FromBlock != nil && n.Cmp(q.FromBlock) < 0 {
			continue
		}
		if q.ToBlock != nil && n.Cmp(q.ToBlock) > 0 {
			continue
		}
		for _, vlog := range receipt.Logs {
			if len(addrs) > 0 && !addrs[vlog.Address] {
				continue
			}
			logs = append(logs, *vlog)
		}
	}
	// receipts live in a map, the node returns logs in chain order
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
	return logs, nil
}

func (sim *SimulatedChain) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit
		return nil
	}), nil
}

//////////////////////////////////////////////////////////////////////
// execution
//////////////////////////////////////////////////////////////////////

type simResult struct {
	output []byte
	logs   []*types.Log
}

func (sim *SimulatedChain) codeAt(account common.Address) []byte {
	if account == sim.VaultAddress {
		return []byte{0x60, 0x80}
	}
	if _, ok := sim.tokens[account]; ok {
		return []byte{0x60, 0x80}
	}
	return nil
}

func (sim *SimulatedChain) methodName(tx *types.Transaction) string {
	if tx.To() == nil || len(tx.Data()) < 4 {
		return ""
	}
	contractABI := contracts.ERC20ABI
	if *tx.To() == sim.VaultAddress {
		contractABI = contracts.VaultABI
	}
	method, err := contractABI.MethodById(tx.Data()[:4])
	if err != nil {
		return ""
	}
	return method.Name
}

// mine executes tx in a new block and stores its receipt. mu must be held.
func (sim *SimulatedChain) mine(tx *types.Transaction) {
	from, _ := types.Sender(types.LatestSignerForChainID(sim.ChainId), tx)

	sim.block++
	blockNumber := new(big.Int).SetUint64(sim.block)
	blockHash := crypto.Keccak256Hash(blockNumber.Bytes())

	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            types.ReceiptStatusSuccessful,
		TxHash:            tx.Hash(),
		GasUsed:           simulatedGasLimit / 2,
		CumulativeGasUsed: simulatedGasLimit / 2,
		BlockHash:         blockHash,
		BlockNumber:       blockNumber,
		TransactionIndex:  0,
		Logs:              []*types.Log{},
	}

	res, err := sim.execute(&simCall{from: from, to: *tx.To(), value: tx.Value(), data: tx.Data()}, true)
	if err != nil {
		receipt.Status = types.ReceiptStatusFailed
	} else {
		logs := res.logs
		if sim.logOrder != nil {
			logs = sim.logOrder(logs)
		}
		for i, vlog := range logs {
			vlog.TxHash = tx.Hash()
			vlog.BlockNumber = sim.block
			vlog.BlockHash = blockHash
			vlog.Index = uint(i)
		}
		receipt.Logs = logs
	}
	sim.receipts[tx.Hash()] = receipt
}

// execute runs call against current state and applies its effects only if
// commit is set. Every check happens before any mutation. mu must be held.
func (sim *SimulatedChain) execute(call *simCall, commit bool) (*simResult, error) {
	value := call.value
	if value == nil {
		value = new(big.Int)
	}

	var (
		contractABI abi.ABI
		token       *simToken
	)
	switch {
	case call.to == sim.VaultAddress:
		contractABI = contracts.VaultABI
	case sim.tokens[call.to] != nil:
		contractABI = contracts.ERC20ABI
		token = sim.tokens[call.to]
	default:
		// plain transfer, or a call to an address without code
		if value.Sign() > 0 {
			if valueOf(sim.native, call.from).Cmp(value) < 0 {
				return nil, errSimInsufficientEth
			}
			if commit {
				subFrom(sim.native, call.from, value)
				addTo(sim.native, call.to, value)
			}
		}
		return &simResult{}, nil
	}

	if len(call.data) < 4 {
		return nil, newRevertError("")
	}
	method, err := contractABI.MethodById(call.data[:4])
	if err != nil {
		return nil, newRevertError("")
	}
	args, err := method.Inputs.Unpack(call.data[4:])
	if err != nil {
		return nil, newRevertError("")
	}
	if value.Sign() > 0 && !method.IsPayable() {
		return nil, newRevertError("")
	}

	var (
		outputs []interface{}
		logs    []*types.Log
	)
	if token != nil {
		outputs, logs, err = sim.execToken(call, token, method.Name, args, commit)
	} else {
		outputs, logs, err = sim.execVault(call, value, method.Name, args, commit)
	}
	if err != nil {
		return nil, err
	}

	output, err := method.Outputs.Pack(outputs...)
	if err != nil {
		return nil, err
	}
	return &simResult{output: output, logs: logs}, nil
}

func (sim *SimulatedChain) execToken(
	call *simCall,
	token *simToken,
	method string,
	args []interface{},
	commit bool,
) ([]interface{}, []*types.Log, error) {
	switch method {
	case contracts.MethodBalanceOf:
		return []interface{}{new(big.Int).Set(valueOf(token.balances, args[0].(common.Address)))}, nil, nil
	case contracts.MethodDecimals:
		if token.noDecimals {
			return nil, nil, newRevertError("")
		}
		return []interface{}{token.decimals}, nil, nil
	case contracts.MethodSymbol:
		return []interface{}{token.symbol}, nil, nil
	case contracts.MethodAllowance:
		owner, spender := args[0].(common.Address), args[1].(common.Address)
		return []interface{}{new(big.Int).Set(valueOf(token.allowances[owner], spender))}, nil, nil
	case contracts.MethodApprove:
		spender, amount := args[0].(common.Address), args[1].(*big.Int)
		if commit {
			if token.allowances[call.from] == nil {
				token.allowances[call.from] = map[common.Address]*big.Int{}
			}
			token.allowances[call.from][spender] = new(big.Int).Set(amount)
		}
		l := tokenLog(call.to, ApprovalSignatureHash, call.from, spender, amount)
		return []interface{}{true}, []*types.Log{l}, nil
	case contracts.MethodTransfer:
		to, amount := args[0].(common.Address), args[1].(*big.Int)
		if valueOf(token.balances, call.from).Cmp(amount) < 0 {
			return nil, nil, newRevertError("ERC20: transfer amount exceeds balance")
		}
		if commit {
			subFrom(token.balances, call.from, amount)
			addTo(token.balances, to, amount)
		}
		l := tokenLog(call.to, TransferSignatureHash, call.from, to, amount)
		return []interface{}{true}, []*types.Log{l}, nil
	case contracts.MethodTransferFrom:
		from, to, amount := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		if err := checkPull(token, from, call.from, amount); err != nil {
			return nil, nil, err
		}
		if commit {
			pull(token, from, call.from, to, amount)
		}
		l := tokenLog(call.to, TransferSignatureHash, from, to, amount)
		return []interface{}{true}, []*types.Log{l}, nil
	}
	return nil, nil, newRevertError("")
}

func (sim *SimulatedChain) execVault(
	call *simCall,
	value *big.Int,
	method string,
	args []interface{},
	commit bool,
) ([]interface{}, []*types.Log, error) {
	switch method {
	case contracts.MethodMintBanknote:
		return sim.vaultMint(call, value, args, commit)
	case contracts.MethodRedeemBanknote:
		return sim.vaultRedeem(call, args, commit)
	case contracts.MethodSkimSurplus:
		return sim.vaultSkim(call, args, commit)
	case contracts.MethodGetBanknoteInfo:
		id := args[0].(*big.Int)
		note, ok := sim.notes[id.Uint64()]
		if !ok || !id.IsUint64() {
			return []interface{}{common.Address{}, common.Address{}, common.Address{}, new(big.Int)}, nil, nil
		}
		return []interface{}{note.minter, note.claim, note.erc20, new(big.Int).Set(note.denomination)}, nil, nil
	case contracts.MethodGetSurplus:
		owner, erc20 := args[0].(common.Address), args[1].(common.Address)
		return []interface{}{new(big.Int).Set(valueOf(sim.surplus[owner], erc20))}, nil, nil
	case contracts.MethodGetNextId:
		return []interface{}{new(big.Int).SetUint64(sim.nextId)}, nil, nil
	}
	return nil, nil, newRevertError("")
}

func (sim *SimulatedChain) vaultMint(call *simCall, value *big.Int, args []interface{}, commit bool) ([]interface{}, []*types.Log, error) {
	erc20 := args[0].(common.Address)
	claim := args[1].(common.Address)
	denomination := args[2].(*big.Int)

	if denomination.Sign() <= 0 {
		return nil, nil, newRevertError(contracts.ReasonZeroDenomination)
	}
	if claim == (common.Address{}) {
		return nil, nil, newRevertError(contracts.ReasonZeroClaimKey)
	}

	var (
		amount *big.Int
		logs   []*types.Log
	)
	if erc20 == contracts.NativeAssetAddress {
		amount = mycommon.ScaleDenomination(denomination, simulatedNativeDecimals)
		if value.Cmp(amount) != 0 {
			return nil, nil, newRevertError(contracts.ReasonNativeValue)
		}
		if valueOf(sim.native, call.from).Cmp(amount) < 0 {
			return nil, nil, errSimInsufficientEth
		}
	} else {
		token := sim.tokens[erc20]
		if token == nil || value.Sign() > 0 {
			return nil, nil, newRevertError("")
		}
		amount = mycommon.ScaleDenomination(denomination, token.decimals)
		if err := checkPull(token, call.from, sim.VaultAddress, amount); err != nil {
			return nil, nil, err
		}
		if commit {
			pull(token, call.from, sim.VaultAddress, sim.VaultAddress, amount)
		}
		logs = append(logs, tokenLog(erc20, TransferSignatureHash, call.from, sim.VaultAddress, amount))
	}

	id := sim.nextId
	if commit {
		if erc20 == contracts.NativeAssetAddress {
			subFrom(sim.native, call.from, amount)
			addTo(sim.native, sim.VaultAddress, amount)
		}
		sim.notes[id] = &simBanknote{
			minter:       call.from,
			claim:        claim,
			erc20:        erc20,
			denomination: new(big.Int).Set(denomination),
			value:        amount,
		}
		sim.nextId++
	}

	idBig := new(big.Int).SetUint64(id)
	logs = append(logs, vaultLog(sim.VaultAddress, contracts.EventBanknoteMinted,
		[]common.Address{call.from, erc20}, idBig, denomination))
	return []interface{}{idBig}, logs, nil
}

func (sim *SimulatedChain) vaultRedeem(call *simCall, args []interface{}, commit bool) ([]interface{}, []*types.Log, error) {
	id := args[0].(*big.Int)
	amount := args[1].(*big.Int)
	signature := args[2].([]byte)
	description := args[3].([32]byte)

	note, ok := sim.notes[id.Uint64()]
	if !ok || !id.IsUint64() {
		return nil, nil, newRevertError(contracts.ReasonUnknownBanknote)
	}
	if note.redeemed {
		return nil, nil, newRevertError(contracts.ReasonAlreadyRedeemed)
	}
	if amount.Sign() <= 0 {
		return nil, nil, newRevertError(contracts.ReasonZeroAmount)
	}
	if amount.Cmp(note.value) > 0 {
		return nil, nil, newRevertError(contracts.ReasonAmountExceeds)
	}
	if !verifyClaim(signature, call.from, note.claim) {
		return nil, nil, newRevertError(contracts.ReasonInvalidSignature)
	}

	logs, err := sim.pay(note.erc20, call.from, amount, commit)
	if err != nil {
		return nil, nil, err
	}
	if commit {
		note.redeemed = true
		rest := new(big.Int).Sub(note.value, amount)
		if sim.surplus[note.minter] == nil {
			sim.surplus[note.minter] = map[common.Address]*big.Int{}
		}
		addTo(sim.surplus[note.minter], note.erc20, rest)
	}

	logs = append(logs, vaultLog(sim.VaultAddress, contracts.EventBanknoteRedeemed,
		[]common.Address{call.from, note.erc20}, amount, description, id))
	return nil, logs, nil
}

func (sim *SimulatedChain) vaultSkim(call *simCall, args []interface{}, commit bool) ([]interface{}, []*types.Log, error) {
	erc20 := args[0].(common.Address)
	amount := new(big.Int).Set(args[1].(*big.Int))

	available := valueOf(sim.surplus[call.from], erc20)
	if amount.Sign() == 0 {
		amount.Set(available)
	}
	if amount.Sign() == 0 || amount.Cmp(available) > 0 {
		return nil, nil, newRevertError(contracts.ReasonInsufficientSurplus)
	}

	logs, err := sim.pay(erc20, call.from, amount, commit)
	if err != nil {
		return nil, nil, err
	}
	if commit {
		subFrom(sim.surplus[call.from], erc20, amount)
	}

	logs = append(logs, vaultLog(sim.VaultAddress, contracts.EventSurplusSkimmed,
		[]common.Address{call.from, erc20}, amount))
	return nil, logs, nil
}

// pay moves amount of erc20 out of the vault.
func (sim *SimulatedChain) pay(erc20, to common.Address, amount *big.Int, commit bool) ([]*types.Log, error) {
	if erc20 == contracts.NativeAssetAddress {
		if commit {
			subFrom(sim.native, sim.VaultAddress, amount)
			addTo(sim.native, to, amount)
		}
		return nil, nil
	}

	token := sim.tokens[erc20]
	if token == nil || valueOf(token.balances, sim.VaultAddress).Cmp(amount) < 0 {
		return nil, newRevertError("ERC20: transfer amount exceeds balance")
	}
	if commit {
		subFrom(token.balances, sim.VaultAddress, amount)
		addTo(token.balances, to, amount)
	}
	return []*types.Log{tokenLog(erc20, TransferSignatureHash, sim.VaultAddress, to, amount)}, nil
}

func verifyClaim(signature []byte, redeemer, claim common.Address) bool {
	if len(signature) != crypto.SignatureLength {
		return false
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	digest := accounts.TextHash(crypto.Keccak256(EncodeStatic(redeemer)))
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == claim
}

func checkPull(token *simToken, owner, spender common.Address, amount *big.Int) error {
	if valueOf(token.allowances[owner], spender).Cmp(amount) < 0 {
		return newRevertError("ERC20: insufficient allowance")
	}
	if valueOf(token.balances, owner).Cmp(amount) < 0 {
		return newRevertError("ERC20: transfer amount exceeds balance")
	}
	return nil
}

func pull(token *simToken, owner, spender, to common.Address, amount *big.Int) {
	subFrom(token.allowances[owner], spender, amount)
	subFrom(token.balances, owner, amount)
	addTo(token.balances, to, amount)
}

func tokenLog(token common.Address, sig common.Hash, a, b common.Address, amount *big.Int) *types.Log {
	return &types.Log{
		Address: token,
		Topics:  []common.Hash{sig, common.BytesToHash(a.Bytes()), common.BytesToHash(b.Bytes())},
		Data:    common.LeftPadBytes(amount.Bytes(), 32),
	}
}

func vaultLog(vault common.Address, name string, indexed []common.Address, data ...interface{}) *types.Log {
	ev := contracts.VaultABI.Events[name]
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		panic(err)
	}
	topics := []common.Hash{ev.ID}
	for _, a := range indexed {
		topics = append(topics, common.BytesToHash(a.Bytes()))
	}
	return &types.Log{Address: vault, Topics: topics, Data: packed}
}

func valueOf(m map[common.Address]*big.Int, a common.Address) *big.Int {
	if v, ok := m[a]; ok {
		return v
	}
	return new(big.Int)
}

func addTo(m map[common.Address]*big.Int, a common.Address, x *big.Int) {
	m[a] = new(big.Int).Add(valueOf(m, a), x)
}

func subFrom(m map[common.Address]*big.Int, a common.Address, x *big.Int) {
	m[a] = new(big.Int).Sub(valueOf(m, a), x)
}

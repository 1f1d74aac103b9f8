// Server = etherman + asset registry + ledger/db + minter/redeemer
// + tx monitor + vault log sync + http reporter.
// All components are configured via environment variables (strings!).

package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/approval"
	"github.com/TEENet-io/banknote-go/balance"
	"github.com/TEENet-io/banknote-go/banknote"
	"github.com/TEENet-io/banknote-go/emitter"
	"github.com/TEENet-io/banknote-go/etherman"
	"github.com/TEENet-io/banknote-go/ethsync"
	"github.com/TEENet-io/banknote-go/ledger"
	"github.com/TEENet-io/banknote-go/registry"
	"github.com/TEENet-io/banknote-go/reporter"
	"github.com/TEENet-io/banknote-go/txmonitor"

	_ "github.com/mattn/go-sqlite3"
)

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
// Empty fields fall back to the component defaults.
type BanknoteServerConfig struct {
	// eth side
	EthRpcUrl       string // json rpc url
	EthChainId      string // empty to ask the node
	EthOperatorPriv string // private key of the account that mints, redeems and skims
	VaultAddress    string // deployed vault contract
	RpcRateLimit    string // calls per second, empty or 0 for no limit
	RpcBurst        string

	// assets
	Assets         string // SYMBOL=0xaddr,... use NATIVE for the chain's coin
	NativeSymbol   string // if set, the native coin is added under this symbol
	NativeDecimals string

	// ledger side
	DbFilePath       string // db file path, ":memory:" for a throwaway ledger
	LedgerPassphrase string // seals bearer secrets at rest, empty to not store them

	// tx handling
	ApprovalMaxAttempts string
	ApprovalRetryDelay  string // e.g. "2s"
	ConfirmationTimeout string // e.g. "60s"
	ReceiptPollInterval string // e.g. "1s"

	// vault log sync
	SyncStartBlock    string // vault deployment block, used on first start only
	SyncConfirmations string

	// lifecycle events, log only if no brokers
	KafkaBrokers string // comma separated host:port
	KafkaTopic   string

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080

	LogLevel string
}

// BanknoteServer holds the objects that consists of the banknote server.
type BanknoteServer struct {
	ChainId  *big.Int
	Operator *bind.TransactOpts

	MyEtherman  *etherman.Etherman
	MyRegistry  *registry.TokenAddressRegistry
	MyDecimals  *registry.DecimalsCache
	MyDb        *sql.DB
	MyLedger    *ledger.Ledger
	MyEmitter   agreement.Emitter
	MyApproval  *approval.ApprovalManager
	MyMinter    *banknote.Minter
	MyRedeemer  *banknote.Redeemer
	MyBalances  *balance.Aggregator
	MyTxMonitor *txmonitor.TxMonitor
	MyEthSync   *ethsync.Synchronizer
	MyReporter  *reporter.HttpReporter
}

// NewBanknoteServer dials the node and wires every component. Nothing runs
// until Start.
func NewBanknoteServer(bsc *BanknoteServerConfig) (*BanknoteServer, error) {
	emCfg, err := ethermanConfig(bsc)
	if err != nil {
		return nil, err
	}
	myEtherman, err := etherman.NewEtherman(emCfg)
	if err != nil {
		logger.Errorf("failed to create etherman: %v", err)
		return nil, err
	}
	return newBanknoteServer(bsc, myEtherman)
}

// NewBanknoteServerWithClient is NewBanknoteServer over an existing client,
// such as a SimulatedChain.
func NewBanknoteServerWithClient(bsc *BanknoteServerConfig, client etherman.EthereumClient) (*BanknoteServer, error) {
	emCfg, err := ethermanConfig(bsc)
	if err != nil {
		return nil, err
	}
	return newBanknoteServer(bsc, etherman.NewEthermanWithClient(emCfg, client))
}

func ethermanConfig(bsc *BanknoteServerConfig) (*etherman.Config, error) {
	if !ethcommon.IsHexAddress(bsc.VaultAddress) {
		return nil, configError(fmt.Errorf("invalid vault address %q", bsc.VaultAddress))
	}
	rateLimit, err := parseFloat(bsc.RpcRateLimit, 0)
	if err != nil {
		return nil, configError(err)
	}
	burst, err := parseInt(bsc.RpcBurst, 1)
	if err != nil {
		return nil, configError(err)
	}
	return &etherman.Config{
		URL:                  bsc.EthRpcUrl,
		VaultContractAddress: ethcommon.HexToAddress(bsc.VaultAddress),
		RateLimit:            rateLimit,
		Burst:                burst,
	}, nil
}

func newBanknoteServer(bsc *BanknoteServerConfig, myEtherman *etherman.Etherman) (_ *BanknoteServer, err error) {
	ctx := context.Background()

	// 1) chain id and the operator account
	chainId, ok := new(big.Int).SetString(strings.TrimSpace(bsc.EthChainId), 10)
	if !ok {
		chainId, err = myEtherman.ChainID(ctx)
		if err != nil {
			logger.Errorf("failed to get chain id: %v", err)
			return nil, err
		}
	}
	sk, err := etherman.StringToPrivateKey(bsc.EthOperatorPriv)
	if err != nil {
		return nil, configError(err)
	}
	operator, err := etherman.NewAuth(sk, chainId)
	if err != nil {
		return nil, configError(err)
	}
	logger.WithFields(logger.Fields{
		"chainId":  chainId,
		"operator": operator.From.Hex(),
		"vault":    myEtherman.VaultAddress().Hex(),
	}).Info("banknote server account")

	// 2) asset registry
	assets, err := registry.ParseAssets(bsc.Assets)
	if err != nil {
		return nil, err
	}
	if bsc.NativeSymbol != "" {
		assets = append(assets, registry.AssetConfig{Symbol: bsc.NativeSymbol, Address: registry.NativeKeyword})
	}
	nativeDecimals, err := parseInt(bsc.NativeDecimals, registry.DefaultNativeDecimals)
	if err != nil {
		return nil, configError(err)
	}
	if nativeDecimals < 0 || nativeDecimals > math.MaxUint8 {
		return nil, configError(fmt.Errorf("native decimals %d out of range [0, %d]", nativeDecimals, math.MaxUint8))
	}
	myRegistry, err := registry.New(&registry.Config{Assets: assets, NativeDecimals: uint8(nativeDecimals)})
	if err != nil {
		return nil, err
	}
	myDecimals := registry.NewDecimalsCache(myEtherman)

	// 3) sql db and the ledger over it
	dbFilePath := bsc.DbFilePath
	if dbFilePath == "" {
		dbFilePath = ":memory:"
	}
	sqldb, err := sql.Open("sqlite3", dbFilePath)
	if err != nil {
		logger.Errorf("failed to open db file: %v", err)
		return nil, err
	}
	defer func() {
		if err != nil {
			sqldb.Close()
		}
	}()
	// sqlite serializes writers anyway, and ":memory:" is per connection
	sqldb.SetMaxOpenConns(1)
	myLedger, err := ledger.New(sqldb, bsc.LedgerPassphrase)
	if err != nil {
		logger.Errorf("failed to create ledger: %v", err)
		return nil, err
	}
	if bsc.LedgerPassphrase == "" {
		logger.Warn("no ledger passphrase, bearer secrets will not be stored")
	}

	// 4) tx handling
	approvalCfg := approval.DefaultConfig()
	bnCfg := banknote.DefaultConfig()
	if approvalCfg.MaxAttempts, err = parseInt(bsc.ApprovalMaxAttempts, approvalCfg.MaxAttempts); err != nil {
		return nil, configError(err)
	}
	if approvalCfg.RetryDelay, err = parseDuration(bsc.ApprovalRetryDelay, approvalCfg.RetryDelay); err != nil {
		return nil, configError(err)
	}
	if bnCfg.ConfirmationTimeout, err = parseDuration(bsc.ConfirmationTimeout, bnCfg.ConfirmationTimeout); err != nil {
		return nil, configError(err)
	}
	if bnCfg.ReceiptPollInterval, err = parseDuration(bsc.ReceiptPollInterval, bnCfg.ReceiptPollInterval); err != nil {
		return nil, configError(err)
	}
	approvalCfg.ConfirmationTimeout = bnCfg.ConfirmationTimeout
	approvalCfg.ReceiptPollInterval = bnCfg.ReceiptPollInterval

	myEmitter := emitter.New(&emitter.Config{
		Brokers: splitList(bsc.KafkaBrokers),
		Topic:   bsc.KafkaTopic,
	})

	myApproval := approval.New(approvalCfg, myEtherman, operator, myLedger)
	myMinter := banknote.NewMinter(bnCfg, myEtherman, myRegistry, myDecimals, myApproval, operator, myLedger, myEmitter)
	myRedeemer := banknote.NewRedeemer(bnCfg, myEtherman, myRegistry, myDecimals, operator, myLedger, myEmitter)
	myBalances := balance.New(nil, myEtherman, myRegistry, myDecimals)
	myTxMonitor := txmonitor.New(nil, myEtherman, myLedger, myRegistry)

	syncCfg := ethsync.DefaultConfig()
	startBlock, err := parseInt(bsc.SyncStartBlock, int(syncCfg.StartBlock))
	if err != nil || startBlock < 0 {
		return nil, configError(fmt.Errorf("invalid sync start block %q", bsc.SyncStartBlock))
	}
	confirmations, err := parseInt(bsc.SyncConfirmations, int(syncCfg.Confirmations))
	if err != nil || confirmations < 0 {
		return nil, configError(fmt.Errorf("invalid sync confirmations %q", bsc.SyncConfirmations))
	}
	syncCfg.StartBlock, syncCfg.Confirmations = uint64(startBlock), uint64(confirmations)
	myEthSync, err := ethsync.New(myEtherman, myLedger, myRegistry, syncCfg, chainId)
	if err != nil {
		logger.Errorf("failed to create vault log synchronizer: %v", err)
		return nil, err
	}

	// 5) http reporter
	myReporter := reporter.NewHttpReporter(bsc.HttpIp, bsc.HttpPort, myBalances, myMinter, myLedger, myTxMonitor)

	return &BanknoteServer{
		ChainId:     chainId,
		Operator:    operator,
		MyEtherman:  myEtherman,
		MyRegistry:  myRegistry,
		MyDecimals:  myDecimals,
		MyDb:        sqldb,
		MyLedger:    myLedger,
		MyEmitter:   myEmitter,
		MyApproval:  myApproval,
		MyMinter:    myMinter,
		MyRedeemer:  myRedeemer,
		MyBalances:  myBalances,
		MyTxMonitor: myTxMonitor,
		MyEthSync:   myEthSync,
		MyReporter:  myReporter,
	}, nil
}

// Start turns on the tx monitor, the vault log synchronizer and, if a port is configured, the http
// reporter. Call wg.Wait() in the main routine.
func (s *BanknoteServer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.MyTxMonitor.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("tx monitor stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.MyEthSync.Sync(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("vault log synchronizer stopped: %v", err)
		}
	}()

	if s.MyReporter == nil {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.MyReporter.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("http reporter stopped: %v", err)
		}
	}()
}

var ErrNoStoredSecret = errors.New("no bearer secret stored for this banknote")

// ExportBanknote unseals the bearer secret of the banknote minted by mintTx
// and returns its exported note token.
func (s *BanknoteServer) ExportBanknote(mintTx ethcommon.Hash) (string, error) {
	note, ok, err := s.MyLedger.GetBanknoteByMintTxHash(mintTx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", agreement.NewError(agreement.KindInvalidInput, "export", ledger.ErrBanknoteNotFound)
	}
	if note.ID == nil {
		return "", agreement.NewError(agreement.KindInvalidInput, "export",
			fmt.Errorf("banknote of %s is %s, resolve it first", mintTx.Hex(), note.Status))
	}

	raw, ok, err := s.MyLedger.GetBanknoteSecret(mintTx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", agreement.NewError(agreement.KindInvalidInput, "export", ErrNoStoredSecret)
	}
	secret, err := banknote.BearerSecretFromBytes(raw)
	if err != nil {
		return "", err
	}

	return banknote.ExportNote(&banknote.ExportedNote{
		ChainID:      s.ChainId,
		Vault:        s.MyEtherman.VaultAddress(),
		ID:           note.ID,
		AssetSymbol:  note.AssetSymbol,
		Denomination: note.Denomination,
		Secret:       secret,
	})
}

func (s *BanknoteServer) Close() {
	if err := s.MyEmitter.Close(); err != nil {
		logger.Warnf("failed to close emitter: %v", err)
	}
	s.MyLedger.Close()
	s.MyDb.Close()
}

// Create, then start the banknote server and wait.
// Press Ctrl-C to kill the server.
func StartBanknoteServerAndWait(bsc *BanknoteServerConfig) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("Received signal: %v, cancelling context...\n", sig)
		cancel()
	}()

	server, err := NewBanknoteServer(bsc)
	if err != nil {
		return err
	}
	defer server.Close()

	if bsc.HttpPort == "" {
		server.MyReporter = nil
	}

	var wg sync.WaitGroup
	server.Start(ctx, &wg)
	wg.Wait()
	return nil
}

func configError(err error) *agreement.Error {
	return agreement.NewError(agreement.KindConfiguration, "config", err)
}

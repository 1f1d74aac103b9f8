package main

import (
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/banknote"
	"github.com/TEENet-io/banknote-go/cmd"
	"github.com/TEENet-io/banknote-go/common"
	"github.com/TEENet-io/banknote-go/logconfig"
)

const (
	ENV_CONFIG_FILE_PATH = "BANKNOTE_CONFIG"
)

var (
	bsc    *cmd.BanknoteServerConfig
	server *cmd.BanknoteServer
)

func main() {
	app := &cli.App{
		Name:   "banknote",
		Usage:  "issue and redeem bearer banknotes over the escrow vault",
		Before: loadConfig,
		After: func(ctx *cli.Context) error {
			if server != nil {
				server.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCmd,
			balancesCmd,
			mintCmd,
			redeemCmd,
			infoCmd,
			surplusCmd,
			skimCmd,
			statusCmd,
			exportCmd,
			nextIdCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads .env, then the environment, then the file named by
// BANKNOTE_CONFIG if there is one.
func loadConfig(ctx *cli.Context) error {
	_ = godotenv.Load()

	viper.AutomaticEnv()
	if configFile := viper.GetString(ENV_CONFIG_FILE_PATH); configFile != "" {
		if !cmd.FileExists(configFile) {
			return fmt.Errorf("configuration file not found: %s", configFile)
		}
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file: %v", err)
		}
	}

	if err := logconfig.ConfigLogger(viper.GetString("LOG_LEVEL")); err != nil {
		return err
	}
	bsc = PrepareBanknoteServerConfig()
	return nil
}

// PrepareBanknoteServerConfig reads configuration variables and returns a
// BanknoteServerConfig.
func PrepareBanknoteServerConfig() *cmd.BanknoteServerConfig {
	return &cmd.BanknoteServerConfig{
		EthRpcUrl:           viper.GetString("ETH_RPC_URL"),
		EthChainId:          viper.GetString("ETH_CHAIN_ID"),
		EthOperatorPriv:     viper.GetString("ETH_OPERATOR_PRIV"),
		VaultAddress:        viper.GetString("VAULT_ADDRESS"),
		RpcRateLimit:        viper.GetString("RPC_RATE_LIMIT"),
		RpcBurst:            viper.GetString("RPC_BURST"),
		Assets:              viper.GetString("ASSETS"),
		NativeSymbol:        viper.GetString("NATIVE_SYMBOL"),
		NativeDecimals:      viper.GetString("NATIVE_DECIMALS"),
		DbFilePath:          viper.GetString("DB_FILE_PATH"),
		LedgerPassphrase:    viper.GetString("LEDGER_PASSPHRASE"),
		ApprovalMaxAttempts: viper.GetString("APPROVAL_MAX_ATTEMPTS"),
		ApprovalRetryDelay:  viper.GetString("APPROVAL_RETRY_DELAY"),
		ConfirmationTimeout: viper.GetString("CONFIRMATION_TIMEOUT"),
		ReceiptPollInterval: viper.GetString("RECEIPT_POLL_INTERVAL"),
		SyncStartBlock:      viper.GetString("SYNC_START_BLOCK"),
		SyncConfirmations:   viper.GetString("SYNC_CONFIRMATIONS"),
		KafkaBrokers:        viper.GetString("KAFKA_BROKERS"),
		KafkaTopic:          viper.GetString("KAFKA_TOPIC"),
		HttpIp:              viper.GetString("HTTP_IP"),
		HttpPort:            viper.GetString("HTTP_PORT"),
		LogLevel:            viper.GetString("LOG_LEVEL"),
	}
}

func setupServer(ctx *cli.Context) error {
	var err error
	server, err = cmd.NewBanknoteServer(bsc)
	return err
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the tx monitor and the http reporter until interrupted",
	Action: func(ctx *cli.Context) error {
		fmt.Println("Starting banknote server... press Ctrl+C to kill the server")
		return cmd.StartBanknoteServerAndWait(bsc)
	},
}

var balancesCmd = &cli.Command{
	Name:      "balances",
	Usage:     "balance of every configured asset",
	ArgsUsage: "[address]",
	Before:    setupServer,
	Action: func(ctx *cli.Context) error {
		owner := server.Operator.From
		if ctx.Args().Len() > 0 {
			if !common.IsEthAddress(ctx.Args().First()) {
				return errors.New("invalid address")
			}
			owner = ethcommon.HexToAddress(ctx.Args().First())
		}

		balances := server.MyBalances.GetAllBalances(ctx.Context, owner)
		for _, symbol := range server.MyRegistry.Symbols() {
			b := balances[symbol]
			if b.Err != nil {
				fmt.Printf("%-8s %s (read failed: %v)\n", symbol, b.Formatted, b.Err)
				continue
			}
			fmt.Printf("%-8s %s\n", symbol, b.Formatted)
		}
		return nil
	},
}

const exportFlag = "export"

var mintCmd = &cli.Command{
	Name:      "mint",
	Usage:     "escrow one banknote and print its bearer secret",
	ArgsUsage: "SYMBOL DENOMINATION",
	Before:    setupServer,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  exportFlag,
			Usage: "also print the exported note token",
		},
	},
	Action: mint,
}

func mint(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 2 {
		return errors.New("specify an asset symbol and a denomination")
	}
	denomination, ok := new(big.Int).SetString(args.Get(1), 10)
	if !ok {
		return errors.New("denomination must be a whole number")
	}

	res, err := server.MyMinter.Mint(ctx.Context, args.First(), denomination)
	if res != nil {
		printMintResult(ctx, res)
	}
	if err != nil {
		if res != nil && agreement.IsKind(err, agreement.KindTransactionTimeout) {
			fmt.Printf("mint not confirmed yet, check it with: status %s\n", res.TxHash.Hex())
		}
		return err
	}
	return nil
}

// printMintResult prints the secret whatever happened after the broadcast.
func printMintResult(ctx *cli.Context, res *banknote.MintResult) {
	fmt.Printf("mint tx:       %s\n", res.TxHash.Hex())
	if res.ApprovalTxHash != (ethcommon.Hash{}) {
		fmt.Printf("approval tx:   %s\n", res.ApprovalTxHash.Hex())
	}
	if res.BanknoteID != nil {
		fmt.Printf("banknote id:   %s\n", res.BanknoteID)
	} else if res.NeedsLookup {
		fmt.Println("banknote id:   unknown, look it up on chain")
	}
	fmt.Printf("denomination:  %s %s\n", res.Denomination, res.Asset.Symbol)
	fmt.Printf("bearer secret: %s\n", res.BearerSecret.Hex())
	if words, err := res.BearerSecret.Mnemonic(); err == nil {
		fmt.Printf("mnemonic:      %s\n", words)
	}

	if !ctx.Bool(exportFlag) || res.BanknoteID == nil {
		return
	}
	token, err := banknote.ExportNote(&banknote.ExportedNote{
		ChainID:      server.ChainId,
		Vault:        server.MyEtherman.VaultAddress(),
		ID:           res.BanknoteID,
		AssetSymbol:  res.Asset.Symbol,
		Denomination: res.Denomination,
		Secret:       res.BearerSecret,
	})
	if err != nil {
		fmt.Printf("export failed: %v\n", err)
		return
	}
	fmt.Printf("export:        %s\n", token)
}

const descriptionFlag = "description"

var redeemCmd = &cli.Command{
	Name:      "redeem",
	Usage:     "redeem a banknote to the operator account",
	ArgsUsage: "ID SECRET AMOUNT",
	Before:    setupServer,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  descriptionFlag,
			Usage: "up to 31 bytes recorded with the redemption",
		},
	},
	Action: redeem,
}

func redeem(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 3 {
		return errors.New("specify a banknote id, its secret and an amount")
	}
	id, ok := new(big.Int).SetString(args.First(), 10)
	if !ok {
		return errors.New("banknote id must be a whole number")
	}

	// the amount is in whole units of the note's asset
	note, err := server.MyMinter.BanknoteInfo(ctx.Context, id)
	if err != nil {
		return err
	}
	asset, err := server.MyRegistry.ByAddress(note.Asset)
	if err != nil {
		return err
	}
	decimals, err := server.MyDecimals.Decimals(ctx.Context, asset)
	if err != nil {
		return err
	}
	amount, err := common.ParseUnits(args.Get(2), decimals)
	if err != nil {
		return err
	}

	res, err := server.MyRedeemer.RedeemWithDescription(ctx.Context, id, args.Get(1), amount,
		server.Operator.From, ctx.String(descriptionFlag))
	if err != nil {
		return err
	}
	fmt.Printf("redeemed %s %s from banknote %s in tx %s\n", res.Amount, res.AssetSymbol, res.BanknoteID, res.TxHash.Hex())
	return nil
}

var infoCmd = &cli.Command{
	Name:      "info",
	Usage:     "show a banknote as the vault and the ledger know it",
	ArgsUsage: "ID",
	Before:    setupServer,
	Action: func(ctx *cli.Context) error {
		id, ok := new(big.Int).SetString(ctx.Args().First(), 10)
		if !ok {
			return errors.New("banknote id must be a whole number")
		}
		note, err := server.MyMinter.BanknoteInfo(ctx.Context, id)
		if err != nil {
			return err
		}
		fmt.Printf("id:            %s\n", note.ID)
		fmt.Printf("issuer:        %s\n", note.Issuer.Hex())
		fmt.Printf("claim address: %s\n", note.ClaimAddress.Hex())
		fmt.Printf("denomination:  %s %s\n", note.Denomination, note.AssetSymbol)

		row, found, err := server.MyLedger.GetBanknoteByID(id)
		if err != nil {
			return err
		}
		if found {
			fmt.Printf("status:        %s\n", row.Status)
			fmt.Printf("mint tx:       %s\n", row.MintTxHash.Hex())
		}
		return nil
	},
}

var surplusCmd = &cli.Command{
	Name:      "surplus",
	Usage:     "unclaimed remainder of partially redeemed banknotes",
	ArgsUsage: "SYMBOL [owner]",
	Before:    setupServer,
	Action: func(ctx *cli.Context) error {
		owner := server.Operator.From
		if ctx.Args().Len() > 1 {
			if !common.IsEthAddress(ctx.Args().Get(1)) {
				return errors.New("invalid address")
			}
			owner = ethcommon.HexToAddress(ctx.Args().Get(1))
		}
		b, err := server.MyMinter.Surplus(ctx.Context, owner, ctx.Args().First())
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", b.Formatted, b.Symbol)
		return nil
	},
}

var skimCmd = &cli.Command{
	Name:      "skim",
	Usage:     "withdraw surplus, all of it if no amount is given",
	ArgsUsage: "SYMBOL [AMOUNT]",
	Before:    setupServer,
	Action: func(ctx *cli.Context) error {
		symbol := ctx.Args().First()
		var amount *big.Int
		if ctx.Args().Len() > 1 {
			asset, err := server.MyRegistry.Lookup(symbol)
			if err != nil {
				return err
			}
			decimals, err := server.MyDecimals.Decimals(ctx.Context, asset)
			if err != nil {
				return err
			}
			if amount, err = common.ParseUnits(ctx.Args().Get(1), decimals); err != nil {
				return err
			}
		}
		res, err := server.MyMinter.SkimSurplus(ctx.Context, symbol, amount)
		if err != nil {
			return err
		}
		fmt.Printf("skimmed %s %s in tx %s\n", res.Amount, res.AssetSymbol, res.TxHash.Hex())
		return nil
	},
}

var statusCmd = &cli.Command{
	Name:      "status",
	Usage:     "re-query a tx by hash, resolving its banknote if it was a mint",
	ArgsUsage: "TXHASH",
	Before:    setupServer,
	Action: func(ctx *cli.Context) error {
		raw := strings.TrimSpace(ctx.Args().First())
		if !common.IsHexString(common.Trim0xPrefix(raw)) || len(common.Trim0xPrefix(raw)) != 64 {
			return errors.New("invalid tx hash")
		}
		report, err := server.MyTxMonitor.Check(ctx.Context, ethcommon.HexToHash(raw))
		if err != nil {
			return err
		}
		kind := string(report.Kind)
		if kind == "" {
			kind = "unknown to the ledger"
		}
		fmt.Printf("tx %s (%s): %s\n", report.TxHash.Hex(), kind, report.Status)
		if note := report.Banknote; note != nil {
			id := "unknown"
			if note.ID != nil {
				id = note.ID.String()
			}
			fmt.Printf("banknote %s: %s\n", id, note.Status)
		}
		return nil
	},
}

var exportCmd = &cli.Command{
	Name:      "export",
	Usage:     "print the exported note token of a banknote minted by this ledger",
	ArgsUsage: "MINT_TXHASH",
	Before:    setupServer,
	Action: func(ctx *cli.Context) error {
		raw := strings.TrimSpace(ctx.Args().First())
		if !common.IsHexString(common.Trim0xPrefix(raw)) || len(common.Trim0xPrefix(raw)) != 64 {
			return errors.New("invalid tx hash")
		}
		token, err := server.ExportBanknote(ethcommon.HexToHash(raw))
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var nextIdCmd = &cli.Command{
	Name:   "next-id",
	Usage:  "id the vault will give the next banknote",
	Before: setupServer,
	Action: func(ctx *cli.Context) error {
		id, err := server.MyMinter.NextID(ctx.Context)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

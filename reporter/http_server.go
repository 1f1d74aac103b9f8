// This is a http type of reporter.
// It reads balances, banknotes and tx outcomes
// and publishes them on the http routes.

package reporter

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/banknote"
	"github.com/TEENet-io/banknote-go/ledger"
	"github.com/TEENet-io/banknote-go/txmonitor"
)

const (
	ROUTE_HELLO     = "/hello"
	ROUTE_BALANCES  = "/balances"
	ROUTE_BANKNOTES = "/banknotes"
	ROUTE_TX        = "/tx"
)

type BalanceReader interface {
	GetAllBalances(ctx context.Context, owner ethcommon.Address) map[string]*agreement.Balance
}

type BanknoteReader interface {
	BanknoteInfo(ctx context.Context, id *big.Int) (*agreement.Banknote, error)
}

type BanknoteStorage interface {
	GetBanknoteByID(id *big.Int) (*agreement.Banknote, bool, error)
	GetBanknotesByStatus(status agreement.BanknoteStatus) ([]*agreement.Banknote, error)
	GetRedemptionsByBanknoteID(id *big.Int) ([]*agreement.Redemption, error)
}

var listedStatuses = []agreement.BanknoteStatus{
	agreement.BanknotePending,
	agreement.BanknoteMinted,
	agreement.BanknoteUnresolved,
	agreement.BanknoteRedeemed,
	agreement.BanknoteFailed,
}

type TxChecker interface {
	Check(ctx context.Context, txHash ethcommon.Hash) (*txmonitor.TxReport, error)
}

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream data sources
	balances BalanceReader
	chain    BanknoteReader
	store    BanknoteStorage // optional
	monitor  TxChecker       // optional
}

func NewHttpReporter(
	serverIP string,
	serverPort string,
	balances BalanceReader,
	chain BanknoteReader,
	store BanknoteStorage,
	monitor TxChecker,
) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		balances:   balances,
		chain:      chain,
		store:      store,
		monitor:    monitor,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET(ROUTE_HELLO, Hello)
	router.GET(ROUTE_BALANCES, h.Balances)
	router.GET(ROUTE_BANKNOTES, h.Banknotes)
	router.GET(ROUTE_BANKNOTES+"/:id", h.Banknote)
	router.GET(ROUTE_TX+"/:hash", h.Tx)

	return router
}

// Run blocks serving the routes until ctx is done.
func (h *HttpReporter) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    h.serverIP + ":" + h.serverPort,
		Handler: h.SetupRouter(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		_ = srv.Shutdown(context.Background())
		return ctx.Err()
	}
}

func Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "world",
	})
}

type balanceView struct {
	Symbol    string `json:"symbol"`
	Raw       string `json:"raw"`
	Decimals  uint8  `json:"decimals"`
	Formatted string `json:"formatted"`
	Error     string `json:"error,omitempty"`
}

func (h *HttpReporter) Balances(c *gin.Context) {
	address := c.Query("address")
	if !ethcommon.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address must be a hex address"})
		return
	}

	balances := h.balances.GetAllBalances(c.Request.Context(), ethcommon.HexToAddress(address))
	views := make(map[string]balanceView, len(balances))
	for symbol, b := range balances {
		v := balanceView{
			Symbol:    b.Symbol,
			Raw:       "0",
			Decimals:  b.Decimals,
			Formatted: b.Formatted,
		}
		if b.Raw != nil {
			v.Raw = b.Raw.String()
		}
		if b.Err != nil {
			v.Error = b.Err.Error()
		}
		views[symbol] = v
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

type banknoteView struct {
	ID           string `json:"id"`
	Issuer       string `json:"issuer"`
	ClaimAddress string `json:"claimAddress"`
	Asset        string `json:"asset"`
	AssetSymbol  string `json:"assetSymbol"`
	Denomination string `json:"denomination"`
	Status       string `json:"status,omitempty"`
	MintTxHash   string `json:"mintTxHash,omitempty"`
	RedeemTxHash string `json:"redeemTxHash,omitempty"`

	Redemptions []redemptionView `json:"redemptions,omitempty"`
}

type redemptionView struct {
	TxHash      string `json:"txHash"`
	Redeemer    string `json:"redeemer"`
	AssetSymbol string `json:"assetSymbol"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

func rowView(row *agreement.Banknote) banknoteView {
	view := banknoteView{
		Issuer:       row.Issuer.Hex(),
		ClaimAddress: row.ClaimAddress.Hex(),
		Asset:        row.Asset.Hex(),
		AssetSymbol:  row.AssetSymbol,
		Status:       string(row.Status),
		MintTxHash:   row.MintTxHash.Hex(),
	}
	if row.ID != nil {
		view.ID = row.ID.String()
	}
	if row.Denomination != nil {
		view.Denomination = row.Denomination.String()
	}
	if row.RedeemTxHash != (ethcommon.Hash{}) {
		view.RedeemTxHash = row.RedeemTxHash.Hex()
	}
	return view
}

// Banknotes lists ledger rows, optionally filtered by ?status=.
func (h *HttpReporter) Banknotes(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ledger is disabled"})
		return
	}

	statuses := listedStatuses
	if q := c.Query("status"); q != "" {
		statuses = nil
		for _, st := range listedStatuses {
			if string(st) == q {
				statuses = []agreement.BanknoteStatus{st}
			}
		}
		if statuses == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + q})
			return
		}
	}

	views := []banknoteView{}
	for _, st := range statuses {
		rows, err := h.store.GetBanknotesByStatus(st)
		if err != nil {
			writeError(c, err)
			return
		}
		for _, row := range rows {
			views = append(views, rowView(row))
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

// Banknote merges the vault's view of a banknote with the ledger row, if
// there is one. The vault is authoritative for the note's contents, the
// ledger for its status.
func (h *HttpReporter) Banknote(c *gin.Context) {
	id, ok := new(big.Int).SetString(c.Param("id"), 10)
	if !ok || id.Sign() < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a non-negative integer"})
		return
	}

	note, err := h.chain.BanknoteInfo(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	view := banknoteView{
		ID:           note.ID.String(),
		Issuer:       note.Issuer.Hex(),
		ClaimAddress: note.ClaimAddress.Hex(),
		Asset:        note.Asset.Hex(),
		AssetSymbol:  note.AssetSymbol,
		Denomination: note.Denomination.String(),
	}

	if h.store != nil {
		row, found, err := h.store.GetBanknoteByID(id)
		if err != nil {
			writeError(c, err)
			return
		}
		if found {
			view.Status = string(row.Status)
			view.MintTxHash = row.MintTxHash.Hex()
			if row.RedeemTxHash != (ethcommon.Hash{}) {
				view.RedeemTxHash = row.RedeemTxHash.Hex()
			}
		}

		redemptions, err := h.store.GetRedemptionsByBanknoteID(id)
		if err != nil {
			writeError(c, err)
			return
		}
		for _, r := range redemptions {
			rv := redemptionView{
				TxHash:      r.TxHash.Hex(),
				Redeemer:    r.Redeemer.Hex(),
				AssetSymbol: r.AssetSymbol,
				Amount:      r.Amount.String(),
			}
			if desc := strings.TrimRight(string(r.Description[:]), "\x00"); desc != "" {
				rv.Description = desc
			}
			view.Redemptions = append(view.Redemptions, rv)
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

type txView struct {
	TxHash      string        `json:"txHash"`
	Kind        string        `json:"kind,omitempty"`
	Status      string        `json:"status"`
	BlockNumber string        `json:"blockNumber,omitempty"`
	Banknote    *banknoteView `json:"banknote,omitempty"`
}

// Tx re-queries a tx. It is how a timed out operation is resolved.
func (h *HttpReporter) Tx(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "tx monitoring is disabled"})
		return
	}

	b, err := hexutil.Decode(c.Param("hash"))
	if err != nil || len(b) != ethcommon.HashLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hash must be a 32-byte hex string"})
		return
	}

	report, err := h.monitor.Check(c.Request.Context(), ethcommon.BytesToHash(b))
	if err != nil {
		writeError(c, err)
		return
	}

	view := txView{
		TxHash: report.TxHash.Hex(),
		Kind:   string(report.Kind),
		Status: string(report.Status),
	}
	if report.BlockNumber != nil {
		view.BlockNumber = report.BlockNumber.String()
	}
	if note := report.Banknote; note != nil {
		nv := rowView(note)
		view.Banknote = &nv
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func writeError(c *gin.Context, err error) {
	kind := agreement.KindOf(err)
	switch {
	case errors.Is(err, banknote.ErrUnknownBanknote), errors.Is(err, ledger.ErrBanknoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "kind": kind.String()})
	case kind == agreement.KindInvalidInput:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": kind.String()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "kind": kind.String()})
	}
}

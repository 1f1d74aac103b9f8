// Package ethsync applies the vault's logs to the ledger. It picks up
// redemptions made by any account, including those of banknotes this
// ledger never saw redeemed, and recovers the ids of mints whose receipts
// could not be decoded.
package ethsync

import (
	"context"
	"math/big"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/etherman"
	"github.com/TEENet-io/banknote-go/registry"
)

const MinTickerDuration = 100 * time.Millisecond

type Synchronizer struct {
	cfg         *Config
	etherman    *etherman.Etherman
	st          State
	registry    *registry.TokenAddressRegistry
	decoder     *etherman.EventDecoder
	lastScanned uint64
}

// New checks the node is on chainID (nil skips the check) and resumes from
// the block stored in st.
func New(
	em *etherman.Etherman,
	st State,
	registry *registry.TokenAddressRegistry,
	cfg *Config,
	chainID *big.Int,
) (*Synchronizer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if chainID != nil {
		actual, err := em.ChainID(context.Background())
		if err != nil {
			logger.Error("failed to get eth chain ID")
			return nil, err
		}
		if actual.Cmp(chainID) != 0 {
			return nil, ErrChainIDUnmatched(chainID, actual)
		}
	}

	stored, ok, err := st.GetLastScannedBlock()
	if err != nil {
		logger.Errorf("failed to get last scanned block: err=%v", err)
		return nil, ErrDBOpGetLastScannedBlock
	}
	lastScanned := stored
	if !ok && cfg.StartBlock > 0 {
		lastScanned = cfg.StartBlock - 1
	}

	return &Synchronizer{
		cfg:         cfg,
		etherman:    em,
		st:          st,
		registry:    registry,
		decoder:     etherman.NewVaultEventDecoder(em.VaultAddress()),
		lastScanned: lastScanned,
	}, nil
}

func (s *Synchronizer) LastScanned() uint64 {
	return s.lastScanned
}

func (s *Synchronizer) Sync(ctx context.Context) error {
	logger.Debug("starting vault log synchronization")
	defer logger.Debug("stopping vault log synchronization")

	freq := s.cfg.FrequencyToScanVaultLogs
	if freq < MinTickerDuration {
		freq = MinTickerDuration
	}
	ticker := time.NewTicker(freq)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Scan(ctx); err != nil {
				logger.Warnf("failed to scan vault logs: err=%v", err)
			}
		}
	}
}

// Scan applies the logs of every confirmed block not scanned yet. Progress
// is stored after each range, so a failed scan resumes where it stopped.
func (s *Synchronizer) Scan(ctx context.Context) error {
	latest, err := s.etherman.BlockNumber(ctx)
	if err != nil {
		return etherman.ClassifyError("sync", err)
	}
	if latest < s.cfg.Confirmations {
		return nil
	}
	target := latest - s.cfg.Confirmations

	maxRange := s.cfg.MaxBlockRange
	if maxRange == 0 {
		maxRange = 1
	}

	for s.lastScanned < target {
		from := s.lastScanned + 1
		to := target
		if to-from+1 > maxRange {
			to = from + maxRange - 1
		}

		vlogs, err := s.etherman.VaultLogs(ctx, from, to)
		if err != nil {
			return etherman.ClassifyError("sync", err)
		}
		events := make([]interface{}, 0, len(vlogs))
		for i := range vlogs {
			ev, err := s.decoder.DecodeLog(&vlogs[i])
			if err != nil {
				// a log that never decodes must not hold back the rest
				logger.WithFields(logger.Fields{
					"txHash": vlogs[i].TxHash.String(),
					"block":  vlogs[i].BlockNumber,
					"index":  vlogs[i].Index,
				}).Warnf("skipping malformed vault log: err=%v", err)
				continue
			}
			if ev != nil {
				events = append(events, ev)
			}
		}

		logger.WithFields(logger.Fields{
			"from":   from,
			"to":     to,
			"events": len(events),
		}).Debug("vault logs")

		for _, ev := range events {
			switch ev := ev.(type) {
			case *agreement.BanknoteMintedEvent:
				if err := s.applyMinted(ev); err != nil {
					return err
				}
			case *agreement.BanknoteRedeemedEvent:
				if err := s.applyRedeemed(ev); err != nil {
					return err
				}
			}
		}

		if err := s.st.SetLastScannedBlock(to); err != nil {
			logger.Errorf("failed to set last scanned block: err=%v", err)
			return ErrDBOpSetLastScannedBlock
		}
		s.lastScanned = to
	}

	return nil
}

// applyMinted resolves a banknote this ledger broadcast but could not
// confirm or decode. Mints by others are not recorded: their secrets are
// unknown here.
func (s *Synchronizer) applyMinted(ev *agreement.BanknoteMintedEvent) error {
	note, ok, err := s.st.GetBanknoteByMintTxHash(ev.TxHash)
	if err != nil {
		return agreement.NewError(agreement.KindStorage, "sync", err)
	}
	if !ok || (note.Status != agreement.BanknotePending && note.Status != agreement.BanknoteUnresolved) {
		return nil
	}

	logger.WithFields(logger.Fields{
		"mintTx":     ev.TxHash.String(),
		"banknoteId": ev.Id,
	}).Info("banknote resolved from vault logs")
	if err := s.st.ResolveBanknote(ev.TxHash, ev.Id, agreement.BanknoteMinted); err != nil {
		return agreement.NewError(agreement.KindStorage, "sync", err)
	}
	return nil
}

func (s *Synchronizer) applyRedeemed(ev *agreement.BanknoteRedeemedEvent) error {
	symbol := ev.Erc20.Hex()
	if asset, err := s.registry.ByAddress(ev.Erc20); err == nil {
		symbol = asset.Symbol
	}

	logger.WithFields(logger.Fields{
		"redeemTx":   ev.TxHash.String(),
		"banknoteId": ev.Id,
		"redeemer":   ev.Redeemer.String(),
	}).Debug("banknoteRedeemed event")
	err := s.st.InsertRedemption(&agreement.Redemption{
		TxHash:      ev.TxHash,
		BanknoteID:  ev.Id,
		Redeemer:    ev.Redeemer,
		Asset:       ev.Erc20,
		AssetSymbol: symbol,
		Amount:      ev.Amount,
		Description: ev.Description,
	})
	if err != nil {
		return agreement.NewError(agreement.KindStorage, "sync", err)
	}
	return nil
}

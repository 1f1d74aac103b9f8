package ledger

import "strings"

var (
	strZeroBytes32 = strings.Repeat("0", 64)
	strZeroBytes20 = strings.Repeat("0", 40)

	// Banknotes keyed by the hash of their mint tx since the id is only known
	// once the mint is mined. id and denomination are decimal strings.
	banknoteTable = `CREATE TABLE IF NOT EXISTS banknote (
		mintTxHash CHAR(64) PRIMARY KEY NOT NULL,
		id VARCHAR(78) UNIQUE,
		issuer CHAR(40) NOT NULL,
		claimAddress CHAR(40) NOT NULL,
		asset CHAR(40) NOT NULL,
		assetSymbol VARCHAR(32) NOT NULL,
		denomination VARCHAR(78) NOT NULL,
		status VARCHAR(10) NOT NULL,
		redeemTxHash CHAR(64) UNIQUE,
		sealedSecret BLOB,
		CONSTRAINT chk_status CHECK (status IN ('pending', 'minted', 'unresolved', 'redeemed', 'failed')),
		CONSTRAINT chk_id CHECK (status NOT IN ('minted', 'redeemed') OR id IS NOT NULL),
		CONSTRAINT chk_mintTxHash CHECK (mintTxHash != '` + strZeroBytes32 + `'),
		CONSTRAINT chk_claimAddress CHECK (claimAddress != '` + strZeroBytes20 + `'),
		CONSTRAINT chk_redeemTxHash CHECK (redeemTxHash IS NULL OR redeemTxHash != '` + strZeroBytes32 + `')
	);`

	redemptionTable = `CREATE TABLE IF NOT EXISTS redemption (
		txHash CHAR(64) PRIMARY KEY NOT NULL,
		banknoteId VARCHAR(78) NOT NULL,
		redeemer CHAR(40) NOT NULL,
		asset CHAR(40) NOT NULL,
		assetSymbol VARCHAR(32) NOT NULL,
		amount VARCHAR(78) NOT NULL,
		description CHAR(64) NOT NULL,
		CONSTRAINT chk_txHash CHECK (txHash != '` + strZeroBytes32 + `'),
		CONSTRAINT chk_redeemer CHECK (redeemer != '` + strZeroBytes20 + `')
	);`

	// sentAt is unix seconds
	monitoredTxTable = `CREATE TABLE IF NOT EXISTS monitoredTx (
		txHash CHAR(64) PRIMARY KEY NOT NULL,
		kind VARCHAR(10) NOT NULL,
		status VARCHAR(10) NOT NULL,
		ref VARCHAR(78) NOT NULL,
		sentAt BIGINT NOT NULL,
		CONSTRAINT chk_txHash CHECK (txHash != '` + strZeroBytes32 + `'),
		CONSTRAINT chk_kind CHECK (kind IN ('approve', 'mint', 'redeem', 'skim')),
		CONSTRAINT chk_status CHECK (status IN ('pending', 'success', 'reverted', 'timeout'))
	);`

	kvTable = `CREATE TABLE IF NOT EXISTS kv (
		key VARCHAR(32) PRIMARY KEY NOT NULL,
		value BLOB NOT NULL
	);`

	banknoteColumns    = " mintTxHash, id, issuer, claimAddress, asset, assetSymbol, denomination, status, redeemTxHash "
	redemptionColumns  = " txHash, banknoteId, redeemer, asset, assetSymbol, amount, description "
	monitoredTxColumns = " txHash, kind, status, ref, sentAt "
)

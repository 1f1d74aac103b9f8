package etherman

import "github.com/ethereum/go-ethereum/common"

type Config struct {
	// URL is the URL of the Ethereum node
	URL string

	// VaultContractAddress is the deployed banknote collateral vault
	VaultContractAddress common.Address

	// RateLimit caps RPC-issuing calls per second. Zero disables limiting.
	RateLimit float64

	// Burst is the number of calls allowed above RateLimit at once
	Burst int
}

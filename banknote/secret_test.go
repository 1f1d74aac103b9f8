package banknote

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/banknote-go/common"
)

func TestBearerSecretEncodings(t *testing.T) {
	secret, err := GenerateBearerSecret()
	require.NoError(t, err)

	assert.Len(t, secret.Bytes(), 32)
	assert.True(t, strings.HasPrefix(secret.Hex(), "0x"))
	assert.NotContains(t, secret.String(), common.Trim0xPrefix(secret.Hex()))

	fromHex, err := ParseBearerSecret(secret.Hex())
	require.NoError(t, err)
	assert.Equal(t, secret.ClaimAddress(), fromHex.ClaimAddress())

	fromPureHex, err := ParseBearerSecret(common.Trim0xPrefix(secret.Hex()))
	require.NoError(t, err)
	assert.Equal(t, secret.ClaimAddress(), fromPureHex.ClaimAddress())

	mnemonic, err := secret.Mnemonic()
	require.NoError(t, err)
	assert.Len(t, strings.Fields(mnemonic), 24)

	fromMnemonic, err := ParseBearerSecret("  " + strings.ToUpper(mnemonic) + "\n")
	require.NoError(t, err)
	assert.Equal(t, secret.Bytes(), fromMnemonic.Bytes())
}

func TestParseBearerSecretInvalid(t *testing.T) {
	for _, s := range []string{
		"",
		"0x",
		"zz" + strings.Repeat("0", 62),
		strings.Repeat("0", 64), // zero is not a valid key
		strings.Repeat("1", 66),
	} {
		_, err := ParseBearerSecret(s)
		assert.ErrorIs(t, err, ErrInvalidSecret, s)
	}

	_, err := ParseBearerSecret("legal winner thank year wave sausage worth useful legal winner thank yellow wrong")
	assert.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestSignRedemption(t *testing.T) {
	secret, err := GenerateBearerSecret()
	require.NoError(t, err)
	redeemer := common.RandEthAddress()

	sig, err := SignRedemption(secret, redeemer)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	assert.NoError(t, VerifyRedemption(sig, redeemer, secret.ClaimAddress()))

	// bound to the redeemer
	assert.ErrorIs(t, VerifyRedemption(sig, common.RandEthAddress(), secret.ClaimAddress()), ErrInvalidSignature)
	assert.ErrorIs(t, VerifyRedemption(sig[:64], redeemer, secret.ClaimAddress()), ErrInvalidSignature)

	other, err := GenerateBearerSecret()
	require.NoError(t, err)
	assert.ErrorIs(t, VerifyRedemption(sig, redeemer, other.ClaimAddress()), ErrInvalidSignature)
}

func TestExportNote(t *testing.T) {
	secret, err := GenerateBearerSecret()
	require.NoError(t, err)

	note := &ExportedNote{
		ChainID:      big.NewInt(1337),
		Vault:        common.RandEthAddress(),
		ID:           big.NewInt(42),
		AssetSymbol:  "USDC",
		Denomination: big.NewInt(20),
		Secret:       secret,
	}
	token, err := ExportNote(note)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, ExportPrefix))
	assert.NotContains(t, token, "=")

	parsed, err := ParseExportedNote(token)
	require.NoError(t, err)
	assert.Equal(t, int64(1337), parsed.ChainID.Int64())
	assert.Equal(t, note.Vault, parsed.Vault)
	assert.Equal(t, int64(42), parsed.ID.Int64())
	assert.Equal(t, "USDC", parsed.AssetSymbol)
	assert.Equal(t, int64(20), parsed.Denomination.Int64())
	assert.Equal(t, secret.Bytes(), parsed.Secret.Bytes())

	// a token is accepted wherever a secret is
	fromToken, err := ParseBearerSecret(token)
	require.NoError(t, err)
	assert.Equal(t, secret.ClaimAddress(), fromToken.ClaimAddress())

	// id zero survives the round trip
	note.ID = big.NewInt(0)
	token, err = ExportNote(note)
	require.NoError(t, err)
	parsed, err = ParseExportedNote(token)
	require.NoError(t, err)
	assert.Equal(t, int64(0), parsed.ID.Int64())
}

func TestParseExportedNoteInvalid(t *testing.T) {
	for _, token := range []string{
		"",
		"cashuBabc",
		ExportPrefix + "!!!",
		ExportPrefix + "AAAA",
	} {
		_, err := ParseExportedNote(token)
		assert.Error(t, err, token)
	}

	_, err := ExportNote(&ExportedNote{ID: big.NewInt(1)})
	assert.ErrorIs(t, err, ErrInvalidExport)
}

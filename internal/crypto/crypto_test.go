package crypto

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func recoverAddress(t *testing.T, digest []byte, sigHex string) common.Address {
	t.Helper()
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	require.NoError(t, err)
	require.Len(t, sig, 65)
	sig[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, sig)
	require.NoError(t, err)
	return ethcrypto.PubkeyToAddress(*pub)
}

func testOrder() OrderPayload {
	return OrderPayload{
		Salt:          "12345",
		Maker:         "0x0000000000000000000000000000000000000abc",
		Signer:        "0x0000000000000000000000000000000000000abc",
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "50000000",
		TakerAmount:   "100000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 2,
	}
}

func TestSignOrderRecoversSigner(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	require.NoError(t, err)

	o := testOrder()
	sig, err := s.SignOrder(o, false)
	require.NoError(t, err)

	sh, err := orderStructHash(o)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), recoverAddress(t, eip712Hash(s.exchangeDomain, sh), sig))
}

func TestSignOrderDomainDependsOnExchange(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	require.NoError(t, err)

	regular, err := s.SignOrder(testOrder(), false)
	require.NoError(t, err)
	negRisk, err := s.SignOrder(testOrder(), true)
	require.NoError(t, err)
	assert.NotEqual(t, regular, negRisk)
}

func TestSignOrderRejectsBadNumbers(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	require.NoError(t, err)

	o := testOrder()
	o.MakerAmount = "12.5"
	_, err = s.SignOrder(o, false)
	require.ErrorContains(t, err, "makerAmount")
}

func TestL1Headers(t *testing.T) {
	s, err := NewSigner("0x"+testKey, 137)
	require.NoError(t, err)

	h, err := s.L1Headers(1700000000, 0)
	require.NoError(t, err)
	assert.Equal(t, s.Address().Hex(), h["POLY_ADDRESS"])
	assert.Equal(t, "1700000000", h["POLY_TIMESTAMP"])
	assert.Equal(t, "0", h["POLY_NONCE"])
	assert.True(t, strings.HasPrefix(h["POLY_SIGNATURE"], "0x"))
}

func TestL2HeadersDeterministic(t *testing.T) {
	auth := NewHMACAuth(domain.Credentials{Key: "key", Secret: "c2VjcmV0LXNlY3JldA==", Passphrase: "pass"})

	a := auth.L2HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)
	b := auth.L2HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)
	c := auth.L2HeadersAt("0xabc", "POST", "/order", `{"a":2}`, 1700000000)

	assert.Equal(t, a["POLY_SIGNATURE"], b["POLY_SIGNATURE"])
	assert.NotEqual(t, a["POLY_SIGNATURE"], c["POLY_SIGNATURE"])
	assert.Equal(t, "key", a["POLY_API_KEY"])
	assert.Equal(t, "1700000000", a["POLY_TIMESTAMP"])
	assert.NotContains(t, auth.String(), "c2VjcmV0LXNlY3JldA==")
}

func TestKeyFileRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "correct horse")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"})
	require.Error(t, err)
}

func TestLoadKeyPrefersRawKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey, EncryptedKeyPath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}

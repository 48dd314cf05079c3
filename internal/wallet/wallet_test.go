package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-data/market-cli/pkg/x402"
)

func TestWallet_Connected(t *testing.T) {
	w := New(Config{Address: "0xbuyer", ChainID: 84532})
	assert.True(t, w.Connected())
	assert.Equal(t, "0xbuyer", w.Address())
	assert.Equal(t, 84532, w.ChainID())

	assert.False(t, New(Config{}).Connected())
}

func TestSignPayment_RoundTrip(t *testing.T) {
	w := New(Config{Address: "0xbuyer", ChainID: 84532, PaymentKey: "dev-key"})

	header, err := w.SignPayment(context.Background(), x402.PaymentRequirements{
		Scheme:  "exact",
		Network: "base-sepolia",
		Amount:  "50000",
		PayTo:   "0xfacilitator",
		Asset:   "0xusdc",
	})
	require.NoError(t, err)
	require.NotEmpty(t, header)

	claims, err := VerifyPayment([]byte("dev-key"), header)
	require.NoError(t, err)
	assert.Equal(t, "0xbuyer", claims.Issuer)
	assert.Equal(t, "50000", claims.Amount)
	assert.Equal(t, "0xfacilitator", claims.PayTo)
	assert.True(t, claims.ExpiresAt.After(time.Now()))
}

func TestSignPayment_WrongKeyRejected(t *testing.T) {
	w := New(Config{Address: "0xbuyer", PaymentKey: "dev-key"})
	header, err := w.SignPayment(context.Background(), x402.PaymentRequirements{Amount: "1"})
	require.NoError(t, err)

	_, err = VerifyPayment([]byte("other-key"), header)
	require.Error(t, err)
}

func TestSignPayment_NoKeyIsUnsupported(t *testing.T) {
	w := New(Config{Address: "0xbuyer"})
	_, err := w.SignPayment(context.Background(), x402.PaymentRequirements{})
	assert.ErrorIs(t, err, x402.ErrSigningUnsupported)
}

func TestSignPayment_Disconnected(t *testing.T) {
	w := New(Config{PaymentKey: "dev-key"})
	_, err := w.SignPayment(context.Background(), x402.PaymentRequirements{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no connected account")
}

func TestSubscribe_AccountAndChainEvents(t *testing.T) {
	w := New(Config{Address: "0xbuyer", ChainID: 1})
	ch, cancel := w.Subscribe()
	defer cancel()

	w.SetAccount("0xother")
	ev := <-ch
	assert.Equal(t, AccountsChanged, ev.Type)
	assert.Equal(t, "0xother", ev.Address)

	w.SetChain(84532)
	ev = <-ch
	assert.Equal(t, ChainChanged, ev.Type)
	assert.Equal(t, 84532, ev.ChainID)
	assert.Equal(t, 84532, w.ChainID())
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	w := New(Config{Address: "0xbuyer"})
	ch, cancel := w.Subscribe()
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Emitting after cancel must not panic or deliver.
	w.SetAccount("0xother")
}

package i6p

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TheusHen/i6p-transfer/i6p/config"
	"github.com/TheusHen/i6p-transfer/i6p/ticket"
)

func loopbackConfig() config.Config {
	cfg := config.Default()
	cfg.BindAddr = "127.0.0.1:0"
	cfg.NoRelay = true
	cfg.Size = "3M"
	cfg.CloseTimeout = time.Second
	return cfg
}

func TestPeerProvideAndFetch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	provider, err := NewPeer(loopbackConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer provider.Close()

	tk, err := provider.Ticket()
	require.NoError(t, err)
	assert.Empty(t, tk.Addr().RelayURL)

	serveCtx, stop := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() { served <- provider.Provide(serveCtx) }()

	for _, mode := range []string{"ordered", "unordered"} {
		cfg := loopbackConfig()
		cfg.ReadMode = mode
		fetcher, err := NewDialPeer(cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Nil(t, fetcher.Endpoint().Listener())

		res, err := fetcher.Fetch(ctx, tk.String())
		require.NoError(t, err, mode)
		assert.Equal(t, uint64(3<<20), res.Report.Bytes, mode)
		assert.Equal(t, tk.PeerID(), res.Remote)
		require.NoError(t, fetcher.Close())
	}

	stop()
	assert.NoError(t, <-served)
}

func TestDialPeerDoesNotProvide(t *testing.T) {
	p, err := NewDialPeer(loopbackConfig(), nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Nil(t, p.Endpoint().Listener())
	assert.ErrorIs(t, p.Provide(context.Background()), ErrNotListening)
}

func TestPeerFetchBadTicket(t *testing.T) {
	fetcher, err := NewDialPeer(loopbackConfig(), nil)
	require.NoError(t, err)
	defer fetcher.Close()

	_, err = fetcher.Fetch(context.Background(), "i6pnodenotaticket")
	assert.ErrorIs(t, err, ticket.ErrParse)
}

func TestNewPeerRejectsBadConfig(t *testing.T) {
	cfg := loopbackConfig()
	cfg.BindAddr = "127.0.0.1:99999"
	_, err := NewPeer(cfg, nil)
	assert.Error(t, err)

	cfg = loopbackConfig()
	cfg.Size = "-3"
	_, err = NewPeer(cfg, nil)
	assert.Error(t, err)
}

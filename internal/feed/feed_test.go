package feed

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zkshield/shieldpool/internal/field"
	"github.com/zkshield/shieldpool/internal/note"
	"github.com/zkshield/shieldpool/internal/pool"
)

type recordingScanner struct {
	events []pool.Event
}

func (r *recordingScanner) Scan(events []pool.Event) error {
	r.events = append(r.events, events...)
	return nil
}

func TestFeedRoundTrip(t *testing.T) {
	source := pool.NewLog()
	server, err := NewServer("127.0.0.1:0", source, zerolog.Nop())
	require.NoError(t, err)
	server.Start()
	defer server.Stop(context.Background())

	token := note.TokenData{Kind: note.Fungible, Address: common.HexToAddress("0x01")}
	source.Publish(pool.Event{Shield: &pool.ShieldEvent{
		TreeNumber: 0,
		Preimages:  []pool.ShieldPreimage{{Npk: field.Random(), Token: token, Value: big.NewInt(42)}},
	}})

	client := NewClient(server.Addr(), zerolog.Nop())
	scanner := &recordingScanner{}

	require.NoError(t, client.Sync(context.Background(), scanner))
	require.Len(t, scanner.events, 1)
	require.NotNil(t, scanner.events[0].Shield)
	require.Equal(t, int64(42), scanner.events[0].Shield.Preimages[0].Value.Int64())

	// Nothing new: a second sync is a no-op.
	require.NoError(t, client.Sync(context.Background(), scanner))
	require.Len(t, scanner.events, 1)

	// New events arrive incrementally, not from zero.
	source.Publish(pool.Event{Nullifiers: &pool.NullifierEvent{TreeNumber: 0}})
	require.NoError(t, client.Sync(context.Background(), scanner))
	require.Len(t, scanner.events, 2)
	require.Equal(t, uint64(1), scanner.events[1].Sequence)
}

func TestServerHealthTracksLifecycle(t *testing.T) {
	server, err := NewServer("127.0.0.1:0", pool.NewLog(), zerolog.Nop())
	require.NoError(t, err)

	require.Error(t, server.Healthy())

	server.Start()
	require.NoError(t, server.Healthy())

	require.NoError(t, server.Stop(context.Background()))
	require.Error(t, server.Healthy())
}

package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cuemby/bellhop/pkg/storage"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTransport struct {
	sends atomic.Int32
	err   error
}

func (c *countingTransport) Send(ctx context.Context, payload *Payload) error {
	c.sends.Add(1)
	return c.err
}

func TestNotifySendsOnce(t *testing.T) {
	ctx := context.Background()
	ledger := storage.NewMemoryLedger()
	transport := &countingTransport{}
	d := New("t1", ledger, transport, nil)

	payload := &Payload{Recipient: "guest@example.com", Subject: "Order confirmed"}
	require.NoError(t, d.Notify(ctx, "o1", types.StatusConfirmed, payload))
	require.NoError(t, d.Notify(ctx, "o1", types.StatusConfirmed, payload))
	assert.Equal(t, int32(1), transport.sends.Load())

	entry, err := ledger.Get(ctx, types.LedgerKey{TenantID: "t1", EntityID: "o1", Target: types.StatusConfirmed})
	require.NoError(t, err)
	assert.Equal(t, types.DeliverySent, entry.State)

	// A different target for the same record is a different notification
	require.NoError(t, d.Notify(ctx, "o1", types.StatusRejected, payload))
	assert.Equal(t, int32(2), transport.sends.Load())
}

func TestNotifyConcurrentCallersSendOnce(t *testing.T) {
	ctx := context.Background()
	ledger := storage.NewMemoryLedger()
	transport := &countingTransport{}

	// Two devices of the same tenant sharing one ledger
	devices := []*Dispatcher{
		New("t1", ledger, transport, nil),
		New("t1", ledger, transport, nil),
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(d *Dispatcher) {
			defer wg.Done()
			assert.NoError(t, d.Notify(ctx, "o1", types.StatusConfirmed, &Payload{}))
		}(devices[i%2])
	}
	wg.Wait()

	assert.Equal(t, int32(1), transport.sends.Load())
}

func TestNotifyTenantsAreIsolated(t *testing.T) {
	ctx := context.Background()
	ledger := storage.NewMemoryLedger()
	transport := &countingTransport{}

	require.NoError(t, New("t1", ledger, transport, nil).Notify(ctx, "o1", types.StatusConfirmed, &Payload{}))
	require.NoError(t, New("t2", ledger, transport, nil).Notify(ctx, "o1", types.StatusConfirmed, &Payload{}))
	assert.Equal(t, int32(2), transport.sends.Load())
}

func TestNotifySendFailureIsRecordedGap(t *testing.T) {
	ctx := context.Background()
	ledger := storage.NewMemoryLedger()
	transport := &countingTransport{err: errors.New("smtp timeout")}
	d := New("t1", ledger, transport, nil)

	err := d.Notify(ctx, "r1", types.StatusCancelled, &Payload{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrDispatch)
	assert.True(t, IsGap(err))

	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "r1", de.Key.EntityID)

	// Never retried automatically
	require.NoError(t, d.Notify(ctx, "r1", types.StatusCancelled, &Payload{}))
	assert.Equal(t, int32(1), transport.sends.Load())

	gaps, err := Gaps(ctx, ledger, "t1")
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, types.DeliveryFailed, gaps[0].State)
	assert.Equal(t, "smtp timeout", gaps[0].Error)
}

func TestNotifyLedgerFailureDoesNotSend(t *testing.T) {
	ctx := context.Background()
	ledger := storage.NewMemoryLedger()
	ledger.Fail(errors.New("ledger down"))
	transport := &countingTransport{}
	d := New("t1", ledger, transport, nil)

	err := d.Notify(ctx, "o1", types.StatusConfirmed, &Payload{})
	assert.ErrorIs(t, err, types.ErrDispatch)
	assert.False(t, IsGap(err))
	assert.Equal(t, int32(0), transport.sends.Load())
}

func TestTransportFunc(t *testing.T) {
	var got *Payload
	tr := TransportFunc(func(ctx context.Context, p *Payload) error {
		got = p
		return nil
	})
	p := &Payload{Subject: "hi"}
	require.NoError(t, tr.Send(context.Background(), p))
	assert.Same(t, p, got)
}

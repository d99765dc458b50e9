package monitor

import (
	"testing"

	"github.com/nspcc-dev/chainmux/internal/muxtest"
	"github.com/nspcc-dev/chainmux/pkg/chain"
	"github.com/nspcc-dev/chainmux/pkg/signalmux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMonitorBuffered(t *testing.T) {
	reg := prometheus.NewRegistry()
	mon, err := New(reg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, "monitor", mon.Name())

	mux := signalmux.New(signalmux.Config{})
	mux.Register(mon)

	mux.OnBlockStart(1)
	tr, p := muxtest.NewTransaction(1, 0)
	mux.OnTransactionApplied(tr, p)
	failed, p := muxtest.NewTransaction(1, 1)
	failed.Status = chain.HardFail
	mux.OnTransactionApplied(failed, p)
	mux.OnBlockStart(1)
	mux.OnTransactionApplied(tr, p)
	mux.OnBlockAccepted(muxtest.NewBlock(1))
	mux.OnBlockIrreversible(muxtest.NewBlock(1))

	require.Equal(t, float64(1), testutil.ToFloat64(mon.startedIndex))
	require.Equal(t, float64(1), testutil.ToFloat64(mon.acceptedHeight))
	require.Equal(t, float64(1), testutil.ToFloat64(mon.irreversibleHeight))
	require.Equal(t, float64(1), testutil.ToFloat64(mon.discardedBlocks))
	require.Equal(t, float64(1), testutil.ToFloat64(mon.transactions.WithLabelValues("executed")))
	require.Equal(t, float64(0), testutil.ToFloat64(mon.transactions.WithLabelValues("hard_fail")))
	require.Equal(t, float64(0), testutil.ToFloat64(mon.appliedTxs))
}

func TestMonitorDirect(t *testing.T) {
	mon, err := New(prometheus.NewRegistry(), nil)
	require.NoError(t, err)

	mux := signalmux.New(signalmux.Config{AlternateInterface: true})
	mux.Register(mon)

	mux.OnBlockStart(7)
	for i := 0; i < 3; i++ {
		tr, p := muxtest.NewTransaction(7, i)
		mux.OnTransactionApplied(tr, p)
	}
	mux.OnBlockAccepted(muxtest.NewBlock(7))

	require.Equal(t, float64(7), testutil.ToFloat64(mon.startedIndex))
	require.Equal(t, float64(7), testutil.ToFloat64(mon.acceptedHeight))
	require.Equal(t, float64(3), testutil.ToFloat64(mon.appliedTxs))
	require.Equal(t, float64(3), testutil.ToFloat64(mon.transactions.WithLabelValues("executed")))
}

func TestMonitorDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, nil)
	require.NoError(t, err)
	_, err = New(reg, nil)
	require.Error(t, err)
}

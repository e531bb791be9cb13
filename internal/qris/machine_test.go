package qris

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMachineAssignMovesToPending(t *testing.T) {
	m := NewMachine(0)
	require.Equal(t, StatusIdle, m.Snapshot().Status)

	m.Assign("QRIS-1")
	snap := m.Snapshot()
	require.Equal(t, StatusPending, snap.Status)
	require.Equal(t, "QRIS-1", snap.OrderID)
	require.Zero(t, snap.ErrorCount)
}

func TestMachineSettlementFiresOncePerOrder(t *testing.T) {
	m := NewMachine(0)
	m.Assign("QRIS-1")

	require.Equal(t, EffectSuccess, m.Observe(StatusResponse{Status: "settlement"}))
	require.Equal(t, EffectNone, m.Observe(StatusResponse{Status: "settlement"}))
	require.Equal(t, StatusSuccess, m.Snapshot().Status)

	m.Assign("QRIS-2")
	require.Equal(t, EffectSuccess, m.Observe(StatusResponse{TransactionStatus: "settlement"}))
}

func TestMachineReassigningSameOrderKeepsSuccessGuard(t *testing.T) {
	m := NewMachine(0)
	m.Assign("QRIS-1")
	m.Observe(StatusResponse{Status: "capture"})
	m.Assign("QRIS-1")
	require.Equal(t, EffectNone, m.Observe(StatusResponse{Status: "settlement"}))
}

func TestMachineTerminalStatuses(t *testing.T) {
	cases := []struct {
		status string
		want   Status
		effect Effect
	}{
		{"expire", StatusExpired, EffectExpired},
		{"cancel", StatusFailed, EffectNone},
		{"deny", StatusFailed, EffectNone},
		{"pending", StatusPending, EffectNone},
		{"authorize", StatusPending, EffectNone},
	}
	for _, tc := range cases {
		m := NewMachine(0)
		m.Assign("QRIS-1")
		require.Equal(t, tc.effect, m.Observe(StatusResponse{Status: tc.status}), tc.status)
		require.Equal(t, tc.want, m.Snapshot().Status, tc.status)
	}
}

func TestMachineErrorsCountWithoutChangingStatus(t *testing.T) {
	m := NewMachine(3)
	m.Assign("QRIS-1")
	m.Fail()
	m.Fail()
	require.False(t, m.Snapshot().Warning)
	m.Fail()

	snap := m.Snapshot()
	require.Equal(t, StatusPending, snap.Status)
	require.Equal(t, 3, snap.ErrorCount)
	require.True(t, snap.Warning)

	m.Observe(StatusResponse{Status: "pending"})
	require.Zero(t, m.Snapshot().ErrorCount)
}

func TestMachineResetFromAnyState(t *testing.T) {
	for _, status := range []string{"settlement", "expire", "cancel", "pending"} {
		m := NewMachine(0)
		m.Assign("QRIS-1")
		m.Fail()
		m.Observe(StatusResponse{Status: status})
		m.Fail()

		m.Assign("")
		snap := m.Snapshot()
		require.Equal(t, StatusIdle, snap.Status, status)
		require.Zero(t, snap.ErrorCount, status)
		require.Empty(t, snap.OrderID)
	}
}

func TestMachineIgnoresResultsWhileIdle(t *testing.T) {
	m := NewMachine(0)
	require.Equal(t, EffectNone, m.Observe(StatusResponse{Status: "settlement"}))
	m.Fail()
	require.Equal(t, Snapshot{Status: StatusIdle}, m.Snapshot())
}

func TestNormalizeProviderStatus(t *testing.T) {
	require.Equal(t, ProviderSettlement, NormalizeProviderStatus(" Capture "))
	require.Equal(t, ProviderCancel, NormalizeProviderStatus("deny"))
	require.Equal(t, ProviderExpire, NormalizeProviderStatus("expire"))
	require.Equal(t, "refund", NormalizeProviderStatus("refund"))
}

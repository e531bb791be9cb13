package qris

// DefaultWarnAfterErrors is the consecutive failure count that raises the
// connectivity warning.
const DefaultWarnAfterErrors = 3

// Effect is a notification the machine asks its owner to deliver.
type Effect int

const (
	EffectNone Effect = iota
	EffectSuccess
	EffectExpired
)

// Snapshot is a read-only view of the machine.
type Snapshot struct {
	OrderID    string `json:"orderId,omitempty"`
	Status     Status `json:"status"`
	ErrorCount int    `json:"errorCount"`
	Warning    bool   `json:"connectivityWarning"`
}

// Machine holds the QRIS status transitions with no scheduling attached.
// It is not safe for concurrent use; the Poller owns one.
type Machine struct {
	orderID    string
	status     Status
	errorCount int
	successFor string
	warnAfter  int
}

// NewMachine returns an idle machine.
func NewMachine(warnAfter int) *Machine {
	if warnAfter <= 0 {
		warnAfter = DefaultWarnAfterErrors
	}
	return &Machine{status: StatusIdle, warnAfter: warnAfter}
}

// Assign switches to a new order. An empty id resets to idle.
func (m *Machine) Assign(orderID string) {
	m.errorCount = 0
	if orderID == "" {
		m.orderID = ""
		m.status = StatusIdle
		return
	}
	if orderID != m.orderID {
		m.successFor = ""
	}
	m.orderID = orderID
	m.status = StatusPending
}

// Observe applies a successful status check and reports what to notify.
func (m *Machine) Observe(resp StatusResponse) Effect {
	if m.orderID == "" {
		return EffectNone
	}
	m.errorCount = 0
	status := NormalizeProviderStatus(resp.Status)
	switch {
	case status == ProviderSettlement || NormalizeProviderStatus(resp.TransactionStatus) == ProviderSettlement:
		m.status = StatusSuccess
		if m.successFor == m.orderID {
			return EffectNone
		}
		m.successFor = m.orderID
		return EffectSuccess
	case status == ProviderExpire:
		m.status = StatusExpired
		return EffectExpired
	case status == ProviderCancel:
		m.status = StatusFailed
	}
	return EffectNone
}

// Fail records a failed status check. Status is left alone.
func (m *Machine) Fail() {
	if m.orderID == "" {
		return
	}
	m.errorCount++
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		OrderID:    m.orderID,
		Status:     m.status,
		ErrorCount: m.errorCount,
		Warning:    m.errorCount >= m.warnAfter,
	}
}

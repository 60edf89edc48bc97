package fdo

import (
	"github.com/z-galaxy/busd/internal/peers"
)

// Monitoring is the monitoring service object. Turning a peer into a
// monitor is registry state; capturing traffic for it belongs to the
// routing layer.
type Monitoring struct {
	peers *peers.Registry
}

func NewMonitoring(r *peers.Registry) *Monitoring {
	return &Monitoring{peers: r}
}

// BecomeMonitor converts the calling peer into a monitor.
func (m *Monitoring) BecomeMonitor(caller string) error {
	return m.peers.MakeMonitor(caller)
}

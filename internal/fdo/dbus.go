// Package fdo implements the bus's own service objects: the
// bus-management service and the monitoring service, registered at the
// well-known object path and reached through the self connection.
package fdo

import (
	"fmt"

	"github.com/z-galaxy/busd/internal/peers"
)

const (
	// BusPath is the object path where both services live.
	BusPath = "/org/freedesktop/DBus"

	DBusInterface       = "org.freedesktop.DBus"
	MonitoringInterface = "org.freedesktop.DBus.Monitoring"
)

// DBus is the bus-management service object.
type DBus struct {
	peers *peers.Registry
	guid  string
}

func NewDBus(r *peers.Registry, guid string) *DBus {
	return &DBus{
		peers: r,
		guid:  guid,
	}
}

// ListNames returns every name currently owned on the bus.
func (d *DBus) ListNames() []string {
	return d.peers.Names()
}

// GetNameOwner resolves a name to the unique name owning it.
func (d *DBus) GetNameOwner(name string) (string, error) {
	owner, ok := d.peers.NameOwner(name)
	if !ok {
		return "", fmt.Errorf("name %q has no owner", name)
	}
	return owner, nil
}

// GUID returns the session GUID of the bus.
func (d *DBus) GUID() string {
	return d.guid
}

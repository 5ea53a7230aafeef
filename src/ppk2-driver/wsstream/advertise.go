package wsstream

import (
	"github.com/libp2p/zeroconf/v2"
)

// serviceType is the mDNS/DNS-SD service type advertised for the
// WebSocket sample stream, so companion applications can find it without
// being told a host and port up front.
const serviceType = "_ppk2-driver._tcp"

// Advertise registers the WebSocket endpoint at port under serviceType,
// returning a handle whose Shutdown stops responding to queries. instance
// should be a name that is stable and unique enough to tell multiple
// running drivers apart on one network, e.g. tagged with the device's
// serial number.
func Advertise(instance string, port int) (*zeroconf.Server, error) {
	return zeroconf.Register(instance, serviceType, "local.", port, nil, nil)
}

// Package capture owns one packet-capture run bound to one pcap file.
package capture

import (
	"errors"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// ErrReadTimeout is returned by Handle.ReadPacketData when no packet arrived within
// the handle's poll interval. The session loop treats it as a wake-up, not a failure.
var ErrReadTimeout = errors.New("capture: read timeout")

// Spec identifies what a session captures and where it writes. Immutable once started.
type Spec struct {
	Interface  string `json:"interface"`
	Filter     string `json:"filter"`
	OutputPath string `json:"output_path"`
}

// Handle abstracts a live capture source. ReadPacketData must return within a bounded
// poll interval, either with a packet or with ErrReadTimeout.
type Handle interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	SnapLen() int
	Close()
}

// Opener opens a Handle for a Spec. Errors are surfaced as CaptureStartError.
type Opener interface {
	Open(spec Spec) (Handle, error)
}

// Stats are kernel-level capture counters, when the backend provides them.
type Stats struct {
	PacketsReceived  int
	PacketsDropped   int
	PacketsIfDropped int
}

// StatsReporter is implemented by handles that expose capture counters.
type StatsReporter interface {
	Stats() (Stats, error)
}

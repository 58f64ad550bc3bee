package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/pcap"
)

const (
	DefaultSnapLen      = 65535
	DefaultPollInterval = time.Second
)

// PcapOpener opens live libpcap handles. PollInterval is the read timeout, which is
// also the longest a session can go without re-checking its stop signal.
type PcapOpener struct {
	SnapLen      int
	Promiscuous  bool
	PollInterval time.Duration
}

func (o PcapOpener) Open(spec Spec) (Handle, error) {
	snapLen := o.SnapLen
	if snapLen <= 0 {
		snapLen = DefaultSnapLen
	}
	poll := o.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	inactive, err := pcap.NewInactiveHandle(spec.Interface)
	if err != nil {
		return nil, fmt.Errorf("pcap: inactive handle %s: %w", spec.Interface, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(snapLen); err != nil {
		return nil, fmt.Errorf("pcap: snaplen: %w", err)
	}
	if err := inactive.SetPromisc(o.Promiscuous); err != nil {
		return nil, fmt.Errorf("pcap: promisc: %w", err)
	}
	if err := inactive.SetTimeout(poll); err != nil {
		return nil, fmt.Errorf("pcap: timeout: %w", err)
	}

	h, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("pcap: activate %s: %w", spec.Interface, err)
	}
	if spec.Filter != "" {
		if err := h.SetBPFFilter(spec.Filter); err != nil {
			h.Close()
			return nil, fmt.Errorf("pcap: bpf filter %q: %w", spec.Filter, err)
		}
	}
	return &pcapHandle{Handle: h}, nil
}

type pcapHandle struct {
	*pcap.Handle
}

func (h *pcapHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := h.Handle.ReadPacketData()
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return nil, ci, ErrReadTimeout
	}
	return data, ci, err
}

func (h *pcapHandle) Stats() (Stats, error) {
	st, err := h.Handle.Stats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		PacketsReceived:  st.PacketsReceived,
		PacketsDropped:   st.PacketsDropped,
		PacketsIfDropped: st.PacketsIfDropped,
	}, nil
}

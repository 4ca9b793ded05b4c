// Package discover finds peers on the local network with a tiny UDP
// broadcast exchange: "DISCOVER:<device-id>" out, "RESPOND:<device-id>"
// back. It yields candidate addresses only; the session handshake decides
// whether a candidate is actually a peer.
package discover

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/quillsync/quill/internal/syncerr"
)

const (
	discoverPrefix = "DISCOVER:"
	respondPrefix  = "RESPOND:"

	// DefaultPort is the UDP port discovery exchanges use.
	DefaultPort = 41414

	maxDatagram = 512
)

// Found is one discovery response.
type Found struct {
	DeviceID string
	Addr     *net.UDPAddr
}

// Respond answers discovery probes with this device's id until ctx is
// cancelled. Probes carrying our own id are ignored so a device never
// discovers itself.
func Respond(ctx context.Context, deviceID string, port int, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	pc, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return syncerr.Wrap(syncerr.KindNetwork, err, "listen udp :%d", port)
	}
	defer pc.Close()

	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	log.Info("discovery responder up", "port", port)
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := pc.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return syncerr.Wrap(syncerr.KindNetwork, err, "read discovery probe")
		}

		msg := string(buf[:n])
		sender, ok := strings.CutPrefix(msg, discoverPrefix)
		if !ok || sender == deviceID {
			continue
		}
		if _, err := pc.WriteToUDP([]byte(respondPrefix+deviceID), from); err != nil {
			log.Debug("discovery respond failed", "to", from.String(), "error", err)
		}
	}
}

// Probe broadcasts one discovery probe and collects responses until the wait
// elapses.
func Probe(deviceID string, port int, wait time.Duration) ([]Found, error) {
	pc, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindNetwork, err, "open probe socket")
	}
	defer pc.Close()

	if err := enableBroadcast(pc); err != nil {
		return nil, syncerr.Wrap(syncerr.KindNetwork, err, "enable broadcast")
	}
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: port}
	if _, err := pc.WriteToUDP([]byte(discoverPrefix+deviceID), dst); err != nil {
		return nil, syncerr.Wrap(syncerr.KindNetwork, err, "broadcast probe")
	}

	_ = pc.SetReadDeadline(time.Now().Add(wait))
	var found []Found
	buf := make([]byte, maxDatagram)
	seen := make(map[string]bool)
	for {
		n, from, err := pc.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return found, nil
			}
			return found, syncerr.Wrap(syncerr.KindNetwork, err, "read discovery response")
		}

		id, ok := strings.CutPrefix(string(buf[:n]), respondPrefix)
		if !ok || id == deviceID || seen[id] {
			continue
		}
		seen[id] = true
		found = append(found, Found{DeviceID: id, Addr: from})
	}
}

// ProbeAddr sends a discovery probe to one specific host instead of the
// broadcast address.
func ProbeAddr(deviceID, host string, port int, wait time.Duration) ([]Found, error) {
	pc, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindNetwork, err, "open probe socket")
	}
	defer pc.Close()

	ip := net.ParseIP(host)
	if ip == nil {
		return nil, syncerr.New(syncerr.KindNetwork, "bad probe host %q", host)
	}
	if _, err := pc.WriteToUDP([]byte(discoverPrefix+deviceID), &net.UDPAddr{IP: ip, Port: port}); err != nil {
		return nil, syncerr.Wrap(syncerr.KindNetwork, err, "probe %s", host)
	}

	_ = pc.SetReadDeadline(time.Now().Add(wait))
	var found []Found
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := pc.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return found, nil
			}
			return found, syncerr.Wrap(syncerr.KindNetwork, err, "read discovery response")
		}
		if id, ok := strings.CutPrefix(string(buf[:n]), respondPrefix); ok && id != deviceID {
			found = append(found, Found{DeviceID: id, Addr: from})
		}
	}
}

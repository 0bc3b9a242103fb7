/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package transport is the engine's network abstraction: event/general
// UDP sockets with HW/SW timestamping, DSCP marking, multicast group
// join (groups are never left explicitly), and an inbound ACL. A Transport here is a single pair of
// sockets read by one thin reader goroutine that only copies bytes and
// timestamps, leaving all protocol work to ptp/engine's main loop.
package transport

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/ptpdaemon/ptpd/dscp"
	"github.com/ptpdaemon/ptpd/timestamp"
)

// DefaultMulticastIPv4 is the primary PTP multicast address, Table 1 of
// IEEE 1588-2008.
const DefaultMulticastIPv4 = "224.0.1.129"

// Mode selects how a port exchanges event/general messages.
type Mode uint8

// Transport modes, §6.
const (
	ModeMulticast Mode = iota
	ModeUnicast
	ModeHybrid
)

// Inbound is one received datagram plus its capture metadata.
type Inbound struct {
	Data      []byte
	Src       netip.Addr
	Timestamp time.Time
	// IsEvent is true for datagrams read off the event socket (port 319),
	// which always carry an rx timestamp.
	IsEvent bool
}

// ACL filters inbound datagrams by source address. A nil ACL accepts
// everything.
type ACL struct {
	allow map[string]bool
	deny  map[string]bool
}

// NewACL builds an ACL from allow/deny address lists. Deny takes priority
// over allow; an address absent from both lists is permitted only if
// allow is empty (default-permit) or denied only if deny explicitly lists
// it.
func NewACL(allow, deny []string) *ACL {
	a := &ACL{allow: map[string]bool{}, deny: map[string]bool{}}
	for _, s := range allow {
		a.allow[s] = true
	}
	for _, s := range deny {
		a.deny[s] = true
	}
	return a
}

// Permit reports whether src is allowed in.
func (a *ACL) Permit(src netip.Addr) bool {
	if a == nil {
		return true
	}
	s := src.String()
	if a.deny[s] {
		return false
	}
	if len(a.allow) == 0 {
		return true
	}
	return a.allow[s]
}

// Config configures one Transport.
type Config struct {
	IP        net.IP
	Interface string
	DSCP      int
	Timestamping timestamp.Timestamp
	Mode      Mode
	ACL       *ACL
}

// Transport owns the event (319) and general (320) sockets for one port.
type Transport struct {
	cfg Config

	mu        sync.Mutex
	eventFD   int
	generalFD int
	iface     *net.Interface

	discarded uint64
}

// PortEvent and PortGeneral are the well-known PTP UDP ports.
const (
	PortEvent   = 319
	PortGeneral = 320
)

// New creates and binds the event/general sockets per cfg.
func New(cfg Config) (*Transport, error) {
	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("transport: resolving interface %q: %w", cfg.Interface, err)
	}

	eventFD, err := bind(cfg.IP, PortEvent)
	if err != nil {
		return nil, fmt.Errorf("transport: event socket: %w", err)
	}
	if err := dscp.Enable(eventFD, cfg.IP, cfg.DSCP); err != nil {
		return nil, fmt.Errorf("transport: DSCP on event socket: %w", err)
	}
	if err := timestamp.EnableTimestamps(cfg.Timestamping, eventFD, iface); err != nil {
		return nil, fmt.Errorf("transport: enabling timestamps: %w", err)
	}

	generalFD, err := bind(cfg.IP, PortGeneral)
	if err != nil {
		unix.Close(eventFD)
		return nil, fmt.Errorf("transport: general socket: %w", err)
	}
	if err := dscp.Enable(generalFD, cfg.IP, cfg.DSCP); err != nil {
		unix.Close(eventFD)
		unix.Close(generalFD)
		return nil, fmt.Errorf("transport: DSCP on general socket: %w", err)
	}

	t := &Transport{cfg: cfg, eventFD: eventFD, generalFD: generalFD, iface: iface}

	if cfg.Mode != ModeUnicast {
		if err := t.Refresh(); err != nil {
			t.Close()
			return nil, err
		}
	}
	return t, nil
}

func bind(ip net.IP, port int) (int, error) {
	domain := unix.AF_INET6
	if ip.To4() != nil {
		domain = unix.AF_INET
	}
	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, fmt.Errorf("creating socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setting SO_REUSEPORT: %w", err)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setting blocking mode: %w", err)
	}
	if err := unix.Bind(fd, timestamp.IPToSockaddr(ip, port)); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("binding to %v:%d: %w", ip, port, err)
	}
	return fd, nil
}

// Refresh (re)joins the configured multicast groups on both sockets. It
// is safe to call repeatedly - e.g. after a link-state change detected by
// the engine's MASTER_NETREFRESH timer.
func (t *Transport) Refresh() error {
	group := net.ParseIP(DefaultMulticastIPv4)
	if group == nil {
		return fmt.Errorf("transport: invalid multicast group")
	}
	for _, fd := range []int{t.eventFD, t.generalFD} {
		// net.FilePacketConn dups fd internally, so the *os.File and the
		// resulting PacketConn can both be closed independently of the
		// Transport's own socket, which keeps listening.
		f := os.NewFile(uintptr(fd), "ptp-socket")
		conn, err := net.FilePacketConn(f)
		f.Close()
		if err != nil {
			continue
		}
		if t.cfg.IP.To4() != nil {
			p := ipv4.NewPacketConn(conn)
			err = p.JoinGroup(t.iface, &net.UDPAddr{IP: group})
		} else {
			p := ipv6.NewPacketConn(conn)
			err = p.JoinGroup(t.iface, &net.UDPAddr{IP: group})
		}
		conn.Close()
		if err != nil {
			return fmt.Errorf("transport: joining multicast group: %w", err)
		}
	}
	return nil
}

// SendEvent sends b to dst via the event socket and returns the tx
// timestamp.
func (t *Transport) SendEvent(b []byte, dst unix.Sockaddr) (time.Time, error) {
	if err := unix.Sendto(t.eventFD, b, 0, dst); err != nil {
		return time.Time{}, fmt.Errorf("transport: send event: %w", err)
	}
	hwts, _, err := timestamp.ReadTXtimestamp(t.eventFD)
	if err != nil {
		return time.Time{}, fmt.Errorf("transport: reading tx timestamp: %w", err)
	}
	return hwts, nil
}

// SendGeneral sends b to dst via the general socket, with no timestamp
// capture.
func (t *Transport) SendGeneral(b []byte, dst unix.Sockaddr) error {
	if err := unix.Sendto(t.generalFD, b, 0, dst); err != nil {
		return fmt.Errorf("transport: send general: %w", err)
	}
	return nil
}

// SendEventTo is SendEvent addressed by IP, at the well-known event port -
// the form the engine actually wants, since every PTP peer always speaks
// on 319/320.
func (t *Transport) SendEventTo(ip net.IP, b []byte) (time.Time, error) {
	return t.SendEvent(b, timestamp.IPToSockaddr(ip, PortEvent))
}

// SendGeneralTo is SendGeneral addressed by IP, at the well-known general
// port.
func (t *Transport) SendGeneralTo(ip net.IP, b []byte) error {
	return t.SendGeneral(b, timestamp.IPToSockaddr(ip, PortGeneral))
}

// RecvEvent blocks for one inbound event-socket datagram. ACL-denied
// datagrams are dropped and DiscardedCount is incremented; callers should
// loop on RecvEvent.
func (t *Transport) RecvEvent(buf, oob []byte) (*Inbound, error) {
	n, saddr, ts, err := timestamp.ReadPacketWithRXTimestampBuf(t.eventFD, buf, oob)
	if err != nil {
		return nil, err
	}
	src := timestamp.SockaddrToAddr(saddr)
	if !t.cfg.ACL.Permit(src) {
		t.mu.Lock()
		t.discarded++
		t.mu.Unlock()
		return nil, nil
	}
	return &Inbound{Data: append([]byte(nil), buf[:n]...), Src: src, Timestamp: ts, IsEvent: true}, nil
}

// RecvGeneral blocks for one inbound general-socket datagram.
func (t *Transport) RecvGeneral(buf []byte) (*Inbound, error) {
	n, saddr, err := unix.Recvfrom(t.generalFD, buf, 0)
	if err != nil {
		return nil, err
	}
	src := timestamp.SockaddrToAddr(saddr)
	if !t.cfg.ACL.Permit(src) {
		t.mu.Lock()
		t.discarded++
		t.mu.Unlock()
		return nil, nil
	}
	return &Inbound{Data: append([]byte(nil), buf[:n]...), Src: src}, nil
}

// DiscardedCount returns the number of datagrams dropped by the ACL.
func (t *Transport) DiscardedCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.discarded
}

// LocalAddress returns the transport's bound local address.
func (t *Transport) LocalAddress() net.IP { return t.cfg.IP }

// Close releases both sockets.
func (t *Transport) Close() error {
	err1 := unix.Close(t.eventFD)
	err2 := unix.Close(t.generalFD)
	if err1 != nil {
		return err1
	}
	return err2
}

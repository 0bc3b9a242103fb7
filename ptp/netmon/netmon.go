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

// Package netmon watches a port's network interface for the carrier
// and address changes that should make the engine rebind its sockets -
// a cable pull and replug, a renamed interface coming back under the
// same name, or an IP renumbering. It backs the engine's
// MASTER_NETREFRESH timer.
package netmon

import (
	"context"
	"fmt"
	"net"

	"github.com/jsimonetti/rtnetlink"
	"golang.org/x/sys/unix"
)

// State is one observed snapshot of an interface's link and address
// state, cheap to compare for equality so the poller can tell whether
// anything actually changed.
type State struct {
	Index   uint32
	Up      bool
	Running bool
	Addrs   string // first IP bound to the interface, or "" if none
}

// Changed reports whether s and prev differ in any field the engine
// cares about.
func (s State) Changed(prev State) bool {
	return s.Up != prev.Up || s.Running != prev.Running || s.Addrs != prev.Addrs
}

// Watcher polls one interface's link state over rtnetlink.
type Watcher struct {
	iface string
	conn  *rtnetlink.Conn
}

// NewWatcher opens an rtnetlink connection for watching iface.
func NewWatcher(iface string) (*Watcher, error) {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("netmon: dialing rtnetlink: %w", err)
	}
	return &Watcher{iface: iface, conn: conn}, nil
}

// Close releases the underlying rtnetlink socket.
func (w *Watcher) Close() error {
	return w.conn.Close()
}

// Poll reads the current link state for the watched interface.
func (w *Watcher) Poll() (State, error) {
	iface, err := net.InterfaceByName(w.iface)
	if err != nil {
		return State{}, fmt.Errorf("netmon: %s: %w", w.iface, err)
	}

	msg, err := w.conn.Link.Get(uint32(iface.Index))
	if err != nil {
		return State{}, fmt.Errorf("netmon: getting link %s: %w", w.iface, err)
	}

	addr := ""
	if addrs, err := iface.Addrs(); err == nil && len(addrs) > 0 {
		addr = addrs[0].String()
	}

	return State{
		Index:   msg.Index,
		Up:      msg.Flags&unix.IFF_UP != 0,
		Running: msg.Flags&unix.IFF_RUNNING != 0,
		Addrs:   addr,
	}, nil
}

// WatchFunc is called with an observed State: the first one polled, and
// after that only a State that changed from the previous one reported.
type WatchFunc func(State)

// Run polls the interface once per tick (driven externally, by the
// engine's MASTER_NETREFRESH timer) until ctx is canceled, invoking fn
// only when the state actually changes.
func (w *Watcher) Run(ctx context.Context, tick <-chan struct{}, fn WatchFunc) error {
	return w.run(ctx, tick, fn, w.Poll)
}

// run is Run's implementation, taking the poll function as a parameter
// so tests can drive it without a real rtnetlink socket.
func (w *Watcher) run(ctx context.Context, tick <-chan struct{}, fn WatchFunc, poll func() (State, error)) error {
	var prev State
	have := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			cur, err := poll()
			if err != nil {
				continue
			}
			if !have || cur.Changed(prev) {
				fn(cur)
				prev = cur
				have = true
			}
		}
	}
}

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

package netmon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateChangedDetectsEachField(t *testing.T) {
	base := State{Index: 1, Up: true, Running: true, Addrs: "10.0.0.1/24"}

	require.False(t, base.Changed(base))
	require.True(t, base.Changed(State{Index: 1, Up: false, Running: true, Addrs: "10.0.0.1/24"}))
	require.True(t, base.Changed(State{Index: 1, Up: true, Running: false, Addrs: "10.0.0.1/24"}))
	require.True(t, base.Changed(State{Index: 1, Up: true, Running: true, Addrs: "10.0.0.2/24"}))
}

// fakeWatcher drives Run's callback loop without touching a real
// rtnetlink socket.
type fakeWatcher struct {
	states []State
	i      int
}

func (f *fakeWatcher) poll() (State, error) {
	s := f.states[f.i]
	if f.i < len(f.states)-1 {
		f.i++
	}
	return s, nil
}

func TestRunCallsFnOnlyWhenStateChanges(t *testing.T) {
	fw := &fakeWatcher{states: []State{
		{Up: true, Running: true},
		{Up: true, Running: true}, // unchanged - no callback
		{Up: false, Running: true},
	}}

	w := &Watcher{}
	tick := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	var seen []State
	done := make(chan struct{})
	go func() {
		_ = w.run(ctx, tick, func(s State) { seen = append(seen, s) }, fw.poll)
		close(done)
	}()

	tick <- struct{}{}
	tick <- struct{}{}
	tick <- struct{}{}
	cancel()
	<-done

	require.Len(t, seen, 2)
	require.True(t, seen[0].Up)
	require.False(t, seen[1].Up)
}

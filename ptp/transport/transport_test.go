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

package transport

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNilACLPermitsEverything(t *testing.T) {
	var a *ACL
	require.True(t, a.Permit(netip.MustParseAddr("10.0.0.1")))
}

func TestDenyTakesPriorityOverAllow(t *testing.T) {
	a := NewACL([]string{"10.0.0.1"}, []string{"10.0.0.1"})
	require.False(t, a.Permit(netip.MustParseAddr("10.0.0.1")))
}

func TestEmptyAllowIsDefaultPermit(t *testing.T) {
	a := NewACL(nil, []string{"10.0.0.2"})
	require.True(t, a.Permit(netip.MustParseAddr("10.0.0.1")))
	require.False(t, a.Permit(netip.MustParseAddr("10.0.0.2")))
}

func TestNonEmptyAllowIsAllowlist(t *testing.T) {
	a := NewACL([]string{"10.0.0.1"}, nil)
	require.True(t, a.Permit(netip.MustParseAddr("10.0.0.1")))
	require.False(t, a.Permit(netip.MustParseAddr("10.0.0.2")))
}

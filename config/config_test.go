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

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}

func TestLoadRejectsEmptyPortList(t *testing.T) {
	f, err := os.CreateTemp("", "ptpd-config")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	_, err = Load(f.Name())
	require.ErrorContains(t, err, "at least one port")
}

func TestLoadParsesPorts(t *testing.T) {
	f, err := os.CreateTemp("", "ptpd-config")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	_, err = f.WriteString(`
clock_identity: ""
log_level: info
ports:
  - interface: eth0
    domain: 0
    priority1: 100
    delay_mechanism: e2e
  - interface: eth1
    slave_only: true
`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(f.Name())
	require.NoError(t, err)
	require.Len(t, cfg.Ports, 2)
	require.Equal(t, "eth0", cfg.Ports[0].Interface)
	require.Equal(t, uint8(100), cfg.Ports[0].Priority1)
	require.True(t, cfg.Ports[1].SlaveOnly)
}

func TestPortConfigValidateRejectsBadDelayMechanism(t *testing.T) {
	p := PortConfig{Interface: "eth0", DelayMechanism: "bogus"}
	require.Error(t, p.Validate())
}

func TestPortConfigValidateRejectsUnicastNegotiationOverMulticast(t *testing.T) {
	p := PortConfig{Interface: "eth0", TransportMode: "multicast", UnicastNegotiation: true}
	require.ErrorContains(t, p.Validate(), "unicast_negotiation")
}

func TestPortConfigValidateRejectsBadDSCP(t *testing.T) {
	p := PortConfig{Interface: "eth0", DSCP: 64}
	require.Error(t, p.Validate())
}

func TestPortConfigValidateRejectsSlaveOnlyWithUnicastSlaves(t *testing.T) {
	p := PortConfig{Interface: "eth0", SlaveOnly: true, UnicastSlaves: []UnicastPeerConfig{{Address: "10.0.0.1"}}}
	require.Error(t, p.Validate())
}

func TestEngineConfigAppliesOverrides(t *testing.T) {
	p := PortConfig{
		Interface:       "eth0",
		Priority1:       10,
		DelayMechanism:  "p2p",
		TransportMode:   "unicast",
		MaxFreqPPB:      1000,
		SlaveOnly:       true,
	}
	cfg := p.EngineConfig(0xAABB, nil)
	require.Equal(t, uint8(10), cfg.Priority1)
	require.Equal(t, 1000.0, cfg.MaxFreqPPB)
	require.True(t, cfg.SlaveOnly)
}

func TestTransportConfigDefaultsToStandardMulticastAddress(t *testing.T) {
	p := PortConfig{Interface: "eth0"}
	tc := p.TransportConfig()
	require.Equal(t, "224.0.1.129", tc.IP.String())
}

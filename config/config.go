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

// Package config reads and validates the YAML configuration file that
// drives the daemon: which ports to run, their clock identity and
// BMCA priorities, delay mechanism, and unicast negotiation peers.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ptpdaemon/ptpd/ptp/bmca"
	"github.com/ptpdaemon/ptpd/ptp/datasets"
	"github.com/ptpdaemon/ptpd/ptp/engine"
	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
	"github.com/ptpdaemon/ptpd/ptp/transport"
	"github.com/ptpdaemon/ptpd/timestamp"

	yaml "gopkg.in/yaml.v2"
)

// UnicastPeerConfig is one statically configured unicast peer entry in
// the YAML file.
type UnicastPeerConfig struct {
	Address    string `yaml:"address"`
	ClockID    string `yaml:"clock_identity"`
	PortNumber uint16 `yaml:"port_number"`
	LocalPref  int    `yaml:"local_preference"`
}

// PortConfig is the YAML shape of one port's configuration.
type PortConfig struct {
	Interface string `yaml:"interface"`
	Domain    uint8  `yaml:"domain"`
	Priority1 uint8  `yaml:"priority1"`
	Priority2 uint8  `yaml:"priority2"`
	SlaveOnly bool   `yaml:"slave_only"`

	DelayMechanism string `yaml:"delay_mechanism"` // "e2e" or "p2p"

	LogAnnounceInterval     int8  `yaml:"log_announce_interval"`
	AnnounceReceiptTimeout  uint8 `yaml:"announce_receipt_timeout"`
	LogSyncInterval         int8  `yaml:"log_sync_interval"`
	LogMinDelayReqInterval  int8  `yaml:"log_min_delay_req_interval"`
	LogMinPdelayReqInterval int8  `yaml:"log_min_pdelay_req_interval"`

	TransportMode      string              `yaml:"transport_mode"` // "multicast", "unicast", "hybrid"
	UnicastNegotiation bool                `yaml:"unicast_negotiation"`
	UnicastMasters     []UnicastPeerConfig `yaml:"unicast_masters"`
	UnicastSlaves      []UnicastPeerConfig `yaml:"unicast_slaves"`

	MulticastIP   string   `yaml:"multicast_ip"`
	ACLAllow      []string `yaml:"acl_allow"`
	ACLDeny       []string `yaml:"acl_deny"`
	DSCP          int      `yaml:"dscp"`
	SoftwareStamp bool     `yaml:"software_timestamp"`

	MaxFreqPPB float64 `yaml:"max_freq_ppb"`
}

// Config is the top-level daemon configuration, read from a single
// YAML file.
type Config struct {
	ClockIdentity string `yaml:"clock_identity"` // "" means derive from the first port's interface MAC
	LogLevel      string `yaml:"log_level"`

	MetricsListenAddr string        `yaml:"metrics_listen_addr"`
	MetricInterval    time.Duration `yaml:"metric_interval"`

	ManagementSocket string `yaml:"management_socket"`

	Ports []PortConfig `yaml:"ports"`
}

// Load reads and validates a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &c, nil
}

// Write serializes c back to path, supporting a YAML round-trip for
// tools that read, adjust, and rewrite the configuration file.
func (c *Config) Write(path string) error {
	d, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, d, 0644)
}

// Validate checks the configuration is internally consistent before
// any port is started.
func (c *Config) Validate() error {
	if len(c.Ports) == 0 {
		return fmt.Errorf("at least one port must be configured")
	}
	for i := range c.Ports {
		if err := c.Ports[i].Validate(); err != nil {
			return fmt.Errorf("port %d (%s): %w", i, c.Ports[i].Interface, err)
		}
	}
	return nil
}

// Validate checks one port's YAML configuration for sane values.
func (p *PortConfig) Validate() error {
	if p.Interface == "" {
		return fmt.Errorf("interface must be set")
	}
	switch p.DelayMechanism {
	case "", "e2e", "p2p":
	default:
		return fmt.Errorf("delay_mechanism must be %q or %q", "e2e", "p2p")
	}
	switch p.TransportMode {
	case "", "multicast", "unicast", "hybrid":
	default:
		return fmt.Errorf("transport_mode must be %q, %q or %q", "multicast", "unicast", "hybrid")
	}
	if p.UnicastNegotiation && p.TransportMode == "multicast" {
		return fmt.Errorf("unicast_negotiation requires transport_mode unicast or hybrid")
	}
	if p.DSCP < 0 || p.DSCP > 63 {
		return fmt.Errorf("dscp must be between 0 and 63")
	}
	if p.SlaveOnly && len(p.UnicastSlaves) > 0 {
		return fmt.Errorf("a slave_only port cannot serve unicast slaves")
	}
	return nil
}

// delayMechanism maps the YAML string to the datasets enum.
func (p *PortConfig) delayMechanism() datasets.DelayMechanism {
	if p.DelayMechanism == "p2p" {
		return datasets.DelayMechanismP2P
	}
	return datasets.DelayMechanismE2E
}

// transportMode maps the YAML string to the transport enum.
func (p *PortConfig) transportMode() transport.Mode {
	switch p.TransportMode {
	case "unicast":
		return transport.ModeUnicast
	case "hybrid":
		return transport.ModeHybrid
	default:
		return transport.ModeMulticast
	}
}

// EngineConfig builds the engine.Config this port entry describes,
// filling in daemon-wide defaults where the YAML left a field zero.
func (p *PortConfig) EngineConfig(id ptp.ClockIdentity, localPrefs bmca.LocalPreferences) engine.Config {
	cfg := engine.DefaultConfig(id)
	cfg.Domain = p.Domain
	if p.Priority1 != 0 {
		cfg.Priority1 = p.Priority1
	}
	if p.Priority2 != 0 {
		cfg.Priority2 = p.Priority2
	}
	cfg.SlaveOnly = p.SlaveOnly
	cfg.DelayMechanism = p.delayMechanism()
	if p.LogAnnounceInterval != 0 {
		cfg.LogAnnounceInterval = ptp.LogInterval(p.LogAnnounceInterval)
	}
	if p.AnnounceReceiptTimeout != 0 {
		cfg.AnnounceReceiptTimeout = p.AnnounceReceiptTimeout
	}
	cfg.LogSyncInterval = ptp.LogInterval(p.LogSyncInterval)
	cfg.LogMinDelayReqInterval = ptp.LogInterval(p.LogMinDelayReqInterval)
	cfg.LogMinPdelayReqInterval = ptp.LogInterval(p.LogMinPdelayReqInterval)
	cfg.TransportMode = p.transportMode()
	cfg.UnicastNegotiation = p.UnicastNegotiation
	if p.MaxFreqPPB != 0 {
		cfg.MaxFreqPPB = p.MaxFreqPPB
	}
	cfg.LocalPreferences = localPrefs
	for _, u := range p.UnicastMasters {
		cfg.UnicastMasters = append(cfg.UnicastMasters, toUnicastPeer(u))
	}
	for _, u := range p.UnicastSlaves {
		cfg.UnicastSlaves = append(cfg.UnicastSlaves, toUnicastPeer(u))
	}
	return cfg
}

func toUnicastPeer(u UnicastPeerConfig) engine.UnicastPeer {
	var id ptp.ClockIdentity
	fmt.Sscanf(u.ClockID, "%x", (*uint64)(&id))
	return engine.UnicastPeer{
		Address: u.Address,
		Port:    ptp.PortIdentity{ClockIdentity: id, PortNumber: u.PortNumber},
	}
}

// TransportConfig builds the transport.Config this port entry
// describes.
func (p *PortConfig) TransportConfig() transport.Config {
	ipStr := p.MulticastIP
	if ipStr == "" {
		ipStr = transport.DefaultMulticastIPv4
	}
	ts := timestamp.HW
	if p.SoftwareStamp {
		ts = timestamp.SW
	}
	return transport.Config{
		IP:           net.ParseIP(ipStr),
		Interface:    p.Interface,
		DSCP:         p.DSCP,
		Timestamping: ts,
		Mode:         p.transportMode(),
		ACL:          transport.NewACL(p.ACLAllow, p.ACLDeny),
	}
}

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

// Package dscp sets the DSCP/Traffic Class value on raw sockets so PTP
// traffic can be prioritized by network QoS policy.
package dscp

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Enable sets the DSCP value on a socket identified by fd. The IP
// determines whether the IPv4 TOS or IPv6 traffic class field is used.
// dscpValue is the 6-bit DSCP codepoint; it is shifted into the high
// bits of the 8-bit TOS/TCLASS field as required by RFC 2474.
func Enable(fd int, ip net.IP, dscpValue int) error {
	if dscpValue < 0 || dscpValue > 63 {
		return fmt.Errorf("invalid DSCP value %d, must be in [0, 63]", dscpValue)
	}
	tos := dscpValue << 2

	if ip.To4() != nil {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
			return fmt.Errorf("setting IP_TOS: %w", err)
		}
		return nil
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos); err != nil {
		return fmt.Errorf("setting IPV6_TCLASS: %w", err)
	}
	return nil
}

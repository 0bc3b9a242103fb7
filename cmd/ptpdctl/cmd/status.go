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

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ptpdaemon/ptpd/metrics"
	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
)

var statusDumpFlag bool

func init() {
	statusCmd.Flags().BoolVarP(&statusDumpFlag, "dump", "d", false, "Dump the full data set of every port instead of the summary table")
	RootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state, offset and path delay of every running port",
	RunE: func(_ *cobra.Command, _ []string) error {
		ConfigureVerbosity()
		snaps, err := fetchStatus(rootAddrFlag)
		if err != nil {
			return fmt.Errorf("fetching status from %s: %w", rootAddrFlag, err)
		}
		if statusDumpFlag {
			for _, s := range snaps {
				spew.Printf("%s:\n", s.Name)
				spew.Dump(s.DS)
			}
			return nil
		}
		printStatus(snaps)
		return nil
	},
}

// fetchStatus pulls the current port snapshots from a running ptpd's
// /status endpoint, mirroring sptp/stats's FetchCounters HTTP pull.
func fetchStatus(addr string) ([]metrics.PortSnapshot, error) {
	url := fmt.Sprintf("http://%s/status", addr)
	c := http.Client{Timeout: 2 * time.Second}

	resp, err := c.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var snaps []metrics.PortSnapshot
	if err := json.Unmarshal(b, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

func printStatus(snaps []metrics.PortSnapshot) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"port", "state", "offset(ns)", "path delay(ns)", "seq errors"})
	for _, s := range snaps {
		table.Append([]string{
			s.Name,
			colorizeState(s.DS.Port.PortState),
			fmt.Sprintf("%d", s.DS.Current.OffsetFromMaster.Duration().Nanoseconds()),
			fmt.Sprintf("%d", s.DS.Current.MeanPathDelay.Duration().Nanoseconds()),
			fmt.Sprintf("%d", s.Counters.SequenceMismatchErrors),
		})
	}
	table.Render()
}

// colorizeState renders a port's state the way ptp/simpleclient colors its
// message trace: green for a synchronized role, yellow while still
// negotiating one, red when the port needs operator attention.
func colorizeState(s ptp.PortState) string {
	switch s {
	case ptp.PortStateMaster, ptp.PortStateSlave:
		return color.GreenString(s.String())
	case ptp.PortStateListening, ptp.PortStatePreMaster, ptp.PortStateUncalibrated, ptp.PortStatePassive:
		return color.YellowString(s.String())
	case ptp.PortStateFaulty, ptp.PortStateDisabled:
		return color.RedString(s.String())
	default:
		return s.String()
	}
}

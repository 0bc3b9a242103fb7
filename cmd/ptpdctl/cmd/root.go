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
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is ptpdctl's entry point, exported so it could be extended
// without touching core functionality.
var RootCmd = &cobra.Command{
	Use:   "ptpdctl",
	Short: "Inspect and control a running ptpd",
}

var rootVerboseFlag bool
var rootAddrFlag string

const rootAddrFlagDesc = "host:port of the ptpd metrics/status endpoint to query"

func init() {
	RootCmd.PersistentFlags().BoolVarP(&rootVerboseFlag, "verbose", "v", false, "verbose output")
	RootCmd.PersistentFlags().StringVarP(&rootAddrFlag, "addr", "A", "localhost:8888", rootAddrFlagDesc)
}

// ConfigureVerbosity sets log verbosity from parsed flags. Every
// subcommand must call this before doing any work.
func ConfigureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if rootVerboseFlag {
		log.SetLevel(log.DebugLevel)
	}
}

// Execute is ptpdctl's main entry point.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

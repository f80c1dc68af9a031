// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo/drivers/ocp1/ocp1"
)

const version = "1.0.0"

var (
	cfgFile       string
	host          string
	port          int
	timeout       time.Duration
	retryInterval time.Duration
	keepAlive     time.Duration
	useWebSocket  bool
	catalogFile   string
	captureFile   string
	outputFmt     string
	verbose       bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "edgeo-ocp1",
	Short: "An AES70 / OCP.1 client CLI",
	Long: `edgeo-ocp1 talks to AES70 devices over OCP.1, such as the d&b DS100
signal engine.

Objects are addressed by catalog name (see 'edgeo-ocp1 catalog') or by raw
object number. The built-in catalog covers the DS100; more objects can be
loaded from a YAML or TOML file with --catalog.

Examples:
  # Find devices on the local network
  edgeo-ocp1 discover

  # Read the gain of matrix input 1
  edgeo-ocp1 get -H 10.0.0.20 -O matrix-input-gain-1

  # Mute matrix output 3
  edgeo-ocp1 set -H 10.0.0.20 -O matrix-output-mute-3 -V 1

  # Follow a sound object position
  edgeo-ocp1 watch -H 10.0.0.20 -O source-position-1`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose = viper.GetBool("verbose")
		logLevel := slog.LevelInfo
		if verbose {
			logLevel = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))

		// values from the config file or environment fill unset flags
		host = viper.GetString("host")
		port = viper.GetInt("port")
		timeout = viper.GetDuration("timeout")
		retryInterval = viper.GetDuration("retry-interval")
		keepAlive = viper.GetDuration("keepalive")
		useWebSocket = viper.GetBool("websocket")
		catalogFile = viper.GetString("catalog")
		captureFile = viper.GetString("capture")
		outputFmt = viper.GetString("output")
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.edgeo-ocp1.yaml)")
	flags.StringVarP(&host, "host", "H", "", "Device address")
	flags.IntVarP(&port, "port", "p", ocp1.DefaultPort, "OCP.1 port")
	flags.DurationVarP(&timeout, "timeout", "t", 3*time.Second, "Connect and request timeout")
	flags.DurationVar(&retryInterval, "retry-interval", time.Second, "Delay between connection attempts")
	flags.DurationVar(&keepAlive, "keepalive", 0, "KeepAlive interval (0 disables)")
	flags.BoolVar(&useWebSocket, "websocket", false, "Carry OCP.1 over WebSocket")
	flags.StringVar(&catalogFile, "catalog", "", "Extra object catalog (YAML or TOML)")
	flags.StringVar(&captureFile, "capture", "", "Record every frame to this capture file")
	flags.StringVarP(&outputFmt, "output", "o", "table", "Output format (table, json, csv, raw)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	for _, name := range []string{"host", "port", "timeout", "retry-interval", "keepalive", "websocket", "catalog", "capture", "output", "verbose"} {
		viper.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(interactiveCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".edgeo-ocp1")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("OCP1")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("edgeo-ocp1 version %s (OCP.1 protocol version %d)\n", version, ocp1.ProtocolVersion)
	},
}

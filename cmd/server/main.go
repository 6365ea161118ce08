package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Ndahiroloicke/Transcripto/internal/capture"
	"github.com/Ndahiroloicke/Transcripto/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "transcripto"
	serviceVersion    = "1.0.0"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Live microphone transcription service",
	Long: `Captures audio from a local input device, cuts it into fixed-duration chunks,
sends each chunk to a speech-to-text engine and streams the transcript to
connected clients over HTTP and WebSocket.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the transcription service",
	RunE:  runServe,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio capture devices",
	RunE:  runDevices,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devicesCmd)
	server.Version = serviceVersion
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDevices(cmd *cobra.Command, args []string) error {
	devices, err := capture.ListDevices()
	if err != nil {
		return fmt.Errorf("failed to list capture devices: %w", err)
	}

	if len(devices) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No capture devices found.")
		return nil
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Index", "ID", "Name", "Channels"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, d := range devices {
		table.Append([]string{
			fmt.Sprintf("%d", d.Index),
			d.ID,
			d.Name,
			fmt.Sprintf("%d", d.Channels),
		})
	}

	table.Render()
	return nil
}

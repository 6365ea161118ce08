// Command stubengine serves fake transcription and diarization endpoints for
// running the service without a speech model.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	var opts stubOptions
	var address string

	cmd := &cobra.Command{
		Use:          "stubengine",
		Short:        "Fake OpenAI-compatible transcription and diarization server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
			s := newStub(opts, logger)

			mux := http.NewServeMux()
			s.routes(mux)

			logger.Info("Stub engine starting",
				slog.String("address", address),
				slog.String("transcriptions", "http://"+address+"/v1/audio/transcriptions"),
				slog.String("diarization", "http://"+address+"/diarize"),
			)
			return http.ListenAndServe(address, mux)
		},
	}

	cmd.Flags().StringVar(&address, "address", "localhost:8000", "Listen address")
	cmd.Flags().StringVar(&opts.Text, "text", "This is a test transcription", "Text returned for every chunk")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 200*time.Millisecond, "Simulated processing time")
	cmd.Flags().IntVar(&opts.Speakers, "speakers", 2, "Number of speakers to rotate through")
	cmd.Flags().IntVar(&opts.FailEvery, "fail-every", 0, "Answer every Nth transcription with a 503 (0 disables)")
	cmd.Flags().IntVar(&opts.SilentEvery, "silent-every", 0, "Answer every Nth transcription with empty text (0 disables)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"speech-capture-service/internal/app"
	"speech-capture-service/internal/service/session"
)

type recordLine struct {
	Final      bool    `json:"final"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	AudioPath  string  `json:"audioPath,omitempty"`
	Error      string  `json:"error,omitempty"`
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one session from the configured device and print transcripts as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		partials, _ := cmd.Flags().GetBool("partials")
		language, _ := cmd.Flags().GetString("language")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		application := app.New(cfg)
		if err := application.Start(ctx); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			application.Shutdown(shutdownCtx)
		}()

		out := json.NewEncoder(cmd.OutOrStdout())
		var failure error
		completion := func(res session.TranscriptResult, err error) {
			line := recordLine{Final: res.IsFinal, Text: res.Text, Confidence: res.Confidence, AudioPath: res.AudioPath}
			if err != nil {
				failure = err
				line.Final = true
				line.Error = err.Error()
			}
			_ = out.Encode(line)
		}

		s, err := application.Controller.Start(ctx, completion,
			session.WithPartialResults(partials),
			session.WithLanguage(language))
		if err != nil {
			return err
		}

		var limit <-chan time.Time
		if duration > 0 {
			timer := time.NewTimer(duration)
			defer timer.Stop()
			limit = timer.C
		}

		select {
		case <-s.Done():
		case <-limit:
			s.Stop()
		case <-ctx.Done():
			s.Stop()
		}
		<-s.Done()
		return failure
	},
}

func init() {
	recordCmd.Flags().Duration("duration", 10*time.Second, "stop automatically after this long; 0 records until interrupted")
	recordCmd.Flags().Bool("partials", true, "print partial transcripts")
	recordCmd.Flags().String("language", "", "recognition language, defaults to the configured one")
}

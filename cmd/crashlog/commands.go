package main

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vk-rv/crashlog/internal/crashlog"
	"github.com/vk-rv/crashlog/internal/svc/notify"
)

// testExceptionClass names the exception sent by the test command.
const testExceptionClass = "CrashLogTestException"

var (
	errAnnounceFailed = errors.New("announce failed")
	errNotDelivered   = errors.New("test event was not delivered")
)

func newAnnounceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "announce",
		Short: "Check the api key by announcing the application to CrashLog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.service.ReportForDuty(cmd.Context()) {
				return errAnnounceFailed
			}
			return nil
		},
	}
}

func newTestCmd(a *app) *cobra.Command {
	var ignoreAware bool

	cmd := &cobra.Command{
		Use:   "test [message]",
		Short: "Send a test exception to CrashLog",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			message := "Test exception sent from the crashlog command line"
			if len(args) > 0 {
				message = strings.Join(args, " ")
			}

			exc := crashlog.NewException(testExceptionClass, message)
			outcome := a.service.Deliver(cmd.Context(), &notify.Request{
				Err: exc,
				Data: crashlog.Data{
					Extra: map[string]any{"source": "cli", "version": version},
				},
				HonorIgnored: ignoreAware,
			})

			a.logger.Info("test event finished", "outcome", outcome.String())
			if outcome != crashlog.OutcomeDelivered {
				return fmt.Errorf("%w: %s", errNotDelivered, outcome)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&ignoreAware, "honor-ignored", false, "Skip the event when its class is ignored")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crashlog version %s\n", version)
			fmt.Printf("  Notifier: %s/%s\n", crashlog.NotifierName, crashlog.NotifierVersion)
			fmt.Printf("  Go:       %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

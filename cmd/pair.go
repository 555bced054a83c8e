package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wabridge/pkg/bus"
	"wabridge/pkg/gateway"
	"wabridge/pkg/session"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var pairTimeout time.Duration

var errPairingTimeout = errors.New("timed out waiting for pairing")

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Link this bridge to a WhatsApp account",
	Long:  "Opens the device store and, if no account is linked yet, prints each pairing code as a terminal QR until the phone scans one, then exits once the session is open. An already linked store is reported and left untouched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args
		cmd.SilenceUsage = true

		cfg, log, err := loadRuntime("cmd.pair")
		if err != nil {
			return err
		}
		cfg.WhatsApp.PrintQR = true

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mb := bus.NewMessageBus(cfg.Dispatch.QueueSize)
		defer mb.Close()

		manager, closeStore, err := gateway.OpenSession(ctx, cfg, mb, os.Stdout, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeStore(); err != nil {
				log.Warn("Failed to close device store", "error", err)
			}
		}()

		events, unsubscribe := mb.SubscribeEvents(ctx, 16)
		defer unsubscribe()

		alreadyPaired, err := pairSession(ctx, manager, events, pairTimeout)
		if err != nil {
			return err
		}

		message := "✅ Paired. Start the bridge with `wabridge serve`."
		if alreadyPaired {
			message = "✅ Already paired. Start the bridge with `wabridge serve`, or clear the device store to link another account."
		}
		_, _ = color.New(color.FgGreen, color.Bold).Fprintln(os.Stdout, message)
		return nil
	},
}

type pairingSession interface {
	gateway.Runner
	Paired(ctx context.Context) (bool, error)
}

// pairSession skips pairing when the store already holds a linked identity.
func pairSession(ctx context.Context, sess pairingSession, events <-chan bus.Event, timeout time.Duration) (bool, error) {
	paired, err := sess.Paired(ctx)
	if err != nil {
		return false, fmt.Errorf("check stored credentials: %w", err)
	}
	if paired {
		return true, nil
	}
	return false, waitForPairing(ctx, sess, events, timeout)
}

func init() {
	rootCmd.AddCommand(pairCmd)
	pairCmd.Flags().DurationVar(&pairTimeout, "timeout", 3*time.Minute, "how long to wait for the phone to scan a code")
}

// waitForPairing runs the session until it reports OPEN, then stops it. It
// fails if the session ends first, is logged out, or timeout passes.
func waitForPairing(ctx context.Context, sess gateway.Runner, events <-chan bus.Event, timeout time.Duration) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Run(runCtx)
	}()

	stopSession := func(result error) error {
		cancel()
		<-errCh
		return result
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return stopSession(ctx.Err())
		case <-deadline:
			return stopSession(errPairingTimeout)
		case err := <-errCh:
			if err == nil {
				err = errors.New("session stopped before pairing completed")
			}
			return fmt.Errorf("pairing failed: %w", err)
		case event, ok := <-events:
			if !ok {
				return stopSession(errors.New("event stream closed before pairing completed"))
			}
			if event.Type != bus.EventSessionState {
				continue
			}
			switch session.State(event.Payload["state"]) {
			case session.StateOpen:
				return stopSession(nil)
			case session.StateLoggedOut:
				return stopSession(fmt.Errorf("pairing failed: %w", session.ErrLoggedOut))
			}
		}
	}
}

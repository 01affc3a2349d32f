package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"devlink/cmd"
	"devlink/internal/events"
	"devlink/internal/logging"
	"devlink/internal/util"
)

func main() {
	log, f, err := logging.OpenFile(".", os.Getenv("DEVLINK_DEBUG") != "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	cmd.SetLogger(log)

	// Capture original terminal state (if stdin is a TTY) so we can restore on forced exit.
	var origState *term.State
	if term.IsTerminal(int(os.Stdin.Fd())) {
		if st, err := term.GetState(int(os.Stdin.Fd())); err == nil {
			origState = st
		}
	}

	forceExit := func(code int) {
		if origState != nil {
			_ = term.Restore(int(os.Stdin.Fd()), origState)
		}
		os.Exit(code)
	}

	// Context used to issue graceful cancellation to command tree.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	done := make(chan struct{})
	shutdown := make(chan struct{})
	var shutdownOnce sync.Once

	if err := events.AppBus.Subscribe(events.EventShutdownRequested, func(reason string) {
		shutdownOnce.Do(func() {
			log.Info().Str("reason", reason).Msg("shutdown requested")
			cancel()
			close(shutdown)
		})
	}); err != nil {
		log.Error().Err(err).Msg("subscribe shutdown")
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case sig := <-sigs:
			events.AppBus.Publish(events.EventShutdownRequested, sig.String())
		case <-done:
		}
	}()

	exitCode := 0
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := cmd.ExecuteContext(ctx); err != nil {
			log.Error().Err(err).Msg("command failed")
			exitCode = 1
		}
		close(done)
	}()

waitLoop:
	for {
		select {
		case <-shutdown:
			select {
			case <-done:
				log.Info().Msg("exited cleanly after shutdown request")
				break waitLoop
			case <-time.After(5 * time.Second):
				log.Warn().Msg("timeout waiting for command after shutdown request, forcing exit")
				forceExit(1)
			}
		case <-done:
			util.Default.ClearLine()
			break waitLoop
		}
	}

	wg.Wait()

	if origState != nil {
		_ = term.Restore(int(os.Stdin.Fd()), origState)
	}
	if exitCode != 0 {
		f.Close()
		os.Exit(exitCode)
	}
}

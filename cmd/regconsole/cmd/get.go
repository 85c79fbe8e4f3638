package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/regconsole/events"
)

var (
	getUsername string
	getPassword string
	getWait     time.Duration
)

type getResult struct {
	resp *http.Response
	err  error
}

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "GET a registry resource, logging in when the registry asks for it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := url.Parse(strings.TrimPrefix(args[0], "/"))
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
		target := cfg.Registry().ResolveReference(ref)

		store, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		bus := events.NewBus(logger)
		transport := newTransport(store, bus)
		defer transport.Close()

		// Listeners must not block; the login itself happens below.
		required := make(chan struct{}, 1)
		unsubscribe := bus.Subscribe(events.LoginRequired, func() {
			select {
			case required <- struct{}{}:
			default:
			}
		})
		defer unsubscribe()

		ctx, cancel := context.WithTimeout(cmd.Context(), getWait)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return err
		}

		results := make(chan getResult, 1)
		go func() {
			resp, err := transport.Client().Do(req)
			results <- getResult{resp: resp, err: err}
		}()

		logins := 0
		for {
			select {
			case r := <-results:
				if r.err != nil {
					if errors.Is(r.err, context.DeadlineExceeded) {
						return fmt.Errorf("no response within %s", getWait)
					}
					return r.err
				}
				return printResponse(cmd, r.resp)
			case <-required:
				if getUsername == "" {
					cancel()
					<-results
					return errors.New("registry requires login: pass --username/--password or run regconsole login")
				}
				if logins > 0 {
					cancel()
					<-results
					return fmt.Errorf("registry rejected credentials for %s", getUsername)
				}
				logins++
				if err := store.SetCredentials(getUsername, getPassword); err != nil {
					cancel()
					<-results
					return err
				}
				transport.LoginConfirmed()
			}
		}
	},
}

func printResponse(cmd *cobra.Command, resp *http.Response) error {
	defer resp.Body.Close()
	fmt.Fprintln(cmd.ErrOrStderr(), resp.Status)
	if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("registry answered %s", resp.Status)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringVarP(&getUsername, "username", "u", "", "Username used if the registry asks for a login")
	getCmd.Flags().StringVar(&getPassword, "password", "", "Password used if the registry asks for a login")
	getCmd.Flags().DurationVar(&getWait, "wait", 30*time.Second, "How long to wait for the response")
}

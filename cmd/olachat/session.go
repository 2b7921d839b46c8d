package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or replace the persisted chat session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the persisted session id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				sid := a.client.SessionID()
				if sid == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "(none)")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), sid)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Delete the current session and create a fresh one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				sid, err := a.client.StartNewChat(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), sid)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Delete the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				if !a.client.DeleteSession(cmd.Context()) {
					return errors.New("session delete failed")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deleted")
				return nil
			})
		},
	})

	return cmd
}

func newHistoryCmd(opts *cliOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the server-side history of the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				if a.client.SessionID() == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "(no session)")
					return nil
				}
				printHistory(cmd.OutOrStdout(), a.client.History(cmd.Context(), limit))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of messages")
	return cmd
}

package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.trai.ch/zerr"
)

func (c *CLI) newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and edit the local cache",
	}
	cmd.PersistentFlags().String("owner", "", "Identity the entry belongs to")
	cmd.AddCommand(c.newCacheGetCmd(), c.newCachePutCmd(), c.newCacheInvalidateCmd(), c.newCacheStatusCmd())
	return cmd
}

func (c *CLI) newCacheGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Print the cached payload for KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, _ := cmd.Flags().GetString("owner")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			rt, err := c.runtime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(cmd.Context()) }()

			rec, ok := rt.Store.Read(cmd.Context(), args[0], owner, ttl)
			if !ok {
				return zerr.With(zerr.New("no usable entry"), "key", args[0])
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", rec.Data)
			return err
		},
	}
	cmd.Flags().Duration("ttl", 0, "Treat entries older than this as missing (0 disables)")
	return cmd
}

func (c *CLI) newCachePutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put KEY JSON",
		Short: "Store a JSON payload under KEY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[1])) {
				return zerr.New("payload is not valid JSON")
			}
			owner, _ := cmd.Flags().GetString("owner")

			rt, err := c.runtime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(cmd.Context()) }()

			rt.Store.Write(cmd.Context(), args[0], json.RawMessage(args[1]), owner)
			return nil
		},
	}
}

func (c *CLI) newCacheInvalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate KEY...",
		Short: "Remove entries from every cache layer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(cmd.Context()) }()

			for _, key := range args {
				rt.Store.Invalidate(cmd.Context(), key)
			}
			return nil
		},
	}
}

func (c *CLI) newCacheStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the profile completion status for an owner without caching it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, _ := cmd.Flags().GetString("owner")

			rt, err := c.runtime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(cmd.Context()) }()

			rt.SetOwner(owner)
			st := rt.Completion.Peek(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/houzin/scp-explorer/internal/profiles"
	"github.com/houzin/scp-explorer/internal/remote"
)

// newProfilesCmd creates the 'profiles' command group.
func newProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profiles",
		Aliases: []string{"connections"},
		Short:   "Manage saved connections",
		Long: `Saved connections are shared with the panel front-end. Any remote
command accepts --profile <id or name> to connect with one.`,
	}
	cmd.AddCommand(newProfilesListCmd())
	cmd.AddCommand(newProfilesAddCmd())
	cmd.AddCommand(newProfilesRmCmd())
	return cmd
}

func newProfilesListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(nil)
			if err != nil {
				return err
			}
			conns, err := store.List()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				for i := range conns {
					conns[i].Password, conns[i].Passphrase = "", ""
				}
				return renderJSON(out, conns)
			}
			if len(conns) == 0 {
				fmt.Fprintln(out, "No saved connections")
				return nil
			}
			table := newTable(out, "Name", "Target", "Auth", "Client", "ID")
			for _, c := range conns {
				target := c.Host
				if c.Username != "" {
					target = c.Username + "@" + target
				}
				if c.Port != "" {
					target += ":" + c.Port
				}
				client := c.ClientType
				if client == "" {
					client = "-"
				}
				if err := table.Append([]string{c.Name, target, c.AuthType, client, c.ID}); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON, without secrets")
	return cmd
}

func newProfilesAddCmd() *cobra.Command {
	var (
		conn         connectFlags
		savePassword bool
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Save a connection",
		Long: `Save a connection under a name. Passwords are only stored with
--save-password; otherwise you are asked when connecting.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := conn.remoteConfig()
			if err != nil {
				return err
			}
			if cfg.Host == "" {
				return remote.ConfigErrorf("A host is required: use --target or --host")
			}
			if cfg.AuthType == "" {
				cfg.AuthType = remote.AuthPassword
			}

			c := profiles.Connection{
				Name:           args[0],
				Host:           cfg.Host,
				Username:       cfg.Username,
				AuthType:       string(cfg.AuthType),
				PrivateKeyPath: cfg.PrivateKeyPath,
				ClientType:     string(cfg.ClientType),
			}
			if cfg.Port != 0 {
				c.Port = strconv.Itoa(cfg.Port)
			}
			if savePassword {
				c.Password, c.Passphrase = cfg.Password, cfg.Passphrase
			}

			store, err := openStore(nil)
			if err != nil {
				return err
			}
			if existing, err := store.Find(c.Name); err == nil {
				return fmt.Errorf("a saved connection named %q already exists (id %s)", c.Name, existing.ID)
			}
			saved, err := store.Add(c)
			if err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "Saved %s (id %s)\n", saved.Name, saved.ID)
			return nil
		},
	}

	conn.register(cmd)
	cmd.Flags().BoolVar(&savePassword, "save-password", false, "Store the password and passphrase in the connections file")
	return cmd
}

func newProfilesRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id-or-name>",
		Short: "Delete a saved connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(nil)
			if err != nil {
				return err
			}
			c, err := store.Find(args[0])
			if err != nil {
				return err
			}
			if err := store.Delete(c.ID); err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", c.Name)
			return nil
		},
	}
}

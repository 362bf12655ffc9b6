package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/shardmesh/internal/errors"
	"github.com/dreamware/shardmesh/internal/remote"
)

// newMigrateCommand asks a running shardmesh to relocate one server.
func newMigrateCommand(stdout io.Writer) *cobra.Command {
	var (
		addr    string
		token   string
		shardID int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "migrate <server-id>",
		Short: "Relocate a stopped server to another shard of its space.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID, err := strconv.Atoi(args[0])
			if err != nil || serverID <= 0 {
				return errors.Errorf("invalid server id %q", args[0])
			}

			ep := remote.Endpoint{
				BaseURL:       strings.TrimSuffix(addr, "/") + "/",
				Authorization: "Bearer " + token,
				Kind:          errors.KindAdmin,
			}
			var body any
			if shardID != 0 {
				body = map[string]int{"shard_id": shardID}
			}

			var result json.RawMessage
			err = remote.NewClient(timeout).Call(cmd.Context(), ep, http.MethodPost,
				fmt.Sprintf("api/admin/servers/%d/migrate", serverID), body, &result)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(stdout, string(result))
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "http://localhost:8080", "Base URL of the shardmesh API.")
	flags.StringVar(&token, "admin-token", "", "Bearer token of the operator API.")
	flags.IntVar(&shardID, "shard", 0, "Target shard id. Without it the placement policy picks one.")
	flags.DurationVar(&timeout, "timeout", 15*time.Minute, "Request timeout.")
	return cmd
}

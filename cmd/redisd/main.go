// Command redisd starts the server: a single cobra command parsing
// --port, --dir, --dbfilename, and --replicaof, then running the
// listener until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"redisd/internal/logging"
	"redisd/internal/server"
)

func main() {
	cfg := server.DefaultConfig()
	var replicaOf string

	root := &cobra.Command{
		Use:   "redisd",
		Short: "An in-memory key/value and stream server speaking the Redis wire protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()

			if replicaOf != "" {
				host, port, err := splitReplicaOf(replicaOf)
				if err != nil {
					return err
				}
				cfg.ReplicaOf = true
				cfg.MasterHost = host
				cfg.MasterPort = port
			}

			srv := server.New(cfg, log)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				log.Info("redisd: shutting down")
				cancel()
			}()

			return srv.Run(ctx)
		},
	}

	root.Flags().IntVar(&cfg.Port, "port", cfg.Port, "port to listen on")
	root.Flags().StringVar(&cfg.Host, "host", cfg.Host, "host/address to bind")
	root.Flags().StringVar(&cfg.Dir, "dir", cfg.Dir, "directory containing the RDB snapshot")
	root.Flags().StringVar(&cfg.DBFilename, "dbfilename", cfg.DBFilename, "RDB snapshot filename within --dir")
	root.Flags().StringVar(&replicaOf, "replicaof", "", `replicate from "<host> <port>"`)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func splitReplicaOf(s string) (string, int, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return "", 0, errSyntax("--replicaof expects \"<host> <port>\"")
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, errSyntax("--replicaof port must be numeric")
	}
	return fields[0], port, nil
}

type errSyntax string

func (e errSyntax) Error() string { return string(e) }

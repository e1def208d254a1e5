package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	serverrun "github.com/rzbill/outflow/internal/cmd/server"
	cfgpkg "github.com/rzbill/outflow/internal/config"
	pebblestore "github.com/rzbill/outflow/internal/storage/pebble"
	logpkg "github.com/rzbill/outflow/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	level := os.Getenv("OUTFLOW_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.SetDefaultLogger(logger)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "outflow",
		Short: "Outflow message-queue CLI",
		Long:  "Outflow delivers queued messages to configured sinks. This CLI manages the server and basic operations.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the outflow server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfgpkg.FromEnv(&cfg)
			// flags win over file and env
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if cmd.Flags().Changed("http") {
				cfg.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("fsync") {
				cfg.Fsync = fsyncMode
			}
			if cmd.Flags().Changed("fsync-interval-ms") {
				cfg.FsyncIntervalMs = fsyncIntervalMs
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if logFormat != "" {
				cfg.LogFormat = logFormat
			}

			mode := pebblestore.FsyncModeAlways
			switch cfg.Fsync {
			case "", "always":
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			default:
				return fmt.Errorf("invalid fsync mode; use always|interval|never")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       cfg.DataDir,
				HTTPAddr:      cfg.HTTPAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(cfg.FsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("config", os.Getenv("OUTFLOW_CONFIG"), "Config file (JSON or YAML)")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("http", ":7470", "HTTP listen address")
	serverStartCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms (default 5)")
	serverStartCmd.Flags().String("log-level", os.Getenv("OUTFLOW_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("OUTFLOW_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// db create
	dbCmd := &cobra.Command{Use: "db", Short: "Database operations"}
	dbCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create database",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			return postJSON("/v1/dbs/create", map[string]string{"name": name})
		},
	}
	dbCreateCmd.Flags().String("name", "", "Database name")
	_ = dbCreateCmd.MarkFlagRequired("name")
	dbCmd.AddCommand(dbCreateCmd)
	rootCmd.AddCommand(dbCmd)

	// queue create / append
	queueCmd := &cobra.Command{Use: "queue", Short: "Queue operations"}
	queueCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _ := cmd.Flags().GetString("db")
			name, _ := cmd.Flags().GetString("name")
			return postJSON("/v1/queues/create", map[string]string{"database": db, "name": name})
		},
	}
	queueCreateCmd.Flags().String("db", "", "Database name (default database when empty)")
	queueCreateCmd.Flags().String("name", "", "Queue name")
	_ = queueCreateCmd.MarkFlagRequired("name")
	queueCmd.AddCommand(queueCreateCmd)

	appendCmd := &cobra.Command{
		Use:   "append",
		Short: "Append a message to a queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _ := cmd.Flags().GetString("db")
			queue, _ := cmd.Flags().GetString("queue")
			key, _ := cmd.Flags().GetString("routing-key")
			payload, _ := cmd.Flags().GetString("payload")
			return postJSON("/v1/queues/append", map[string]interface{}{
				"database":   db,
				"queue":      queue,
				"routingKey": key,
				"payload":    []byte(payload),
			})
		},
	}
	appendCmd.Flags().String("db", "", "Database name")
	appendCmd.Flags().String("queue", "", "Queue name")
	appendCmd.Flags().String("routing-key", "", "Routing key")
	appendCmd.Flags().String("payload", "", "Message payload")
	_ = appendCmd.MarkFlagRequired("queue")
	queueCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(queueCmd)

	// output create / update / delete
	outputCmd := &cobra.Command{Use: "output", Short: "Output operations"}
	outputCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an output on a queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _ := cmd.Flags().GetString("db")
			queue, _ := cmd.Flags().GetString("queue")
			name, _ := cmd.Flags().GetString("name")
			kind, _ := cmd.Flags().GetString("kind")
			paramsJSON, _ := cmd.Flags().GetString("params")
			params := map[string]interface{}{}
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("invalid --params: %w", err)
				}
			}
			return postJSON("/v1/outputs/create", map[string]interface{}{
				"database": db,
				"queue":    queue,
				"name":     name,
				"kind":     kind,
				"params":   params,
			})
		},
	}
	outputCreateCmd.Flags().String("db", "", "Database name")
	outputCreateCmd.Flags().String("queue", "", "Queue name")
	outputCreateCmd.Flags().String("name", "", "Output name")
	outputCreateCmd.Flags().String("kind", "", "Sink kind (file|http)")
	outputCreateCmd.Flags().String("params", "", "Sink params as JSON")
	_ = outputCreateCmd.MarkFlagRequired("queue")
	_ = outputCreateCmd.MarkFlagRequired("name")
	_ = outputCreateCmd.MarkFlagRequired("kind")
	outputCmd.AddCommand(outputCreateCmd)

	outputUpdateCmd := &cobra.Command{
		Use:   "update",
		Short: "Update an output (enable/disable, reposition)",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			body := map[string]interface{}{"id": id}
			if cmd.Flags().Changed("enabled") {
				enabled, _ := cmd.Flags().GetBool("enabled")
				body["enabled"] = enabled
			}
			if cmd.Flags().Changed("at-id") {
				atID, _ := cmd.Flags().GetInt64("at-id")
				body["atId"] = atID
			}
			if cmd.Flags().Changed("at") {
				at, _ := cmd.Flags().GetInt64("at")
				body["at"] = at
			}
			return postJSON("/v1/outputs/update", body)
		},
	}
	outputUpdateCmd.Flags().String("id", "", "Output id")
	outputUpdateCmd.Flags().Bool("enabled", true, "Enable or disable the output")
	outputUpdateCmd.Flags().Int64("at-id", 0, "Reposition the checkpoint to this message id")
	outputUpdateCmd.Flags().Int64("at", 0, "Reposition by timestamp ms (use with --at-id=-1)")
	_ = outputUpdateCmd.MarkFlagRequired("id")
	outputCmd.AddCommand(outputUpdateCmd)

	outputDeleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an output",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			return postJSON("/v1/outputs/delete", map[string]string{"id": id})
		},
	}
	outputDeleteCmd.Flags().String("id", "", "Output id")
	_ = outputDeleteCmd.MarkFlagRequired("id")
	outputCmd.AddCommand(outputDeleteCmd)
	rootCmd.AddCommand(outputCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func postJSON(path string, body interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(apiURL()+path, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Println("status:", resp.Status)
	if len(out) > 0 {
		fmt.Println(string(out))
	}
	return nil
}

func apiURL() string {
	if v := os.Getenv("OUTFLOW_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:7470"
}

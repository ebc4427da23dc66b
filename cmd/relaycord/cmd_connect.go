package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/user/relaycord/internal/client"
	"github.com/user/relaycord/internal/delivery"
	"github.com/user/relaycord/internal/types"
)

var (
	connectGuild   string
	connectChannel string
)

func init() {
	connectCmd.Flags().StringVar(&connectGuild, "guild", "", "guild to select once connected")
	connectCmd.Flags().StringVar(&connectChannel, "channel", "", "channel to open once connected")
	rootCmd.AddCommand(connectCmd)
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect and stream activity until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runConnect,
}

var errNoToken = errors.New("no token configured (run `relaycord setup` or set RELAYCORD_TOKEN)")

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "relaycord.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// parseID accepts an empty string as zero.
func parseID(s string) (types.Snowflake, error) {
	if s == "" {
		return 0, nil
	}
	id, err := types.ParseSnowflake(s)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

// describeMessage renders a cached message as "author: content".
func describeMessage(c *client.Client) delivery.Describer {
	return func(channelID, messageID types.Snowflake) string {
		m := c.Messages().Get(channelID, messageID)
		if m == nil || m.Kind != types.KindMessage {
			return ""
		}
		author := m.AuthorID.String()
		if p := c.Profiles().Get(m.AuthorID); p != nil {
			author = p.DisplayName(m.GuildID)
		}
		parts := []string{m.Content}
		for _, a := range m.Attachments {
			parts = append(parts, fmt.Sprintf("[%s, %s]", a.Filename, humanize.Bytes(uint64(a.Size))))
		}
		return author + ": " + strings.TrimSpace(strings.Join(parts, " "))
	}
}

// notifications routes observer output: messages to stdout, the rest to
// the log.
func notifications() *delivery.Registry {
	reg := delivery.NewRegistry()
	reg.Register(delivery.TopicMessage, func(topic, message string) error {
		_, err := fmt.Fprintf(os.Stdout, "#%s %s\n", strings.TrimPrefix(topic, delivery.TopicMessage), message)
		return err
	})
	reg.Register(delivery.TopicSession, func(topic, message string) error {
		slog.Info("session", "event", strings.TrimPrefix(topic, delivery.TopicSession), "detail", message)
		return nil
	})
	reg.Register(delivery.TopicUnread, func(topic, message string) error {
		slog.Debug("unread", "detail", message)
		return nil
	})
	reg.Register(delivery.TopicUpload, func(topic, message string) error {
		slog.Warn("upload", "detail", message)
		return nil
	})
	reg.Register(delivery.TopicError, func(topic, message string) error {
		slog.Warn("request failed", "detail", message)
		return nil
	})
	return reg
}

// connectObserver follows the session and opens the requested guild and
// channel on every (re)connect.
type connectObserver struct {
	*delivery.Observer
	c       *client.Client
	guild   types.Snowflake
	channel types.Snowflake
}

func (o *connectObserver) OnConnected() {
	o.Observer.OnConnected()
	if o.guild != 0 {
		o.c.Router().SelectGuild(o.guild)
	}
	if o.channel != 0 {
		o.c.Router().SetOpenChannel(o.channel)
	}
}

// OnAcknowledgeRequested acknowledges messages arriving in the open channel.
func (o *connectObserver) OnAcknowledgeRequested(channelID, messageID types.Snowflake) {
	o.c.Router().AckMessage(channelID, messageID)
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	if cfg.Token == "" {
		return errNoToken
	}
	guildID, err := parseID(connectGuild)
	if err != nil {
		return err
	}
	channelID, err := parseID(connectChannel)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	obs := &connectObserver{guild: guildID, channel: channelID}
	c := client.New(client.Options{Config: cfg, Observer: obs})
	obs.c = c
	obs.Observer = delivery.NewObserver(notifications(), describeMessage(c))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	defer c.Stop()

	slog.Info("relaycord started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_in_flight", cfg.MaxInFlight,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, reconnecting")
			c.Reconnect()
			continue
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}

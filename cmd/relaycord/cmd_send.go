package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/relaycord/internal/client"
	"github.com/user/relaycord/internal/delivery"
	"github.com/user/relaycord/internal/types"
)

var (
	sendFile    string
	sendReplyTo string
	sendTimeout time.Duration
)

func init() {
	sendCmd.Flags().StringVar(&sendFile, "file", "", "attach a file")
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "message id to reply to")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 2*time.Minute, "give up after this long")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <channel-id> [message]",
	Short: "Send one message, optionally with a file, and wait for delivery",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSend,
}

// sendWaiter reports the outcome of the single message sent by runSend.
// Its callbacks run on the processing loop.
type sendWaiter struct {
	*delivery.Observer
	c       *client.Client
	channel types.Snowflake
	since   types.Snowflake
	ready   chan struct{}
	result  chan error
}

func (w *sendWaiter) finish(err error) {
	select {
	case w.result <- err:
	default:
	}
}

func (w *sendWaiter) ours(channelID, messageID types.Snowflake) *types.MessageRecord {
	if channelID != w.channel {
		return nil
	}
	m := w.c.Messages().Get(channelID, messageID)
	if m == nil || m.Nonce < w.since || m.AuthorID != w.c.Router().Self() {
		return nil
	}
	return m
}

func (w *sendWaiter) OnConnected() {
	w.Observer.OnConnected()
	select {
	case w.ready <- struct{}{}:
	default:
	}
}

func (w *sendWaiter) OnMessageAdded(channelID, messageID types.Snowflake) {
	w.Observer.OnMessageAdded(channelID, messageID)
	if m := w.ours(channelID, messageID); m != nil && m.Kind == types.KindMessage {
		w.finish(nil)
	}
}

func (w *sendWaiter) OnMessageUpdated(channelID, messageID types.Snowflake) {
	if m := w.ours(channelID, messageID); m != nil && m.Kind == types.KindFailed {
		w.finish(errors.New(m.Failure))
	}
}

func (w *sendWaiter) OnUploadFailed(fileName string, code int) {
	w.Observer.OnUploadFailed(fileName, code)
	w.finish(fmt.Errorf("upload of %s failed (code %d)", fileName, code))
}

func (w *sendWaiter) OnSessionClosed(code int) {
	w.Observer.OnSessionClosed(code)
	w.finish(fmt.Errorf("session closed (code %d)", code))
}

func (w *sendWaiter) OnLoggedOut() {
	w.finish(errors.New("credentials rejected"))
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	if cfg.Token == "" {
		return errNoToken
	}
	channelID, err := parseID(args[0])
	if err != nil {
		return err
	}
	replyTo, err := parseID(sendReplyTo)
	if err != nil {
		return err
	}
	content := ""
	if len(args) > 1 {
		content = args[1]
	}
	if content == "" && sendFile == "" {
		return errors.New("nothing to send: give a message or --file")
	}

	var file *os.File
	var size int64
	if sendFile != "" {
		file, err = os.Open(sendFile)
		if err != nil {
			return fmt.Errorf("open attachment: %w", err)
		}
		defer file.Close()
		info, err := file.Stat()
		if err != nil {
			return fmt.Errorf("stat attachment: %w", err)
		}
		size = info.Size()
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	w := &sendWaiter{
		channel: channelID,
		since:   types.SnowflakeFromTime(time.Now()),
		ready:   make(chan struct{}, 1),
		result:  make(chan error, 1),
	}
	c := client.New(client.Options{Config: cfg, Observer: w})
	w.c = c
	w.Observer = delivery.NewObserver(notifications(), describeMessage(c))

	c.Start(ctx)
	defer c.Stop()

	select {
	case <-w.ready:
	case err := <-w.result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("connect: %w", ctx.Err())
	}

	if file != nil {
		id, err := c.SendFile(ctx, channelID, content, replyTo, filepath.Base(sendFile), size, file)
		if err != nil {
			return err
		}
		slog.Info("upload started", "id", id, "file", sendFile)
	} else {
		if _, err := c.SendMessage(ctx, channelID, content, replyTo); err != nil {
			return err
		}
	}

	select {
	case err := <-w.result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("send: %w", ctx.Err())
	}
}

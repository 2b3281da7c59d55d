package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/shotbridge/internal/message"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print live events from a running bridge",
	Long: `Connect to a bridge's WebSocket push channel and print every message.

On a terminal messages are rendered as colored lines; otherwise the raw JSON
is printed, one message per line.`,
	Example: `  shotbridge watch
  shotbridge watch --url ws://192.168.1.20:8000/ws --format json`,
	RunE: runWatch,
}

var (
	watchURL         string
	watchFormat      string
	watchDialTimeout time.Duration
)

func init() {
	watchCmd.Flags().StringVarP(&watchURL, "url", "u", "ws://127.0.0.1:8000/ws", "Bridge WebSocket URL")
	watchCmd.Flags().StringVarP(&watchFormat, "format", "f", formatAuto, "Output format (auto, table, json)")
	watchCmd.Flags().DurationVar(&watchDialTimeout, "timeout", 10*time.Second, "Connection timeout")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	format, err := resolveFormat(watchFormat, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "")
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return watch(ctx, watchURL, format, cmd.OutOrStdout(), logger)
}

func watch(ctx context.Context, url, format string, out io.Writer, logger *logrus.Logger) error {
	dialCtx, cancel := context.WithTimeout(ctx, watchDialTimeout)
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	logger.WithField("url", url).Info("Watching bridge")

	// Unblock ReadMessage when the user interrupts.
	stopped := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stopped()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}

		if format == formatJSON {
			fmt.Fprintln(out, string(data))
			continue
		}

		msg, err := message.Decode(data)
		if err != nil {
			logger.WithField("error", err).Debug("Undecodable message")
			fmt.Fprintln(out, string(data))
			continue
		}
		fmt.Fprintln(out, formatMessage(msg))
	}
}

var (
	typeColor  = color.New(color.Bold)
	goodColor  = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
	shotColor  = color.New(color.FgCyan, color.Bold)
)

// formatMessage renders msg as one human-readable line.
func formatMessage(msg message.Message) string {
	label := typeColor.Sprintf("%-20s", msg.Type())

	switch m := msg.(type) {
	case message.TitleUpdate:
		return fmt.Sprintf("%s %q", label, m.Title)
	case message.SessionSync:
		if m.State == nil {
			return label + " no session"
		}
		return fmt.Sprintf("%s session %d %s, %d shots, best split %.2fs",
			label, m.State.SessID, m.State.Status, len(m.State.Shots), m.State.BestSplit)
	case message.DeviceConnected:
		return fmt.Sprintf("%s %s %s (%s, api %s)", label, goodColor.Sprint(m.Name), m.Addr, m.Model, m.APIVersion)
	case message.DeviceDisconnected:
		return fmt.Sprintf("%s %s %s", label, warnColor.Sprint(m.Name), m.Addr)
	case message.Watchdog:
		return fmt.Sprintf("%s %s %s", label, m.Addr, warnColor.Sprint(m.Status))
	case message.Error:
		return fmt.Sprintf("%s %s", label, errorColor.Sprint(m.Message))
	case message.SessionStarted:
		return fmt.Sprintf("%s %s session %d", label, m.Addr, m.SessID)
	case message.ShotDetected:
		split := "-"
		if m.Split != nil {
			split = fmt.Sprintf("%.2fs", *m.Split)
		}
		return fmt.Sprintf("%s %s #%d at %.2fs split %s", label, m.Addr, m.Num, m.Time, shotColor.Sprint(split))
	case message.SessionStopped:
		return fmt.Sprintf("%s %s", label, m.Addr)
	default:
		return label
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ada-ai/ada/internal/client"
	adaversion "github.com/ada-ai/ada/internal/version"
)

// Global variables for use across commands
var (
	rootCmd  *cobra.Command
	flagHome string
)

// OutputFormatter handles output in JSON or human-readable format
type OutputFormatter struct {
	jsonMode bool
}

// newOutputFormatter creates a new formatter based on the command's --json flag
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

// Print outputs data in the appropriate format
func (f *OutputFormatter) Print(data interface{}) error {
	if f.jsonMode {
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonBytes))
	} else {
		switch v := data.(type) {
		case string:
			fmt.Println(v)
		default:
			// Fallback to JSON for unknown types
			jsonBytes, _ := json.MarshalIndent(data, "", "  ")
			fmt.Println(string(jsonBytes))
		}
	}
	return nil
}

// Success outputs a success message
func (f *OutputFormatter) Success(message string, data map[string]interface{}) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Println(message)
	return nil
}

// Error outputs an error message
func (f *OutputFormatter) Error(message string, err error) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		if err != nil {
			output["details"] = err.Error()
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Fprintln(os.Stderr, string(jsonBytes))
	} else {
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", message, err)
		} else {
			fmt.Fprintln(os.Stderr, message)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", message, err)
	}
	return errors.New(message)
}

// newDaemonClient connects to the daemon selected by --home (or ADA_BASE_URL).
func newDaemonClient() (*client.Client, error) {
	return client.New(flagHome)
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "ada",
		Short: "Ada - local voice assistant",
		Long: `Ada is a local voice assistant with audio, conversation and vision
modules. This client talks to a running adad instance over its HTTP
gateway and manages its configuration, secrets and speech models.`,
	}
	rootCmd.Version = adaversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "Instance home directory (defaults to ~/.ada)")
}

func main() {

	// Say command
	sayCmd := &cobra.Command{
		Use:           "say [text...]",
		Short:         "Send a text utterance to the assistant",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runSay,
	}

	// History command
	historyCmd := &cobra.Command{
		Use:           "history",
		Short:         "Show recent conversation turns",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runHistory,
	}
	historyCmd.Flags().Int("limit", 0, "Maximum number of turns to fetch (0 for daemon default)")

	// Events command
	eventsCmd := &cobra.Command{
		Use:           "events",
		Short:         "Stream live daemon events",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runEvents,
	}
	eventsCmd.Flags().StringArray("topic", nil, "Topic to subscribe to (repeatable, default all)")

	// Metrics command
	metricsCmd := &cobra.Command{
		Use:           "metrics",
		Short:         "Dump daemon metrics in Prometheus text format",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runMetrics,
	}

	rootCmd.AddCommand(sayCmd, historyCmd, eventsCmd, metricsCmd,
		newDaemonCommand(), newConfigCommand(), newSecretCommand(),
		newModelsCommand(), newVersionCommand())

	// Execute
	if err := rootCmd.Execute(); err != nil {
		// Error is already printed by command handlers
		os.Exit(1)
	}
}

// runSay submits a text utterance for processing
func runSay(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return out.Error("Nothing to say", nil)
	}

	c, err := newDaemonClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	correlationID, err := c.SendText(cmd.Context(), text, map[string]string{"origin": "cli"})
	if err != nil {
		return out.Error("Failed to send text", err)
	}

	return out.Success("Message accepted", map[string]interface{}{
		"correlation_id": correlationID,
	})
}

// runHistory prints retained conversation turns
func runHistory(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	limit, _ := cmd.Flags().GetInt("limit")

	c, err := newDaemonClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	messages, err := c.History(cmd.Context(), limit)
	if err != nil {
		return out.Error("Failed to fetch history", err)
	}

	if out.jsonMode {
		return out.Print(map[string]interface{}{
			"count":    len(messages),
			"messages": messages,
		})
	}

	if len(messages) == 0 {
		fmt.Println("No conversation history yet")
		return nil
	}

	for _, msg := range messages {
		fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Local().Format("15:04:05"), msg.Speaker, msg.Text)
	}

	return nil
}

// runEvents streams bus events over the gateway websocket until interrupted
func runEvents(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	topics, _ := cmd.Flags().GetStringArray("topic")

	c, err := newDaemonClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !out.jsonMode {
		if len(topics) == 0 {
			fmt.Println("Streaming all events (Ctrl+C to stop)")
		} else {
			fmt.Printf("Streaming %s (Ctrl+C to stop)\n", strings.Join(topics, ", "))
		}
	}

	err = c.WatchEvents(ctx, topics, func(ev client.StreamEvent) {
		switch ev.Type {
		case "event":
			printStreamEvent(out, ev)
		case "error":
			fmt.Fprintf(os.Stderr, "stream error: %s\n", string(ev.Data))
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return out.Error("Event stream failed", err)
	}
	return nil
}

func printStreamEvent(out *OutputFormatter, ev client.StreamEvent) {
	if out.jsonMode {
		// One JSON object per line so the stream stays greppable.
		line, err := json.Marshal(ev)
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode event: %v\n", err)
			return
		}
		fmt.Println(string(line))
		return
	}

	data := strings.TrimSpace(string(ev.Data))
	if data == "null" {
		data = ""
	}
	fmt.Printf("%s %-28s %-12s %s\n", ev.Timestamp.Local().Format("15:04:05.000"), ev.Topic, ev.Source, data)
}

// runMetrics dumps the raw Prometheus exposition
func runMetrics(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newDaemonClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	raw, err := c.Metrics(cmd.Context())
	if err != nil {
		return out.Error("Failed to fetch metrics", err)
	}

	os.Stdout.Write(raw)
	return nil
}

// ABOUTME: Client subcommands that talk to a running gateway over HTTP
// ABOUTME: health checks liveness and readiness; chats lists chats or prints a transcript

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/research-gateway/internal/store"
)

// previewRunes bounds message content printed by "chats --chat".
const previewRunes = 200

func newChatsCmd() *cobra.Command {
	var chatID string
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "Print every chat with message previews, or one chat with --chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := gatewayURL()
			if err != nil {
				return err
			}
			if chatID != "" {
				return printTranscript(cmd.Context(), cmd.OutOrStdout(), base, chatID)
			}
			return printChats(cmd.Context(), cmd.OutOrStdout(), base)
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id whose messages to print")
	return cmd
}

func gatewayURL() (string, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return "", err
	}
	return "http://" + cfg.Server.HTTPAddr, nil
}

func getJSON(ctx context.Context, rawURL string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func printChats(ctx context.Context, out io.Writer, base string) error {
	var chats []store.Chat
	if err := getJSON(ctx, base+"/api/chats", &chats); err != nil {
		return err
	}
	if len(chats) == 0 {
		fmt.Fprintln(out, "no chats")
		return nil
	}

	bold := color.New(color.Bold)
	for i, c := range chats {
		if i > 0 {
			fmt.Fprintln(out)
		}
		bold.Fprintf(out, "%s", c.Title)
		fmt.Fprintf(out, " %s\n", color.HiBlackString("(%s, updated %s)", c.ID, c.UpdatedAt.Local().Format(time.DateTime)))
		if err := printTranscript(ctx, out, base, c.ID); err != nil {
			return err
		}
	}
	return nil
}

func printTranscript(ctx context.Context, out io.Writer, base, chatID string) error {
	var msgs []store.Message
	if err := getJSON(ctx, base+"/api/chats/"+url.PathEscape(chatID)+"/messages", &msgs); err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintln(out, "no messages")
		return nil
	}

	for _, m := range msgs {
		role := color.CyanString(m.Role)
		if m.Role == store.RoleAssistant {
			role = color.GreenString(m.Role)
		}
		fmt.Fprintf(out, "%s %s\n", color.HiBlackString(m.Timestamp.Local().Format(time.DateTime)), role)
		fmt.Fprintf(out, "  %s\n", preview(m.Content))
		if m.ReportPath != "" {
			fmt.Fprintf(out, "  %s %s\n", color.HiBlackString("report:"), m.ReportPath)
		}
	}
	return nil
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return string([]rune(s)[:previewRunes]) + "..."
}

func runHealth(ctx context.Context) error {
	base, err := gatewayURL()
	if err != nil {
		return err
	}

	for _, path := range []string{"/health", "/health/ready"} {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, base+path, nil)
		if err != nil {
			cancel()
			return fmt.Errorf("creating request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			cancel()
			return fmt.Errorf("health check failed: %w", err)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		cancel()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unhealthy: %s status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		fmt.Printf("%s: %s\n", path, strings.TrimSpace(string(body)))
	}

	fmt.Println("healthy")
	return nil
}

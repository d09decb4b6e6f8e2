package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
	"github.com/zhouzirui/gemini-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/turn"
)

// apiClient 调用后端 /api 接口
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(server string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimRight(server, "/") + "/api",
		http: &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(raw))
		}
		return &apiError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) createConversation(ctx context.Context) (string, error) {
	var view struct {
		Conversation chat.Conversation `json:"conversation"`
	}
	if err := c.do(ctx, http.MethodPost, "/conversations", "", nil, &view); err != nil {
		return "", err
	}
	return view.Conversation.ID, nil
}

func (c *apiClient) upload(ctx context.Context, conversationID, path, kind string) (*chat.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	_ = mw.WriteField("kind", kind)
	_ = mw.WriteField("lastModified", fmt.Sprint(info.ModTime().UnixMilli()))
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var att chat.Attachment
	err = c.do(ctx, http.MethodPost, "/conversations/"+conversationID+"/attachments", mw.FormDataContentType(), &body, &att)
	return &att, err
}

func (c *apiClient) sendTurn(ctx context.Context, conversationID, text, mode string, ocr bool) (*turn.Result, error) {
	payload, err := json.Marshal(map[string]any{"text": text, "mode": mode, "ocr": ocr})
	if err != nil {
		return nil, err
	}
	var result turn.Result
	err = c.do(ctx, http.MethodPost, "/conversations/"+conversationID+"/turns", "application/json", bytes.NewReader(payload), &result)
	return &result, err
}

type sessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func newSendCommand(opts *options) *cobra.Command {
	var (
		mode         string
		files        []string
		images       []string
		ocr          bool
		conversation string
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one turn and print the assistant reply",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := newAPIClient(opts.server, timeout)

			text := ""
			if len(args) == 1 {
				text = args[0]
			}

			id := conversation
			if id == "" {
				var err error
				if id, err = client.createConversation(ctx); err != nil {
					return fmt.Errorf("create conversation: %w", err)
				}
				logger.Debug("conversation created", "id", id)
			}

			for _, path := range images {
				if _, err := client.upload(ctx, id, path, string(chat.KindImage)); err != nil {
					return fmt.Errorf("upload %s: %w", path, err)
				}
			}
			for _, path := range files {
				if _, err := client.upload(ctx, id, path, string(chat.KindFile)); err != nil {
					return fmt.Errorf("upload %s: %w", path, err)
				}
			}

			result, err := client.sendTurn(ctx, id, text, mode, ocr)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, result.Assistant.Text)
			if img := result.Assistant.GeneratedImage; img != nil {
				fmt.Fprintf(out, "\n[generated image: %d bytes data URL]\n", len(img.URL))
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "\n%s: %s (conversation %s)\n", result.Notification.Title, result.Notification.Description, id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "normal", "Interaction mode: normal, search, image, file, voice, code")
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "Attach a file (repeatable)")
	cmd.Flags().StringSliceVarP(&images, "image", "i", nil, "Attach an image (repeatable)")
	cmd.Flags().BoolVar(&ocr, "ocr", false, "Extract text from attached images")
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "Continue an existing conversation")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Request timeout")
	return cmd
}

func newSessionsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect saved chat sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved sessions, most recent first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var sessions []sessionSummary
			client := newAPIClient(opts.server, 30*time.Second)
			if err := client.do(cmd.Context(), http.MethodGet, "/sessions", "", nil, &sessions); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "no saved sessions")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(out, "%s  %-50s  %3d messages  %s\n", s.ID, s.Title, s.MessageCount, s.UpdatedAt.Local().Format(time.DateTime))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a saved transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var session chat.Session
			client := newAPIClient(opts.server, 30*time.Second)
			if err := client.do(cmd.Context(), http.MethodGet, "/sessions/"+args[0], "", nil, &session); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n\n", session.Title)
			for _, m := range session.Messages {
				fmt.Fprintf(out, "[%s] %s\n\n", m.Role, m.Text)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete one saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(opts.server, 30*time.Second)
			return client.do(cmd.Context(), http.MethodDelete, "/sessions/"+args[0], "", nil, nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete all saved sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := newAPIClient(opts.server, 30*time.Second)
			return client.do(cmd.Context(), http.MethodDelete, "/sessions", "", nil, nil)
		},
	})

	return cmd
}

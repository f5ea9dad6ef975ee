package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskhive/chat-server/internal/core"
	"github.com/deskhive/chat-server/internal/log"
	"github.com/deskhive/chat-server/internal/proto"
	"github.com/deskhive/chat-server/internal/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type authResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

func newRootCmd() *cobra.Command {
	var (
		server   string
		username string
		password string
		register bool
		logLevel string
	)

	cmd := &cobra.Command{
		Use:           "chat",
		Short:         "Terminal chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(server, username, password, register, logLevel)
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "chat server base URL")
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	cmd.Flags().BoolVar(&register, "register", false, "register a new account instead of logging in")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("password")
	return cmd
}

func run(server, username, password string, register bool, logLevel string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	acct, err := authenticate(ctx, server, username, password, register)
	if err != nil {
		return err
	}

	wsURL := strings.Replace(server, "http", "ws", 1) + "/ws"
	logger := log.New(logLevel)

	ctrl := session.NewController(session.Config{
		URL: wsURL,
		Identity: core.Identity{
			UserID:      acct.UserID,
			DisplayName: acct.DisplayName,
			Role:        core.Role(acct.Role),
		},
		Uploader: &session.HTTPUploader{BaseURL: server, Token: acct.Token},
		Logger:   logger,
	})

	go ctrl.Run(ctx)
	go renderLoop(ctx, ctrl)

	fmt.Printf("Connected to %s as %s (%s)\n", server, acct.DisplayName, acct.Role)
	fmt.Println("Type a message and press Enter. /help lists commands. Ctrl+C to exit.")

	inputLoop(ctx, ctrl)
	return nil
}

func authenticate(ctx context.Context, server, username, password string, register bool) (authResponse, error) {
	path := "/api/login"
	if register {
		path = "/api/register"
	}
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return authResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+path, bytes.NewReader(body))
	if err != nil {
		return authResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return authResponse{}, fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return authResponse{}, fmt.Errorf("auth failed: status %d", resp.StatusCode)
	}

	var acct authResponse
	if err := json.NewDecoder(resp.Body).Decode(&acct); err != nil {
		return authResponse{}, fmt.Errorf("decode auth response: %w", err)
	}
	return acct, nil
}

func renderLoop(ctx context.Context, ctrl *session.Controller) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-ctrl.Events():
			renderFrame(env)
		}
	}
}

func renderFrame(env proto.Envelope) {
	switch env.Type {
	case proto.TypeChatMessage:
		msg, err := env.DecodeChatMessage()
		if err != nil {
			return
		}
		line := fmt.Sprintf("%s: %s", msg.UserName, msg.Message)
		if msg.FileName != "" {
			line += fmt.Sprintf(" [file: %s]", msg.FileName)
		}
		fmt.Println(line)
	case proto.TypeUserStatus:
		s, err := env.DecodeUserStatus()
		if err != nil {
			return
		}
		fmt.Printf("* %s is %s\n", s.UserName, s.Status)
	case proto.TypeMessagePinned:
		p, err := env.DecodeMessagePinned()
		if err != nil {
			return
		}
		verb := "pinned"
		if !p.IsPinned {
			verb = "unpinned"
		}
		fmt.Printf("* message %s %s\n", p.MessageID, verb)
	case proto.TypeChatCleared:
		fmt.Println("* chat cleared by an admin")
	case proto.TypeUserTyping:
		if t, err := env.DecodeUserTyping(); err == nil && t.IsTyping {
			fmt.Printf("* %s is typing...\n", t.UserName)
		}
	}
}

func inputLoop(ctx context.Context, ctrl *session.Controller) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if strings.HasPrefix(text, "/") {
				if quit := handleCommand(ctx, ctrl, text); quit {
					return
				}
				continue
			}
			if err := ctrl.Send(ctx, text); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		}
	}
}

func handleCommand(ctx context.Context, ctrl *session.Controller, line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	var err error
	switch cmd {
	case "/quit":
		return true
	case "/help":
		fmt.Println("/users /block <id> /unblock <id> /mute <id> /unmute <id>")
		fmt.Println("/pin <msg-id> /unpin <msg-id> /clear /file <path> /quit")
	case "/users":
		for _, u := range ctrl.Cache().Online() {
			fmt.Printf("  %s (%s, %s)\n", u.UserName, u.UserID, u.UserRole)
		}
	case "/block":
		err = ctrl.Block(ctx, arg)
	case "/unblock":
		err = ctrl.Unblock(ctx, arg)
	case "/mute":
		err = ctrl.Mute(ctx, arg)
	case "/unmute":
		err = ctrl.Unmute(ctx, arg)
	case "/pin":
		err = ctrl.Pin(ctx, arg, true)
	case "/unpin":
		err = ctrl.Pin(ctx, arg, false)
	case "/clear":
		err = ctrl.ClearChat(ctx)
	case "/file":
		err = sendFile(ctx, ctrl, arg)
	default:
		fmt.Printf("unknown command %s\n", cmd)
	}
	if err != nil {
		fmt.Printf("%s failed: %v\n", cmd, err)
	}
	return false
}

func sendFile(ctx context.Context, ctrl *session.Controller, path string) error {
	if path == "" {
		return fmt.Errorf("usage: /file <path>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	mimeType := mimeByExt(name)

	start := time.Now()
	return ctrl.SendFile(ctx, "", name, mimeType, data, func(sent, total int64) {
		if sent == total {
			fmt.Printf("uploaded %s (%d bytes) in %s\n", name, total, time.Since(start).Round(time.Millisecond))
		}
	})
}

func mimeByExt(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

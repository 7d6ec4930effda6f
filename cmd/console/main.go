// Terminal chat client for the trade report wizard.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/coder/websocket"
	"github.com/etofiasko/tg-bot-v2/internal/identity"
	"github.com/etofiasko/tg-bot-v2/internal/wizard"
	"github.com/google/uuid"
)

func main() {
	server := flag.String("server", "ws://localhost:8080/ws/chat", "chat WebSocket URL")
	userID := flag.Int64("user", 0, "numeric user id")
	username := flag.String("username", "", "user handle")
	variant := flag.String("variant", "", "dialogue variant: classic or extended")
	outDir := flag.String("out", ".", "directory for received documents")
	flag.Parse()

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "console: -user is required")
		flag.Usage()
		os.Exit(2)
	}
	if err := run(*server, *userID, *username, wizard.Variant(*variant), *outDir); err != nil {
		log.Fatal(err)
	}
}

func run(server string, userID int64, username string, variant wizard.Variant, outDir string) error {
	if _, err := url.Parse(server); err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, server, &websocket.DialOptions{
		HTTPHeader: http.Header{
			identity.UserIDHeader:      []string{fmt.Sprint(userID)},
			identity.UsernameHeader:    []string{username},
			identity.SessionHeaderName: []string{"console-" + uuid.NewString()[:8]},
		},
	})
	if err != nil {
		return fmt.Errorf("connect to %s: %w", server, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	// Documents arrive base64 encoded inside JSON frames.
	conn.SetReadLimit(64 << 20)

	send := func(frame outbound) tea.Cmd {
		return func() tea.Msg {
			data, err := json.Marshal(frame)
			if err != nil {
				return sentMsg{err: err}
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return sentMsg{err: conn.Write(writeCtx, websocket.MessageText, data)}
		}
	}

	p := tea.NewProgram(newChatModel(variant, outDir, send))

	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
					err = nil
				}
				p.Send(closedMsg{err: err})
				return
			}
			var frame frameMsg
			if err := json.Unmarshal(data, &frame); err != nil {
				p.Send(frameMsg{Error: "malformed frame: " + err.Error()})
				continue
			}
			p.Send(frame)
		}
	}()

	_, err = p.Run()
	return err
}

package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. App satisfies
// it; tests use a stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Status(ctx context.Context) error
	ListConversations(ctx context.Context) error
	OpenConversation(ctx context.Context, id string) error
	CloseConversation(ctx context.Context) error
	Send(ctx context.Context, body string) error
	Typing(ctx context.Context) error
	MarkRead(ctx context.Context) error
}

// runREPL reads commands line by line and dispatches to a. It exits on
// scanner EOF or "exit"/"quit". Handler errors are printed, not fatal.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("chatterbox %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: (l)ist, open <id>, send <text>, typing, read, close, status, logout, exit")
			} else {
				printlnFn("Available commands: login, status, exit")
			}

		case "login":
			err = a.Login(ctx)

		case "logout":
			err = a.Logout(ctx)

		case "status":
			err = a.Status(ctx)

		case "l", "list":
			err = a.ListConversations(ctx)

		case "open":
			if len(args) == 0 {
				printlnFn("Usage: open <conversation-id>")
				continue
			}
			err = a.OpenConversation(ctx, args[0])

		case "close":
			err = a.CloseConversation(ctx)

		case "send":
			if len(args) == 0 {
				printlnFn("Usage: send <text>")
				continue
			}
			err = a.Send(ctx, strings.Join(args, " "))

		case "typing":
			err = a.Typing(ctx)

		case "read":
			err = a.MarkRead(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err.Error())
		}
	}
}

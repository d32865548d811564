package cli

import (
	"context"
	"os"

	"github.com/chatterbox-im/chatterbox/internal/cryptox"
)

// getSimpleText and getPassword are test seams for the input helpers.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Login prompts for credentials and establishes a session. The password
// is wiped before returning.
func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer cryptox.Wipe(password)

	id, err := a.guard.LoginWithPassword(ctx, email, string(password))
	if err != nil {
		return err
	}

	a.userName = id.DisplayName
	printlnFn("Logged in as", id.DisplayName)
	return nil
}

// Logout closes the realtime channel and tears the session down. Safe to
// run when not logged in.
func (a *App) Logout(ctx context.Context) error {
	a.chat.CloseChannel()
	a.channelOpen = false
	a.currentConv = ""

	if err := a.guard.Logout(ctx); err != nil {
		return err
	}
	a.userName = ""
	printlnFn("Logged out.")
	return nil
}

// Status reports who is logged in and where the realtime channel stands.
func (a *App) Status(ctx context.Context) error {
	if !a.guard.IsAuthenticated(ctx) {
		printlnFn("Not logged in.")
		return nil
	}
	id, err := a.guard.CurrentIdentity(ctx)
	if err != nil {
		return err
	}
	if id != nil {
		printlnFn("Logged in as", id.DisplayName, "<"+id.Email+">")
	}
	if a.channelOpen {
		printlnFn("Channel:", a.chatState())
	} else {
		printlnFn("Channel: closed")
	}
	return nil
}

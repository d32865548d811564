package cli

import (
	"bufio"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	loggedIn bool
	calls    []string
	lastArg  string
}

func (f *fakeExec) isLoggedIn() bool { return f.loggedIn }
func (f *fakeExec) Login(ctx context.Context) error {
	f.calls = append(f.calls, "login")
	f.loggedIn = true
	return nil
}
func (f *fakeExec) Logout(ctx context.Context) error {
	f.calls = append(f.calls, "logout")
	f.loggedIn = false
	return nil
}
func (f *fakeExec) Status(ctx context.Context) error {
	f.calls = append(f.calls, "status")
	return nil
}
func (f *fakeExec) ListConversations(ctx context.Context) error {
	f.calls = append(f.calls, "list")
	return nil
}
func (f *fakeExec) OpenConversation(ctx context.Context, id string) error {
	f.calls = append(f.calls, "open")
	f.lastArg = id
	return nil
}
func (f *fakeExec) CloseConversation(ctx context.Context) error {
	f.calls = append(f.calls, "close")
	return nil
}
func (f *fakeExec) Send(ctx context.Context, body string) error {
	f.calls = append(f.calls, "send")
	f.lastArg = body
	return nil
}
func (f *fakeExec) Typing(ctx context.Context) error {
	f.calls = append(f.calls, "typing")
	return nil
}
func (f *fakeExec) MarkRead(ctx context.Context) error {
	f.calls = append(f.calls, "read")
	return nil
}

func silenceOutput(t *testing.T) {
	t.Helper()
	orig := printlnFn
	printlnFn = func(...any) (int, error) { return 0, nil }
	t.Cleanup(func() { printlnFn = orig })
}

func TestRunREPLDispatch(t *testing.T) {
	silenceOutput(t)

	input := strings.Join([]string{
		"help",
		"login",
		"help",
		"list",
		"open c1",
		"send hello there",
		"typing",
		"read",
		"close",
		"status",
		"nonsense",
		"logout",
		"exit",
	}, "\n")

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "" }, bufio.NewScanner(strings.NewReader(input)))

	require.Equal(t, []string{"login", "list", "open", "send", "typing", "read", "close", "status", "logout"}, exec.calls)
	require.Equal(t, "hello there", exec.lastArg)
}

func TestRunREPLOpenRequiresArgument(t *testing.T) {
	silenceOutput(t)

	exec := &fakeExec{loggedIn: true}
	input := "open\nsend\nexit\n"
	runREPL(context.Background(), exec, func() string { return "" }, bufio.NewScanner(strings.NewReader(input)))

	require.Empty(t, exec.calls)
}

func TestRunREPLExitsOnEOF(t *testing.T) {
	silenceOutput(t)

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "" }, bufio.NewScanner(strings.NewReader("list\n")))

	require.Equal(t, []string{"list"}, exec.calls)
}

func TestRunREPLKeepsArgumentOrder(t *testing.T) {
	silenceOutput(t)

	exec := &fakeExec{loggedIn: true}
	runREPL(context.Background(), exec, func() string { return "" },
		bufio.NewScanner(strings.NewReader("open conv-42\nquit\n")))

	require.Equal(t, "conv-42", exec.lastArg)
}

package cli

import (
	"context"
	"fmt"
	"log"
	"strings"
)

var errNotConnected = fmt.Errorf("not connected, log in first")

// Send delivers one message; the receiver id and the text come from args so
// "send bob hello there" works without extra prompts.
func (a *App) Send(ctx context.Context, args []string) error {
	session, userID := a.currentSession()
	if session == nil {
		return errNotConnected
	}
	if len(args) < 2 {
		fmt.Println("Usage: send <user> <text>")
		return nil
	}

	receiver := args[0]
	content := strings.Join(args[1:], " ")

	ack, err := session.SendMessage(ctx, userID, receiver, content, "")
	if err != nil {
		log.Printf("Send failed: %s", err.Error())
		return err
	}
	fmt.Printf("Sent (id %s)\n", ack.ID)
	return nil
}

// Online prints the current presence snapshot.
func (a *App) Online(ctx context.Context) error {
	session, _ := a.currentSession()
	if session == nil {
		return errNotConnected
	}

	users, err := session.OnlineUsers(ctx)
	if err != nil {
		log.Printf("Request failed: %s", err.Error())
		return err
	}
	if len(users) == 0 {
		fmt.Println("Nobody online")
		return nil
	}
	for _, u := range users {
		fmt.Println("  " + u)
	}
	return nil
}

// Users prints the directory of registered accounts.
func (a *App) Users(ctx context.Context) error {
	users, err := a.api.Users(ctx)
	if err != nil {
		log.Printf("Request failed: %s", err.Error())
		return err
	}
	for _, u := range users {
		fmt.Printf("  %s  %s (%s)\n", u.ID, u.Name, u.Phone)
	}
	return nil
}

// History prints a conversation and marks it read.
func (a *App) History(ctx context.Context, args []string) error {
	session, userID := a.currentSession()
	if session == nil {
		return errNotConnected
	}
	if len(args) < 1 {
		fmt.Println("Usage: history <user>")
		return nil
	}
	other := args[0]

	msgs, err := a.api.Conversation(ctx, other)
	if err != nil {
		log.Printf("Request failed: %s", err.Error())
		return err
	}

	for _, m := range msgs {
		who := m.Sender
		if m.Sender == userID {
			who = "me"
		}
		if m.Kind == "call" && m.Call != nil {
			fmt.Printf("[%s] %s: call, %s, %ds\n", m.CreatedAt.Format("Jan 2 15:04"), who, m.Call.Status, m.Call.Duration)
			continue
		}
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("Jan 2 15:04"), who, m.Content)
	}

	if _, err := session.MarkRead(ctx, userID, other); err != nil {
		log.Printf("Mark read failed: %s", err.Error())
	}
	return nil
}

// Recent prints the conversation list with unread counts.
func (a *App) Recent(ctx context.Context) error {
	convs, err := a.api.Recent(ctx)
	if err != nil {
		log.Printf("Request failed: %s", err.Error())
		return err
	}
	if len(convs) == 0 {
		fmt.Println("No conversations yet")
		return nil
	}
	for _, c := range convs {
		unread := ""
		if c.Unread > 0 {
			unread = fmt.Sprintf(" (%d unread)", c.Unread)
		}
		fmt.Printf("  %s%s: %s\n", c.Counterpart, unread, c.LastMessage.Content)
	}
	return nil
}

// Sessions prints this account's active sessions.
func (a *App) Sessions(ctx context.Context) error {
	sessions, err := a.api.Sessions(ctx)
	if err != nil {
		log.Printf("Request failed: %s", err.Error())
		return err
	}
	for _, s := range sessions {
		marker := " "
		if s.Current {
			marker = "*"
		}
		fmt.Printf("  %s %s  %s  last active %s\n", marker, s.ID, s.DeviceInfo, s.LastActive.Format("Jan 2 15:04"))
	}
	return nil
}

// Read marks a conversation as read without printing it.
func (a *App) Read(ctx context.Context, args []string) error {
	session, userID := a.currentSession()
	if session == nil {
		return errNotConnected
	}
	if len(args) < 1 {
		fmt.Println("Usage: read <user>")
		return nil
	}

	updated, err := session.MarkRead(ctx, userID, args[0])
	if err != nil {
		log.Printf("Mark read failed: %s", err.Error())
		return err
	}
	fmt.Printf("Marked %d messages read\n", updated)
	return nil
}

// Typing sends a typing notification to one user.
func (a *App) Typing(ctx context.Context, args []string) error {
	session, userID := a.currentSession()
	if session == nil {
		return errNotConnected
	}
	if len(args) < 1 {
		fmt.Println("Usage: typing <user>")
		return nil
	}
	return session.Typing(userID, args[0])
}

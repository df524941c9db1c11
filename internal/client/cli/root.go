package cli

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
)

func (a *App) getStatus() string {
	_, userID := a.currentSession()
	if userID == "" {
		return ""
	}
	return fmt.Sprintf("(%s)", userID)
}

func (a *App) Root(ctx context.Context) {

	log.Println("Welcome to holamess CLI (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Printf("hm %s> ", a.getStatus())
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				fmt.Println("Available commands: send, history, recent, online, users, typing, read, sessions, logout, exit")
			} else {
				fmt.Println("Available commands: register, login, exit")
			}

		case "register":
			_ = a.Register(ctx)
		case "login":
			_ = a.Login(ctx)
		case "send":
			_ = a.Send(ctx, args)
		case "history":
			_ = a.History(ctx, args)
		case "recent":
			_ = a.Recent(ctx)
		case "online":
			_ = a.Online(ctx)
		case "users":
			_ = a.Users(ctx)
		case "typing":
			_ = a.Typing(ctx, args)
		case "read":
			_ = a.Read(ctx, args)
		case "sessions":
			_ = a.Sessions(ctx)
		case "logout":
			_ = a.Logout(ctx)
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		default:
			fmt.Println("Unknown command:", cmd)
		}
	}

}

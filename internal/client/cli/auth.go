package cli

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/holamess/holamess/internal/client/realtime"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for a phone number, display name and password and creates
// a new account. The user still has to log in afterwards.
func (a *App) Register(ctx context.Context) error {
	phone, err := getSimpleText(a.reader, "Enter phone number", os.Stdout)
	if err != nil {
		return err
	}

	name, err := getSimpleText(a.reader, "Enter display name", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}

	if _, err := a.api.Signup(ctx, phone, name, string(password)); err != nil {
		log.Printf("Registration unsuccessfull: %s", err.Error())
		return err
	}

	fmt.Println("Success!")
	return nil
}

// Login authenticates over REST, then dials the realtime endpoint and
// performs the token handshake. On success incoming events start printing
// in the background.
func (a *App) Login(ctx context.Context) error {
	phone, err := getSimpleText(a.reader, "Enter phone number", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}

	if err := a.api.Login(ctx, phone, string(password)); err != nil {
		log.Printf("Login unsuccessfull: %s", err.Error())
		return err
	}

	session, err := realtime.Dial(a.config.ServerEndpointRealtime, a.config.RequestTimeout)
	if err != nil {
		log.Printf("Realtime connection failed: %s", err.Error())
		return err
	}

	userID, err := session.Authenticate(ctx, a.api.AccessToken(), a.config.Device)
	if err != nil {
		_ = session.Close()
		log.Printf("Realtime handshake failed: %s", err.Error())
		return err
	}

	a.api.SetUserID(userID)
	a.setSession(session, userID)
	go a.printEvents(session)

	log.Printf("Login successfull")
	return nil
}

// Logout revokes the session server-side and drops the realtime connection.
func (a *App) Logout(ctx context.Context) error {
	a.disconnect()
	if err := a.api.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Logged out")
	return nil
}

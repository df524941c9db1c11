package cli

import (
	"fmt"

	"github.com/holamess/holamess/internal/client/realtime"
	"github.com/holamess/holamess/internal/wire"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// printEvents drains the session's event channel until the connection drops,
// rendering each signal as one line.
func (a *App) printEvents(s *realtime.Session) {
	for ev := range s.Events() {
		a.printEvent(ev)
	}
	if err := s.Err(); err != nil && err != realtime.ErrClosed {
		printlnFn("! connection lost:", err.Error())
	}
}

func (a *App) printEvent(ev realtime.Event) {
	switch ev.Kind {

	case wire.KindPrivateMessage:
		p, err := wire.DecodePayload[wire.MessagePayload](ev.Envelope)
		if err != nil {
			return
		}
		if p.Kind == "call" && p.Call != nil {
			printlnFn(fmt.Sprintf("[%s] call with %s: %s, %ds", p.CreatedAt.Format("15:04"), p.Sender, p.Call.Status, p.Call.Duration))
			return
		}
		printlnFn(fmt.Sprintf("[%s] %s: %s", p.CreatedAt.Format("15:04"), p.Sender, p.Content))

	case wire.KindTyping:
		p, err := wire.DecodePayload[wire.TypingEventPayload](ev.Envelope)
		if err != nil {
			return
		}
		printlnFn(fmt.Sprintf("... %s is typing", p.Sender))

	case wire.KindUserOnline:
		p, err := wire.DecodePayload[wire.UserOnlinePayload](ev.Envelope)
		if err != nil {
			return
		}
		printlnFn("+ " + p.UserID + " is online")

	case wire.KindUserOffline:
		p, err := wire.DecodePayload[wire.UserOfflinePayload](ev.Envelope)
		if err != nil {
			return
		}
		printlnFn("- " + p.UserID + " went offline")

	case wire.KindReceiptRead:
		p, err := wire.DecodePayload[wire.ReceiptReadPayload](ev.Envelope)
		if err != nil {
			return
		}
		printlnFn("✓ " + p.ReaderID + " read your messages")

	case wire.KindMessagesRead:
		// Another of this user's devices read a conversation; nothing to show.

	case wire.KindDeviceConnected:
		p, err := wire.DecodePayload[wire.DeviceConnectedPayload](ev.Envelope)
		if err != nil {
			return
		}
		printlnFn("* another device connected: " + p.Device)

	case wire.KindDeviceDisconnected:
		p, err := wire.DecodePayload[wire.DeviceDisconnectedPayload](ev.Envelope)
		if err != nil {
			return
		}
		printlnFn("* device disconnected: " + p.Device)

	case wire.KindIncomingCall:
		p, err := wire.DecodePayload[wire.IncomingCallPayload](ev.Envelope)
		if err != nil {
			return
		}
		printlnFn("☎ incoming call from " + p.CallerID + " (call " + p.CallID + ")")

	case wire.KindCallEnded:
		p, err := wire.DecodePayload[wire.CallEndedPayload](ev.Envelope)
		if err != nil {
			return
		}
		printlnFn(fmt.Sprintf("☎ call %s ended (%ds)", p.CallID, p.Duration))

	case wire.KindTokenExpired:
		printlnFn("! session expired, please log in again")

	case wire.KindAuthError:
		p, err := wire.DecodePayload[wire.AuthErrorPayload](ev.Envelope)
		if err != nil {
			return
		}
		printlnFn("! auth error: " + p.Error + " (" + p.Code + ")")

	case wire.KindErrorMessage:
		p, err := wire.DecodePayload[wire.ErrorPayload](ev.Envelope)
		if err != nil {
			return
		}
		printlnFn("! " + p.Error)
	}
}

// Command client is a terminal chat client for manual testing: it logs in
// against the api service, speaks the envelope protocol to a gateway and
// prints everything the room delivers.
package main

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/crypto"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/protocol"
)

func login(apiAddr, userID, sessionKey string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"userId": userID, "sessionKey": sessionKey})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	roomID := flag.String("room", "general", "room id")
	dmUser := flag.String("dm", "", "user id to dm (overrides -room)")
	secure := flag.Bool("secure", false, "encrypt message content")
	flag.Parse()

	finalRoomID := *roomID
	if *dmUser != "" {
		u1, u2 := *userID, *dmUser
		if u1 > u2 {
			u1, u2 = u2, u1
		}
		finalRoomID = fmt.Sprintf("dm:%s:%s", u1, u2)
	}
	topic := protocol.RoomTopic(finalRoomID)

	var key []byte
	sessionKey := ""
	if *secure {
		key = make([]byte, crypto.KeySize)
		if _, err := rand.Read(key); err != nil {
			log.Fatal("generate session key:", err)
		}
		sessionKey = hex.EncodeToString(key)
	}

	log.Printf("Logging in as %s...", *userID)
	token, err := login(*apiAddr, *userID, sessionKey)
	if err != nil {
		log.Fatal("Login failed: ", err)
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws", RawQuery: "token=" + token}
	log.Printf("connecting to %s", u.Host)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	msgRef := 0
	nextRef := func() string {
		msgRef++
		return strconv.Itoa(msgRef)
	}
	writeFrame := func(event string, payload any) error {
		raw, err := json.Marshal([]any{"1", nextRef(), topic, event, payload})
		if err != nil {
			return err
		}
		return c.WriteMessage(websocket.TextMessage, raw)
	}

	if err := writeFrame(protocol.EventJoin, map[string]any{}); err != nil {
		log.Fatal("join:", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}
			frame, err := protocol.Parse(message)
			if err != nil {
				log.Printf("Received raw: %s", message)
				continue
			}
			printFrame(frame, key)
		}
	}()

	// Heartbeats keep presence alive.
	go func() {
		ticker := time.NewTicker(25 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			raw, _ := json.Marshal([]any{nil, nextRef(), "global", protocol.EventHeartbeat, map[string]any{}})
			if err := c.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			switch {
			case text == "":
			case text == "/quit":
				close(interrupt)
				return
			case text == "/typing":
				if err := writeFrame(protocol.EventTypingStart, map[string]any{"userId": *userID}); err != nil {
					log.Println("write:", err)
					return
				}
			case text == "/read":
				if err := writeFrame(protocol.EventRead, map[string]any{"clientId": uuid.NewString()}); err != nil {
					log.Println("write:", err)
					return
				}
			case text == "/sync":
				if err := writeFrame(protocol.EventSyncPending, map[string]any{}); err != nil {
					log.Println("write:", err)
					return
				}
			default:
				content := text
				if key != nil {
					sealed, encErr := crypto.Encrypt(key, text)
					if encErr != nil {
						log.Println("encrypt:", encErr)
						continue
					}
					content = sealed
				}
				payload := map[string]any{
					"clientId": uuid.NewString(),
					"content":  content,
					"secure":   key != nil,
				}
				if err := writeFrame(protocol.EventMessage, payload); err != nil {
					log.Println("write:", err)
					return
				}
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("interrupt")
			err := c.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("write close:", err)
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}

func printFrame(f *protocol.Frame, key []byte) {
	switch f.Event {
	case protocol.EventMessage:
		sender, _ := f.Payload["senderId"].(string)
		content, _ := f.Payload["content"].(string)
		if key != nil && protocol.Secure(f.Payload) && protocol.LooksEncrypted(content) {
			if plain, err := crypto.Decrypt(key, content); err == nil {
				content = plain
			}
		}
		fmt.Printf("\r%s: %s\n> ", sender, content)
	case protocol.EventTypingStart:
		user, _ := f.Payload["userId"].(string)
		fmt.Printf("\r%s is typing...\n> ", user)
	case protocol.EventReply:
		// Transport acks are noise in the chat view.
	default:
		raw, _ := json.Marshal(f.Payload)
		fmt.Printf("\r[%s] %s\n> ", f.Event, raw)
	}
}

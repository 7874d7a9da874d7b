// Command verify_api is a smoke test against a running api service: login,
// create a room, pull history and the unread snapshot.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
)

func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "test_user", "user id")
	roomID := flag.String("room", "dm:userA:userB", "room id")
	flag.Parse()

	// 1. Login.
	reqBody, _ := json.Marshal(map[string]string{"userId": *userID})
	resp, err := http.Post(*apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Token: %s...\n", loginResp.Token[:10])

	get := func(path string) {
		req, _ := http.NewRequest(http.MethodGet, *apiAddr+path, nil)
		req.Header.Add("Authorization", "Bearer "+loginResp.Token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Fatalf("GET %s failed: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		log.Printf("GET %s -> %d %s", path, resp.StatusCode, string(body))
	}

	// 2. Create the room so the member check passes.
	roomBody, _ := json.Marshal(map[string]any{
		"roomId":  *roomID,
		"name":    "smoke test room",
		"members": []string{*userID, "userA", "userB"},
	})
	req, _ := http.NewRequest(http.MethodPost, *apiAddr+"/api/chat/rooms", bytes.NewBuffer(roomBody))
	req.Header.Add("Authorization", "Bearer "+loginResp.Token)
	req.Header.Add("Content-Type", "application/json")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal("create room failed:", err)
	}
	resp2.Body.Close()
	log.Printf("POST /api/chat/rooms -> %d", resp2.StatusCode)

	// 3. Read endpoints.
	get("/api/chat/rooms/" + *roomID)
	get("/api/chat/" + *roomID + "/history")
	get("/api/chat/" + *roomID + "/last-read")
	get("/api/chat/unread")
	get("/api/chat/" + *roomID + "/pending-ack")
	get("/api/channels/" + *roomID + "/users")
	get("/api/users/userA/status")
}

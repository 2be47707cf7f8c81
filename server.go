package main

import (
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocket clients
var (
	wsClients   = make(map[*Client]bool)
	wsClientsMu sync.RWMutex
)

type Client struct {
	conn *websocket.Conn
	send chan interface{}
}

// writePump pumps events from the hub to the websocket connection.
func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// runServer starts the HTTP/WebSocket control server.
func runServer(port int) {
	upgrader := websocket.Upgrader{
		CheckOrigin:     func(r *http.Request) bool { return true },
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}

	state := &AppState{}

	// Instrument endpoints
	http.HandleFunc("/api/instrument/connect", state.handleInstrumentConnect)
	http.HandleFunc("/api/instrument/disconnect", state.handleInstrumentDisconnect)

	// DUT endpoints
	http.HandleFunc("/api/dut/connect", state.handleDUTConnect)
	http.HandleFunc("/api/dut/disconnect", state.handleDUTDisconnect)

	// Waveform endpoints
	http.HandleFunc("/api/waveform/load", state.handleWaveformLoad)
	http.HandleFunc("/api/waveform/export", state.handleWaveformExport)

	// Playback endpoints
	http.HandleFunc("/api/play", state.handlePlay)
	http.HandleFunc("/api/stop", state.handleStop)

	// Sweep endpoints
	http.HandleFunc("/api/sweep/start", state.handleSweepStart)
	http.HandleFunc("/api/sweep/cancel", state.handleSweepCancel)

	// State snapshot
	http.HandleFunc("/api/state", state.handleState)

	// WebSocket event endpoint
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("Upgrade:", err)
			return
		}

		log.Println("Client connected")

		client := &Client{conn: conn, send: make(chan interface{}, 256)}

		wsClientsMu.Lock()
		wsClients[client] = true
		wsClientsMu.Unlock()

		go client.writePump()

		defer func() {
			wsClientsMu.Lock()
			delete(wsClients, client)
			wsClientsMu.Unlock()
			close(client.send) // stops writePump
			log.Println("Client disconnected")
		}()

		// The event stream is one-way; drain the connection until the
		// client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	addr := fmt.Sprintf(":%d", port)
	log.Printf("RX sweep server listening on http://localhost%s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func broadcastJSON(msg interface{}) {
	wsClientsMu.RLock()
	defer wsClientsMu.RUnlock()

	for client := range wsClients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

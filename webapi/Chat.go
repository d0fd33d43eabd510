/*
File Name:  Chat.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers
*/

package webapi

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/meshchat/core"
	"github.com/meshchat/core/protocol"
)

type apiChatMessage struct {
	Content  string `json:"content"`
	DeviceID string `json:"deviceID,omitempty"` // Unicast target. Empty = broadcast.
	TTL      uint8  `json:"ttl,omitempty"`      // 0 uses the default hop budget.
}

// apiChatBroadcast floods a chat message into the mesh.
func (api *WebapiInstance) apiChatBroadcast(w http.ResponseWriter, r *http.Request) {
	var request apiChatMessage
	if DecodeJSON(w, r, &request) != nil {
		return
	}

	err := api.Backend.Broadcast(protocol.TypeMessage, []byte(request.Content), ttlOrDefault(request.TTL))
	writeSendResult(api.Backend, w, r, err)
}

// apiChatUnicast sends a chat message to a single connected device.
func (api *WebapiInstance) apiChatUnicast(w http.ResponseWriter, r *http.Request) {
	var request apiChatMessage
	if DecodeJSON(w, r, &request) != nil {
		return
	}
	if request.DeviceID == "" {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	err := api.Backend.UnicastTo(request.DeviceID, protocol.TypeMessage, []byte(request.Content), ttlOrDefault(request.TTL))
	writeSendResult(api.Backend, w, r, err)
}

func ttlOrDefault(ttl uint8) uint8 {
	if ttl == 0 {
		return 7
	}
	return ttl
}

func writeSendResult(backend *core.Backend, w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		EncodeJSON(backend, w, r, map[string]bool{"ok": true})
	case errors.Is(err, core.ErrRateLimited):
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	case errors.Is(err, core.ErrLinkUnavailable):
		http.Error(w, "link unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "", http.StatusInternalServerError)
	}
}

// wsWriter adapts a websocket connection to io.Writer so it can subscribe to
// the backend console. Writes from the console fan-out may interleave with
// nothing else, but the mutex keeps a slow reader from corrupting frames.
type wsWriter struct {
	conn  *websocket.Conn
	mutex sync.Mutex
}

func (w *wsWriter) Write(p []byte) (n int, err error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if err = w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// apiConsole streams the backend console over a websocket: chat lines and
// presence changes, one text frame per line.
func (api *WebapiInstance) apiConsole(w http.ResponseWriter, r *http.Request) {
	conn, err := WSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id := api.Backend.Stdout.Subscribe(&wsWriter{conn: conn})
	defer api.Backend.Stdout.Unsubscribe(id)

	// Block until the client goes away. Inbound frames are discarded.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

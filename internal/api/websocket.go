package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AaronLay10/OverlayEngine/internal/events"
)

const (
	// recent events replayed on connect
	recentEventsCount = 50

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // must be less than pongWait
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// eventFilter matches event names against comma-separated prefixes such
// as "sensor.,procedure.". An empty filter matches everything.
type eventFilter []string

func parseEventFilter(raw string) eventFilter {
	var f eventFilter
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			f = append(f, p)
		}
	}
	return f
}

func (f eventFilter) match(name string) bool {
	if len(f) == 0 {
		return true
	}
	for _, p := range f {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func writeEvent(conn *websocket.Conn, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// wsEventsHandler streams engine events to the client. The optional
// "events" query parameter restricts the stream by name prefix.
func wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	filter := parseEventFilter(r.URL.Query().Get("events"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}

	sub := events.Subscribe()
	closeAll := func() {
		events.Unsubscribe(sub)
		conn.Close()
	}

	for _, e := range events.RecentEvents(recentEventsCount) {
		if !filter.match(e.Name) {
			continue
		}
		if err := writeEvent(conn, e); err != nil {
			log.Printf("ws write recent event failed: %v", err)
			closeAll()
			return
		}
	}

	// reader handles pongs and close frames
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			closeAll()
			return

		case e, ok := <-sub:
			if !ok {
				conn.Close()
				return
			}
			if !filter.match(e.Name) {
				continue
			}
			if err := writeEvent(conn, e); err != nil {
				log.Printf("ws write event failed: %v", err)
				closeAll()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				closeAll()
				return
			}
		}
	}
}

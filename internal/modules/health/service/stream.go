package service

import (
	"net/http"
	"time"
	"trade_engine/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// дашборд живёт на другом origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEvents отдаёт события движка в websocket, пока клиент не отвалится.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[API] ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	sub := a.engine.Subscribe()
	defer sub.Close()
	a.state.StreamOpened()
	defer a.state.StreamClosed()

	// читаем только ради close/pong
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "engine shutting down"),
					time.Now().Add(writeWait))
				return
			}
			b, err := sonic.Marshal(ev)
			if err != nil {
				logger.Error("[API] encode event: %v", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

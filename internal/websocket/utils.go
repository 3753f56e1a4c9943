package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// readWait is generous: clients heartbeat far more often than this.
	readWait = 2 * time.Minute
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteData sends a payload under the given event name.
func WriteData(conn *websocket.Conn, event Event, data interface{}) error {
	return WriteTyped(conn, DataResponse{Event: event, Data: data})
}

// WriteError sends a typed ErrorResponse over the WebSocket. data may carry
// server state for the client to resync with.
func WriteError(conn *websocket.Conn, code, errMsg string, data interface{}) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Code:  code,
		Error: errMsg,
		Data:  data,
	})
}

// ReadMessage reads one raw frame with a read deadline.
func ReadMessage(conn *websocket.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(readWait))
	_, data, err := conn.ReadMessage()
	return data, err
}

package util

import (
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"
)

// SendText writes a single text frame with a write deadline. Callers must not
// write to conn from more than one goroutine.
func SendText(conn *websocket.Conn, msg []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("error setting write deadline: %w", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("error writing message: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML file into a zero T.
func LoadConfig[T any](filepath string) (*T, error) {
	var zero T
	return LoadConfigOver(filepath, zero)
}

// LoadConfigOver unmarshals a YAML file over defaults. Keys absent from the
// file keep their default.
func LoadConfigOver[T any](filepath string, defaults T) (*T, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	config := defaults
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	return &config, nil
}

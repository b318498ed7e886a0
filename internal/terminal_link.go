package internal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xKoRx/hedge/internal/compress"
	"github.com/xKoRx/hedge/internal/domain"
	"github.com/xKoRx/hedge/internal/telemetry"
)

// TerminalLink abstrae una conexión viva a un terminal (facilita mocking).
type TerminalLink interface {
	// Send serializa y envía un frame JSON al terminal, comprimido si el
	// codec lo decide.
	Send(ctx context.Context, msg map[string]interface{}) error
	// Messages retorna el canal de frames entrantes ya descomprimidos.
	// Se cierra cuando la conexión muere.
	Messages() <-chan map[string]interface{}
	// Ping envía un ping de control y retorna error si el peer no responde.
	Ping(ctx context.Context) error
	// Close cierra la conexión.
	Close() error
}

// TerminalDialer abre conexiones a terminales (facilita mocking).
type TerminalDialer interface {
	// Dial conecta al terminal y completa el handshake AUTH.
	Dial(ctx context.Context, url string, auth *domain.AuthFrame) (TerminalLink, error)
}

// wsDialer implementación real sobre gorilla/websocket.
type wsDialer struct {
	codec   *compress.Compressor
	metrics *telemetry.HedgeMetrics
}

// NewTerminalDialer crea el dialer WebSocket real. metrics puede ser nil
// (métricas deshabilitadas).
func NewTerminalDialer(codec *compress.Compressor, metrics *telemetry.HedgeMetrics) TerminalDialer {
	return &wsDialer{codec: codec, metrics: metrics}
}

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	readSizeLimit = 1 << 20 // 1 MiB por frame
)

// Dial conecta, envía el frame AUTH y arranca el read loop.
func (d *wsDialer) Dial(ctx context.Context, url string, auth *domain.AuthFrame) (TerminalLink, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConnectionLost, "dial terminal", err)
	}

	conn.SetReadLimit(readSizeLimit)

	link := &wsLink{
		conn:     conn,
		codec:    d.codec,
		metrics:  d.metrics,
		messages: make(chan map[string]interface{}, 64),
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := link.Send(ctx, domain.AuthFrameToJSON(auth)); err != nil {
		_ = conn.Close()
		return nil, domain.WrapError(domain.ErrConnectionLost, "auth handshake", err)
	}

	go link.readLoop()

	return link, nil
}

// wsLink conexión WebSocket a un terminal.
//
// gorilla/websocket permite un solo escritor concurrente; writeMu
// serializa Send y Ping.
type wsLink struct {
	conn     *websocket.Conn
	codec    *compress.Compressor
	metrics  *telemetry.HedgeMetrics
	messages chan map[string]interface{}

	writeMu sync.Mutex
	closed  sync.Once
}

// encodeOutbound serializa un frame saliente, comprimido en envelope si el
// codec lo decide, y registra la métrica de compresión.
func (l *wsLink) encodeOutbound(ctx context.Context, msg map[string]interface{}) ([]byte, error) {
	payload, err := l.codec.Compress(msg)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "encode frame", err)
	}

	if payload.Algorithm == compress.AlgorithmNone {
		// Bajo el umbral viaja el JSON crudo, sin envelope.
		return payload.Data, nil
	}

	frame, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "encode envelope", err)
	}
	l.metrics.RecordCompressedMessage(ctx, payload.CompressionRatio,
		telemetry.Hedge.Algorithm.String(string(payload.Algorithm)))
	return frame, nil
}

func (l *wsLink) Send(ctx context.Context, msg map[string]interface{}) error {
	frame, err := l.encodeOutbound(ctx, msg)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = l.conn.SetWriteDeadline(deadline)

	if err := l.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return domain.WrapError(domain.ErrConnectionLost, "write frame", err)
	}
	return nil
}

func (l *wsLink) Messages() <-chan map[string]interface{} {
	return l.messages
}

func (l *wsLink) Ping(ctx context.Context) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := l.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return domain.WrapError(domain.ErrConnectionLost, "ping", err)
	}
	return nil
}

func (l *wsLink) Close() error {
	var err error
	l.closed.Do(func() {
		l.writeMu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		l.writeMu.Unlock()
		err = l.conn.Close()
	})
	return err
}

// readLoop lee frames hasta que la conexión muere y cierra el canal de
// mensajes para que el manager detecte la caída.
func (l *wsLink) readLoop() {
	defer close(l.messages)

	_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := l.decodeFrame(raw)
		if err != nil || msg == nil {
			// Frame malformado: se descarta, el pipeline de alertas lo
			// reporta vía el manager al no ver actividad esperada.
			continue
		}
		l.messages <- msg
	}
}

// decodeFrame distingue un envelope comprimido de un frame JSON plano.
func (l *wsLink) decodeFrame(raw []byte) (map[string]interface{}, error) {
	var head struct {
		Algorithm string `json:"algorithm"`
		Data      []byte `json:"data"`
	}
	if err := json.Unmarshal(raw, &head); err == nil && head.Algorithm != "" && head.Data != nil {
		var envelope compress.Payload
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, err
		}
		decoded, err := compress.DecodePayload(&envelope)
		if err != nil {
			return nil, err
		}
		raw = decoded
	}

	var msg map[string]interface{}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

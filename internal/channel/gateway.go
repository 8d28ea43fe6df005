package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gigabot/internal/domain"
)

// Gateway exposes the agent over a local WebSocket endpoint so custom
// frontends can talk to it. Frames are JSON; inbound frames carry
// chatId, senderId, and content, outbound frames carry chatId and
// content.
type Gateway struct {
	host      string
	port      int
	path      string
	allowList *AllowList
	bus       domain.MessageBus
	logger    *slog.Logger
	server    *http.Server

	mu      sync.RWMutex
	clients map[string]*gatewayClient
}

// gatewayClient tracks one connected frontend. Writes go through the
// client mutex because gorilla connections allow a single writer.
type gatewayClient struct {
	conn   *websocket.Conn
	chatID string
	mu     sync.Mutex
}

// gatewayFrame is the wire format in both directions.
type gatewayFrame struct {
	Type     string   `json:"type"` // "message" | "status"
	ChatID   string   `json:"chatId,omitempty"`
	SenderID string   `json:"senderId,omitempty"`
	Content  string   `json:"content,omitempty"`
	Media    []string `json:"media,omitempty"`
}

type GatewayConfig struct {
	Host      string
	Port      int
	Path      string
	AllowFrom []string
	Logger    *slog.Logger
}

var gatewayUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The gateway binds to localhost by default; origin checks are
		// the frontend's concern.
		return true
	},
}

func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Port == 0 {
		cfg.Port = 8765
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	return &Gateway{
		host:      cfg.Host,
		port:      cfg.Port,
		path:      cfg.Path,
		allowList: NewAllowList(cfg.AllowFrom),
		logger:    cfg.Logger,
		clients:   make(map[string]*gatewayClient),
	}
}

func (g *Gateway) Name() string { return "gateway" }

func (g *Gateway) IsAllowed(senderID string) bool {
	return g.allowList.Allowed(senderID)
}

// Start serves the WebSocket endpoint until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context, bus domain.MessageBus) error {
	g.bus = bus

	mux := http.NewServeMux()
	mux.Handle(g.path, g.handler())

	g.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", g.host, g.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.logger.Info("gateway listening", "addr", g.server.Addr, "path", g.path)

	errCh := make(chan error, 1)
	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return g.Stop()
	case err := <-errCh:
		return err
	}
}

// Stop closes every client connection and shuts the server down.
func (g *Gateway) Stop() error {
	g.closeAllClients()
	if g.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.server.Shutdown(shutdownCtx)
}

// handler upgrades the connection and runs the read loop. Factored out
// of Start so it can be served from any mux.
func (g *Gateway) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := gatewayUpgrader.Upgrade(w, r, nil)
		if err != nil {
			g.logger.Error("gateway upgrade failed", "err", err)
			return
		}

		chatID := r.URL.Query().Get("chat_id")
		if chatID == "" {
			chatID = fmt.Sprintf("ws-%d", time.Now().UnixNano())
		}

		client := &gatewayClient{conn: conn, chatID: chatID}
		clientID := fmt.Sprintf("%s-%p", chatID, conn)

		g.mu.Lock()
		g.clients[clientID] = client
		g.mu.Unlock()

		g.logger.Info("gateway client connected", "client_id", clientID, "chat_id", chatID)
		client.write(gatewayFrame{Type: "status", ChatID: chatID, Content: "connected"})

		defer func() {
			g.mu.Lock()
			delete(g.clients, clientID)
			g.mu.Unlock()
			conn.Close()
			g.logger.Info("gateway client disconnected", "client_id", clientID)
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					g.logger.Error("gateway read error", "err", err)
				}
				return
			}

			var frame gatewayFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				g.logger.Warn("invalid gateway frame", "err", err)
				continue
			}
			if frame.Type != "message" || frame.Content == "" {
				continue
			}

			senderID := frame.SenderID
			if senderID == "" {
				senderID = "gateway-user"
			}
			if !g.IsAllowed(senderID) {
				logDenied(g.logger, "gateway", senderID)
				continue
			}

			g.bus.PublishInbound(domain.InboundMessage{
				Channel:   "gateway",
				ChatID:    chatID,
				SenderID:  senderID,
				Content:   frame.Content,
				Timestamp: time.Now(),
			})
		}
	})
}

// Send delivers the reply to every connection bound to the chat.
func (g *Gateway) Send(ctx context.Context, msg domain.OutboundMessage) error {
	g.mu.RLock()
	targets := make([]*gatewayClient, 0, len(g.clients))
	for _, client := range g.clients {
		if client.chatID == msg.ChatID {
			targets = append(targets, client)
		}
	}
	g.mu.RUnlock()

	if len(targets) == 0 {
		return fmt.Errorf("no gateway client for chat %q", msg.ChatID)
	}

	frame := gatewayFrame{
		Type:    "message",
		ChatID:  msg.ChatID,
		Content: msg.Content,
		Media:   msg.Media,
	}
	for _, client := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := client.write(frame); err != nil {
			g.logger.Warn("gateway write failed", "chat_id", msg.ChatID, "err", err)
		}
	}
	return nil
}

func (c *gatewayClient) write(frame gatewayFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (g *Gateway) closeAllClients() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, client := range g.clients {
		client.conn.Close()
		delete(g.clients, id)
	}
}

var _ domain.Channel = (*Gateway)(nil)

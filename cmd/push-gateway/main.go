// cmd/push-gateway/main.go
package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"

	"storefront/internal/pkg/bootstrap"
	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/mq"
	"storefront/internal/pkg/redis"
)

const (
	serviceName = "push-gateway"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sessionKeyPrefix = "push:session:"
	sessionTTL       = 2 * time.Minute
)

var nodeID = "push-gateway-" + uuid.New().String()[:8]

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 简化处理，允许所有跨域
		return true
	},
}

// Hub 维护所有活跃的连接，按 clientID 定向推送
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	lock       sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.lock.Lock()
			// 同一客户重连时替换旧连接
			if old, ok := h.clients[client.clientID]; ok {
				close(old.send)
			}
			h.clients[client.clientID] = client
			h.lock.Unlock()
			logger.Logger().Info().Str("client_id", client.clientID).Str("node", nodeID).Msg("client registered")
		case client := <-h.unregister:
			h.lock.Lock()
			if current, ok := h.clients[client.clientID]; ok && current == client {
				delete(h.clients, client.clientID)
				close(client.send)
			}
			h.lock.Unlock()
			logger.Logger().Info().Str("client_id", client.clientID).Msg("client unregistered")
		}
	}
}

// deliver 把一条消息投给指定客户；客户不在本节点时静默丢弃。
func (h *Hub) deliver(clientID string, message []byte) {
	h.lock.RLock()
	client, ok := h.clients[clientID]
	h.lock.RUnlock()
	if !ok {
		return
	}
	select {
	case client.send <- message:
	default:
		// 发送缓冲已满，说明对端早已不读了
		h.unregister <- client
	}
}

// Client 是一个WebSocket连接的代表
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	clientID string
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// 客户端只发心跳，读到任何错误即断开
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func serveWs(hub *Hub, sessions *redis.Client, w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		http.Error(w, "clientId is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger().Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), clientID: clientID}
	hub.register <- client

	// 会话登记：多节点部署时 message-router 可按 nodeID 定向路由
	if err := sessions.GetClient().Set(r.Context(), sessionKeyPrefix+clientID, nodeID, sessionTTL).Err(); err != nil {
		logger.Logger().Warn().Err(err).Str("client_id", clientID).Msg("failed to record session")
	}

	go client.writePump()
	go client.readPump()
}

// consumePaymentEvents 消费支付结果事件并推给还在线的客户端。
// 消息体就是 checkout 发布的 PaymentResultEvent，分区键是 clientId。
// 推送只是提示，错过了也能靠确认接口补偿，所以消费失败只记日志。
func consumePaymentEvents(ctx context.Context, reader *kafka.Reader, hub *Hub) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Logger().Error().Err(err).Msg("failed to read payment event")
			continue
		}
		msgCtx := mq.ExtractContext(ctx, msg)
		logger.Ctx(msgCtx).Info().Str("client_id", string(msg.Key)).Msg("payment event received")
		hub.deliver(string(msg.Key), msg.Value)
	}
}

func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	sessions := redis.NewClient(cfg.Infra.Redis.Addr)

	hub := newHub()
	go hub.run()

	consumeCtx, cancelConsume := context.WithCancel(context.Background())
	reader := mq.NewReader(cfg.Infra.Kafka.Brokers, serviceName, cfg.Infra.Kafka.PaymentEventsTopic)
	go consumePaymentEvents(consumeCtx, reader, hub)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8088,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
				serveWs(hub, sessions, w, r)
			})
		},
		OnShutdown: []func(ctx context.Context){
			func(ctx context.Context) {
				cancelConsume()
				reader.Close()
			},
			func(ctx context.Context) { sessions.Close() },
		},
	})
}

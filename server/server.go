package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mwaldrep/downlink/ccsds"
)

//
// Server
//

// Server relays decoded packets to websocket clients subscribed by APID.
type Server struct {
	// Configuration
	Host string
	Port int

	WebsocketPrefix string
	StatusPrefix    string

	// Channels
	PacketChan chan ccsds.DecodedPacket

	StopRequest chan os.Signal

	// Internal state, owned by handleSubscriptions
	clients             map[*websocket.Conn]*Client
	packetDispatchTable atomic.Value // *[2048][]*Client

	addClientChan    chan *Client
	removeClientChan chan *Client
	updateSubsChan   chan *subscriptionUpdate

	received [2048]uint64
	relayed  [2048]uint64
}

type subscriptionUpdate struct {
	client    *Client
	subscribe bool
	apids     []int
}

// Run serves until interrupted. The default listen address is :8000.
func (server *Server) Run() error {
	if server.Port == 0 {
		server.Port = 8000
	}
	if server.WebsocketPrefix == "" {
		server.WebsocketPrefix = "/realtime/"
	}
	if server.StatusPrefix == "" {
		server.StatusPrefix = "/status"
	}
	if server.PacketChan == nil {
		server.PacketChan = make(chan ccsds.DecodedPacket, 300)
	}

	server.clients = map[*websocket.Conn]*Client{}
	server.addClientChan = make(chan *Client, 20)
	server.removeClientChan = make(chan *Client, 20)
	server.updateSubsChan = make(chan *subscriptionUpdate, 20)
	server.packetDispatchTable.Store(&[2048][]*Client{})

	router := mux.NewRouter()
	router.HandleFunc(server.StatusPrefix, server.handleStatus).Methods("GET")
	router.HandleFunc(server.WebsocketPrefix, server.serveWS)

	go server.handleSubscriptions()
	go server.packetPump()

	addr := fmt.Sprintf("%s:%d", server.Host, server.Port)
	h := &http.Server{Addr: addr, Handler: router}

	if server.StopRequest == nil {
		server.StopRequest = make(chan os.Signal, 2)
	}
	signal.Notify(server.StopRequest, os.Interrupt)
	go func() {
		<-server.StopRequest
		h.Close()
	}()

	log.WithField("addr", addr).Info("packet relay listening")
	if err := h.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Router returns the request router alone, for tests and embedding.
func (server *Server) Router() *mux.Router {
	server.clients = map[*websocket.Conn]*Client{}
	server.addClientChan = make(chan *Client, 20)
	server.removeClientChan = make(chan *Client, 20)
	server.updateSubsChan = make(chan *subscriptionUpdate, 20)
	server.packetDispatchTable.Store(&[2048][]*Client{})
	if server.PacketChan == nil {
		server.PacketChan = make(chan ccsds.DecodedPacket, 300)
	}
	go server.handleSubscriptions()
	go server.packetPump()

	router := mux.NewRouter()
	router.HandleFunc("/status", server.handleStatus).Methods("GET")
	router.HandleFunc("/realtime/", server.serveWS)
	return router
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (server *Server) serveWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.WithError(err).Error("websocket upgrade failed")
		return
	}
	client := newClient(server, conn)
	server.addClientChan <- client
	go client.writePump()
	go client.readPump()
}

// handleSubscriptions owns the client set and rebuilds the APID dispatch
// table whenever membership or subscriptions change.
func (server *Server) handleSubscriptions() {
	for {
		select {
		case client := <-server.addClientChan:
			server.clients[client.conn] = client
			log.WithField("remote", client.conn.RemoteAddr().String()).Info("client connected")
		case client := <-server.removeClientChan:
			if _, ok := server.clients[client.conn]; ok {
				delete(server.clients, client.conn)
				close(client.send)
				client.conn.Close()
				log.WithField("remote", client.conn.RemoteAddr().String()).Info("client disconnected")
			}
		case update := <-server.updateSubsChan:
			for _, apid := range update.apids {
				if apid < 0 || apid >= len(update.client.subscriptions) {
					continue
				}
				update.client.subscriptions[apid] = update.subscribe
			}
		}
		server.rebuildDispatch()
	}
}

func (server *Server) rebuildDispatch() {
	var table [2048][]*Client
	for _, client := range server.clients {
		for apid, on := range client.subscriptions {
			if on {
				table[apid] = append(table[apid], client)
			}
		}
	}
	server.packetDispatchTable.Store(&table)
}

// packetMessage is the wire form of a relayed packet.
type packetMessage struct {
	APID     int    `json:"apid"`
	SCID     int    `json:"scid"`
	VCID     int    `json:"vcid"`
	Sequence int    `json:"sequence"`
	Length   int    `json:"length"`
	Data     []byte `json:"data"`
}

// packetPump dispatches incoming packets to subscribed clients.
func (server *Server) packetPump() {
	for pkt := range server.PacketChan {
		apid := int(pkt.Packet.Header.APID)
		if apid >= 2048 {
			continue
		}
		atomic.AddUint64(&server.received[apid], 1)

		table := server.packetDispatchTable.Load().(*[2048][]*Client)
		clients := table[apid]
		if len(clients) == 0 {
			continue
		}

		msg, err := json.Marshal(packetMessage{
			APID:     apid,
			SCID:     int(pkt.SCID),
			VCID:     int(pkt.VCID),
			Sequence: int(pkt.Packet.Header.SequenceCount),
			Length:   len(pkt.Packet.Data),
			Data:     pkt.Packet.Data,
		})
		if err != nil {
			continue
		}
		atomic.AddUint64(&server.relayed[apid], uint64(len(clients)))
		send(msg, clients...)
	}
}

func send(msg []byte, clients ...*Client) {
	for _, client := range clients {
		select {
		case client.send <- msg:
		default:
			// slow consumer, drop the message rather than the pipeline
		}
	}
}

type statusResponse struct {
	Clients  int            `json:"clients"`
	Received map[int]uint64 `json:"received"`
	Relayed  map[int]uint64 `json:"relayed"`
}

func (server *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Received: map[int]uint64{},
		Relayed:  map[int]uint64{},
	}
	table := server.packetDispatchTable.Load().(*[2048][]*Client)
	seen := map[*Client]bool{}
	for _, clients := range table {
		for _, c := range clients {
			seen[c] = true
		}
	}
	resp.Clients = len(seen)
	for apid := range server.received {
		if n := atomic.LoadUint64(&server.received[apid]); n > 0 {
			resp.Received[apid] = n
		}
		if n := atomic.LoadUint64(&server.relayed[apid]); n > 0 {
			resp.Relayed[apid] = n
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

//
// Client
//

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one websocket connection and its subscriptions.
type Client struct {
	server        *Server
	conn          *websocket.Conn
	send          chan []byte
	subscriptions [2048]bool
}

func newClient(server *Server, conn *websocket.Conn) *Client {
	return &Client{
		server: server,
		conn:   conn,
		send:   make(chan []byte, 256),
	}
}

// clientRequest is the JSON request envelope clients send.
type clientRequest struct {
	Request string `json:"request"`
	Token   string `json:"token"`
	APIDs   []int  `json:"apids"`
}

func (client *Client) readPump() {
	defer func() {
		client.server.removeClientChan <- client
	}()
	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("websocket read")
			}
			return
		}
		var r clientRequest
		if err := json.Unmarshal(msg, &r); err != nil {
			log.WithError(err).Debug("bad client request")
			continue
		}
		switch r.Request {
		case "ping":
			client.sendJSON(map[string]string{"response": "pong", "token": r.Token})
		case "subscribe":
			client.server.updateSubsChan <- &subscriptionUpdate{client: client, subscribe: true, apids: r.APIDs}
		case "unsubscribe":
			client.server.updateSubsChan <- &subscriptionUpdate{client: client, subscribe: false, apids: r.APIDs}
		default:
			log.WithField("request", r.Request).Debug("unknown client request")
		}
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (client *Client) sendJSON(v interface{}) {
	msg, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case client.send <- msg:
	default:
	}
}

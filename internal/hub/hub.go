// Package hub implements the realtime core: it owns the set of live
// websocket connections and the submit -> persist -> broadcast pipeline.
package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"minichat/internal/models"
)

// MessageStore is the persistence dependency of the hub. Implemented
// by chat.Service.
type MessageStore interface {
	AppendMessage(ctx context.Context, content, sender string) (*models.Message, error)
}

// Hub maintains the broadcast set and serializes fan-out through a
// single event loop. Only OPEN (registered) connections receive
// broadcasts; registration and removal happen exclusively inside Run.
type Hub struct {
	store MessageStore

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mutex    sync.RWMutex
	submitMu sync.Mutex

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub persisting messages through the given store.
func NewHub(store MessageStore) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:      store,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register admits a connection into the broadcast set and starts its pumps.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = client.conn.Close()
	}
}

// Run services registration, removal, and broadcast events until
// Shutdown. It must be called in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			log.Printf("client %s connected from %s (total %d)", client.id, client.addr, count)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.remove(client)

		case payload := <-h.broadcast:
			h.fanOut(payload)
		}
	}
}

// fanOut delivers one payload to every registered connection,
// including the sender. Clients whose send buffer is full are dropped
// rather than awaited so one slow consumer cannot stall the loop.
func (h *Hub) fanOut(payload []byte) {
	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	var stalled []*Client
	for _, client := range clients {
		if !client.trySend(payload) {
			stalled = append(stalled, client)
		}
	}
	for _, client := range stalled {
		log.Printf("client %s dropped: send buffer full", client.id)
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	count := len(h.clients)
	h.mutex.Unlock()

	client.close()
	log.Printf("client %s disconnected (total %d)", client.id, count)
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mutex.Unlock()

	for _, client := range clients {
		client.close()
		_ = client.conn.Close()
	}
}

// ClientCount reports the current size of the broadcast set.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Shutdown stops the event loop, closes every connection, and waits up
// to timeout for the pump goroutines to finish.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

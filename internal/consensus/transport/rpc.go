// Package transport provides two interchangeable peer-to-peer carriers for
// consensus.ConsensusMessage: net/rpc (this file) and websocket (websocket.go).
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/ruvnet/raftbooking/internal/consensus"
)

// compressionThreshold is the payload size above which AppendEntries bodies
// are brotli-compressed before going on the wire. Small heartbeats (empty
// Entries) never cross it, so the common case pays no compression cost.
const compressionThreshold = 1024

// RPCTransport implements consensus.Transport using net/rpc.
type RPCTransport struct {
	nodeID   consensus.NodeID
	address  string
	nodes    map[consensus.NodeID]string
	logger   *zap.Logger
	server   *rpc.Server
	listener net.Listener
	clients  map[consensus.NodeID]*rpc.Client
	clientMu sync.RWMutex
	msgChan  chan *consensus.ConsensusMessage
	stopChan chan struct{}
	wg       sync.WaitGroup
	timeout  time.Duration
}

// RPCService is the net/rpc-registered receiver for inbound messages.
type RPCService struct {
	transport *RPCTransport
}

// SendMessageArgs is the net/rpc call argument. Compressed indicates Data
// was brotli-compressed by the sender and must be inflated before use.
type SendMessageArgs struct {
	Message    *consensus.ConsensusMessage `json:"message"`
	Compressed bool                        `json:"compressed"`
}

// SendMessageReply is the net/rpc call reply.
type SendMessageReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// NewRPCTransport creates a net/rpc transport for nodeID, listening on
// address and dialing the given peer addresses lazily.
func NewRPCTransport(nodeID consensus.NodeID, address string, nodes map[consensus.NodeID]string, logger *zap.Logger) *RPCTransport {
	return &RPCTransport{
		nodeID:   nodeID,
		address:  address,
		nodes:    nodes,
		logger:   logger,
		clients:  make(map[consensus.NodeID]*rpc.Client),
		msgChan:  make(chan *consensus.ConsensusMessage, 1000),
		stopChan: make(chan struct{}),
		timeout:  5 * time.Second,
	}
}

// Start begins listening for peer RPCs and lazily dialing peers.
func (r *RPCTransport) Start() error {
	r.server = rpc.NewServer()
	service := &RPCService{transport: r}
	if err := r.server.Register(service); err != nil {
		return fmt.Errorf("failed to register RPC service: %w", err)
	}

	var err error
	r.listener, err = net.Listen("tcp", r.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.address, err)
	}

	r.wg.Add(2)
	go r.acceptConnections()
	go r.initializeClients()

	return nil
}

// Stop closes the listener and every outbound client connection.
func (r *RPCTransport) Stop() error {
	close(r.stopChan)

	if r.listener != nil {
		r.listener.Close()
	}

	r.clientMu.Lock()
	for _, client := range r.clients {
		client.Close()
	}
	r.clientMu.Unlock()

	r.wg.Wait()
	return nil
}

// Send delivers msg to nodeID, compressing large AppendEntries payloads.
func (r *RPCTransport) Send(nodeID consensus.NodeID, msg *consensus.ConsensusMessage) error {
	if nodeID == r.nodeID {
		select {
		case r.msgChan <- msg:
			return nil
		default:
			return fmt.Errorf("message channel full")
		}
	}

	client, err := r.getClient(nodeID)
	if err != nil {
		return fmt.Errorf("failed to get client for node %s: %w", nodeID, err)
	}

	args := &SendMessageArgs{Message: msg}
	if msg.Type == consensus.AppendEntriesMsg && len(msg.Data) > compressionThreshold {
		compressed, err := compress(msg.Data)
		if err == nil {
			sent := *msg
			sent.Data = compressed
			args.Message = &sent
			args.Compressed = true
		} else {
			r.logger.Debug("brotli compression failed, sending uncompressed", zap.Error(err))
		}
	}
	reply := &SendMessageReply{}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	callChan := make(chan error, 1)
	go func() {
		callChan <- client.Call("RPCService.SendMessage", args, reply)
	}()

	select {
	case err := <-callChan:
		if err != nil {
			return fmt.Errorf("RPC call failed: %w", err)
		}
		if !reply.Success {
			return fmt.Errorf("remote error: %s", reply.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("RPC call timeout")
	}
}

// Broadcast sends msg to every peer in parallel.
func (r *RPCTransport) Broadcast(msg *consensus.ConsensusMessage) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(r.nodes))

	for nodeID := range r.nodes {
		if nodeID == r.nodeID {
			continue
		}

		wg.Add(1)
		go func(nid consensus.NodeID) {
			defer wg.Done()
			if err := r.Send(nid, msg); err != nil {
				errs <- fmt.Errorf("failed to send to %s: %w", nid, err)
			}
		}(nodeID)
	}

	wg.Wait()
	close(errs)

	var collected []error
	for err := range errs {
		collected = append(collected, err)
	}

	if len(collected) > 0 {
		return fmt.Errorf("broadcast errors: %v", collected)
	}

	return nil
}

// Receive returns the channel inbound messages arrive on.
func (r *RPCTransport) Receive() <-chan *consensus.ConsensusMessage {
	return r.msgChan
}

// GetAddress returns the dial address for nodeID.
func (r *RPCTransport) GetAddress(nodeID consensus.NodeID) string {
	return r.nodes[nodeID]
}

func (r *RPCTransport) getClient(nodeID consensus.NodeID) (*rpc.Client, error) {
	r.clientMu.RLock()
	if client, exists := r.clients[nodeID]; exists {
		r.clientMu.RUnlock()
		return client, nil
	}
	r.clientMu.RUnlock()

	r.clientMu.Lock()
	defer r.clientMu.Unlock()

	if client, exists := r.clients[nodeID]; exists {
		return client, nil
	}

	address, exists := r.nodes[nodeID]
	if !exists {
		return nil, fmt.Errorf("unknown node: %s", nodeID)
	}

	client, err := rpc.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}

	r.clients[nodeID] = client
	return client, nil
}

// initializeClients retries dialing every peer until Stop is called, so a
// peer that starts late is picked up without a restart.
func (r *RPCTransport) initializeClients() {
	defer r.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			for nodeID := range r.nodes {
				if nodeID == r.nodeID {
					continue
				}
				r.getClient(nodeID) // errors retried on the next tick
			}
		}
	}
}

func (r *RPCTransport) acceptConnections() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopChan:
			return
		default:
			conn, err := r.listener.Accept()
			if err != nil {
				select {
				case <-r.stopChan:
					return
				default:
					continue
				}
			}

			go r.server.ServeConn(conn)
		}
	}
}

// SendMessage is the net/rpc handler invoked by a peer's Send call.
func (s *RPCService) SendMessage(args *SendMessageArgs, reply *SendMessageReply) error {
	if args.Message == nil {
		reply.Success = false
		reply.Error = "nil message"
		return nil
	}

	if args.Compressed {
		inflated, err := decompress(args.Message.Data)
		if err != nil {
			reply.Success = false
			reply.Error = fmt.Sprintf("decompress failed: %v", err)
			return nil
		}
		args.Message.Data = inflated
	}

	select {
	case s.transport.msgChan <- args.Message:
		reply.Success = true
	default:
		reply.Success = false
		reply.Error = "message channel full"
	}

	return nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lesismal/arpc"

	"github.com/DeltaLaboratory/gridcache/internal/protocol"
)

const peerTimeout = 5 * time.Second

// peerPool keeps one connection per peer node for server-side fan-out
// (size aggregation, whole-cache operations).
type peerPool struct {
	clients map[string]*pooledClient
	mu      sync.RWMutex
}

type pooledClient struct {
	client  *arpc.Client
	address string
}

func newPeerPool() *peerPool {
	return &peerPool{
		clients: make(map[string]*pooledClient),
	}
}

func (p *peerPool) getClient(nodeID, address string) (*arpc.Client, error) {
	p.mu.RLock()
	pc, exists := p.clients[nodeID]
	p.mu.RUnlock()

	if exists && pc.address == address {
		return pc.client, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double check after lock
	if pc, exists = p.clients[nodeID]; exists {
		if pc.address == address {
			return pc.client, nil
		}
		pc.client.Stop()
		delete(p.clients, nodeID)
	}

	client, err := arpc.NewClient(func() (net.Conn, error) {
		return net.Dial("tcp", address)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client for peer %s: %w", nodeID, err)
	}

	p.clients[nodeID] = &pooledClient{client: client, address: address}
	return client, nil
}

func (p *peerPool) call(peer protocol.NodeInfo, op protocol.OperationType, req, rsp any) error {
	client, err := p.getClient(peer.ID, peer.Address)
	if err != nil {
		return err
	}
	if err := client.Call(op.Route(), req, rsp, peerTimeout); err != nil {
		return fmt.Errorf("peer %s: %w", peer.ID, err)
	}
	return nil
}

func (p *peerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pc := range p.clients {
		pc.client.Stop()
	}
	p.clients = make(map[string]*pooledClient)
}

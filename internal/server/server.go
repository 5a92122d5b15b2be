// Package server implements a grid cache node. It is the development and
// integration-test counterpart of the thin client: it serves every cache
// opcode over the same wire protocol, checks partition ownership against
// the shared affinity table, and fans whole-grid operations out to a
// static peer set.
package server

import (
	"fmt"

	"github.com/buraksezer/consistent"
	"github.com/lesismal/arpc"
	"github.com/rs/zerolog"

	"github.com/DeltaLaboratory/gridcache/internal/affinity"
	"github.com/DeltaLaboratory/gridcache/internal/protocol"
	"github.com/DeltaLaboratory/gridcache/internal/storage"
)

type Options struct {
	NodeID  string
	Address string

	// Peers are the other grid nodes. The node set is static for the
	// server's lifetime; every node must be configured with the same set
	// so ownership decisions agree across the grid and with clients.
	Peers []protocol.NodeInfo

	Store  storage.Store
	Logger zerolog.Logger
}

type Server struct {
	nodeID  string
	address string
	nodes   []protocol.NodeInfo
	ring    *consistent.Consistent

	peers  *peerPool
	store  storage.Store
	server *arpc.Server

	logger zerolog.Logger
}

func New(opts Options) (*Server, error) {
	if opts.NodeID == "" || opts.Address == "" {
		return nil, fmt.Errorf("node id and address are required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	nodes := make([]protocol.NodeInfo, 0, 1+len(opts.Peers))
	nodes = append(nodes, protocol.NodeInfo{ID: opts.NodeID, Address: opts.Address})
	nodes = append(nodes, opts.Peers...)

	s := &Server{
		nodeID:  opts.NodeID,
		address: opts.Address,
		nodes:   nodes,
		ring:    affinity.NewRing(nodes),
		peers:   newPeerPool(),
		store:   opts.Store,
		server:  arpc.NewServer(),
		logger:  opts.Logger.With().Str("layer", "server").Str("node_id", opts.NodeID).Logger(),
	}

	// Register RPC methods
	s.server.Handler.Handle(protocol.OpCachePut.Route(), s.handlePut)
	s.server.Handler.Handle(protocol.OpCacheGet.Route(), s.handleGet)
	s.server.Handler.Handle(protocol.OpCacheContainsKey.Route(), s.handleContainsKey)
	s.server.Handler.Handle(protocol.OpCacheGetSize.Route(), s.handleGetSize)
	s.server.Handler.Handle(protocol.OpCacheSizeLocal.Route(), s.handleSizeLocal)
	s.server.Handler.Handle(protocol.OpCacheRemoveKey.Route(), s.handleRemoveKey)
	s.server.Handler.Handle(protocol.OpCacheRemoveAll.Route(), s.handleRemoveAll)
	s.server.Handler.Handle(protocol.OpCacheClear.Route(), s.handleClear)
	s.server.Handler.Handle(protocol.OpCacheClearKey.Route(), s.handleClearKey)
	s.server.Handler.Handle(protocol.OpCachePartitions.Route(), s.handlePartitions)

	return s, nil
}

func (s *Server) Run() error {
	return s.server.Run(s.address)
}

func (s *Server) Stop() error {
	s.peers.Close()
	if err := s.server.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to stop rpc server")
	}
	return s.store.Close()
}

// ownsKey reports whether this node owns the partition for the routing
// bytes. Single-node grids own everything.
func (s *Server) ownsKey(cacheID int64, routing []byte) bool {
	if len(s.nodes) == 1 {
		return true
	}
	owner := affinity.Owner(s.ring, cacheID, routing)
	return owner != nil && owner.ID() == s.nodeID
}

// routingBytes returns the bytes that decided the request's routing: the
// explicit affinity value when present, the key payload otherwise.
func routingBytes(key, aff []byte) []byte {
	if len(aff) > 0 {
		return aff
	}
	return key
}

func (s *Server) write(ctx *arpc.Context, handler string, rsp any) {
	if err := ctx.Write(rsp); err != nil {
		s.logger.Error().Err(err).Str("handler", handler).Msg("failed to write response")
	}
}

func (s *Server) bindError(ctx *arpc.Context, handler string, err error) {
	s.logger.Warn().Err(err).Str("handler", handler).Msg("failed to bind request")
	if err := ctx.Error(err); err != nil {
		s.logger.Error().Err(err).Str("handler", handler).Msg("failed to send error response")
	}
}

func (s *Server) handlePut(ctx *arpc.Context) {
	var req protocol.PutRequest
	if err := ctx.Bind(&req); err != nil {
		s.bindError(ctx, "cache/put", err)
		return
	}

	if !s.ownsKey(req.CacheID, routingBytes(req.Key, req.Affinity)) {
		s.write(ctx, "cache/put", &protocol.AckResponse{Status: protocol.Status{NotPrimary: true}})
		return
	}

	var rsp protocol.AckResponse
	if err := s.store.Put(req.CacheID, req.Key, req.Value); err != nil {
		rsp.Error = err.Error()
	}
	s.write(ctx, "cache/put", &rsp)
}

func (s *Server) handleGet(ctx *arpc.Context) {
	var req protocol.KeyRequest
	if err := ctx.Bind(&req); err != nil {
		s.bindError(ctx, "cache/get", err)
		return
	}

	if !s.ownsKey(req.CacheID, routingBytes(req.Key, req.Affinity)) {
		s.write(ctx, "cache/get", &protocol.ValueResponse{Status: protocol.Status{NotPrimary: true}})
		return
	}

	var rsp protocol.ValueResponse
	value, found, err := s.store.Get(req.CacheID, req.Key)
	if err != nil {
		rsp.Error = err.Error()
	} else {
		rsp.Found = found
		rsp.Value = value
	}
	s.write(ctx, "cache/get", &rsp)
}

func (s *Server) handleContainsKey(ctx *arpc.Context) {
	var req protocol.KeyRequest
	if err := ctx.Bind(&req); err != nil {
		s.bindError(ctx, "cache/contains-key", err)
		return
	}

	if !s.ownsKey(req.CacheID, routingBytes(req.Key, req.Affinity)) {
		s.write(ctx, "cache/contains-key", &protocol.BoolResponse{Status: protocol.Status{NotPrimary: true}})
		return
	}

	var rsp protocol.BoolResponse
	_, found, err := s.store.Get(req.CacheID, req.Key)
	if err != nil {
		rsp.Error = err.Error()
	} else {
		rsp.Result = found
	}
	s.write(ctx, "cache/contains-key", &rsp)
}

func (s *Server) handleRemoveKey(ctx *arpc.Context) {
	var req protocol.KeyRequest
	if err := ctx.Bind(&req); err != nil {
		s.bindError(ctx, "cache/remove-key", err)
		return
	}

	if !s.ownsKey(req.CacheID, routingBytes(req.Key, req.Affinity)) {
		s.write(ctx, "cache/remove-key", &protocol.BoolResponse{Status: protocol.Status{NotPrimary: true}})
		return
	}

	var rsp protocol.BoolResponse
	removed, err := s.store.Remove(req.CacheID, req.Key)
	if err != nil {
		rsp.Error = err.Error()
	} else {
		rsp.Result = removed
	}
	s.write(ctx, "cache/remove-key", &rsp)
}

func (s *Server) handleClearKey(ctx *arpc.Context) {
	var req protocol.KeyRequest
	if err := ctx.Bind(&req); err != nil {
		s.bindError(ctx, "cache/clear-key", err)
		return
	}

	if !s.ownsKey(req.CacheID, routingBytes(req.Key, req.Affinity)) {
		s.write(ctx, "cache/clear-key", &protocol.AckResponse{Status: protocol.Status{NotPrimary: true}})
		return
	}

	var rsp protocol.AckResponse
	if _, err := s.store.Remove(req.CacheID, req.Key); err != nil {
		rsp.Error = err.Error()
	}
	s.write(ctx, "cache/clear-key", &rsp)
}

// handleRemoveAll and handleClear share semantics on a dev node: there are
// no listeners or write-through stores to bypass, so both drop the local
// keyspace and fan out to peers.
func (s *Server) handleRemoveAll(ctx *arpc.Context) {
	s.handleWholeCache(ctx, "cache/remove-all", protocol.OpCacheRemoveAll)
}

func (s *Server) handleClear(ctx *arpc.Context) {
	s.handleWholeCache(ctx, "cache/clear", protocol.OpCacheClear)
}

func (s *Server) handleWholeCache(ctx *arpc.Context, handler string, op protocol.OperationType) {
	var req protocol.CacheRequest
	if err := ctx.Bind(&req); err != nil {
		s.bindError(ctx, handler, err)
		return
	}

	var rsp protocol.AckResponse
	if err := s.store.Clear(req.CacheID); err != nil {
		rsp.Error = err.Error()
		s.write(ctx, handler, &rsp)
		return
	}

	if !req.LocalOnly {
		peerReq := &protocol.CacheRequest{CacheID: req.CacheID, Binary: req.Binary, LocalOnly: true}
		for _, peer := range s.nodes[1:] {
			var peerRsp protocol.AckResponse
			if err := s.peers.call(peer, op, peerReq, &peerRsp); err != nil {
				rsp.Error = err.Error()
				break
			}
			if peerRsp.Error != "" {
				rsp.Error = fmt.Sprintf("peer %s: %s", peer.ID, peerRsp.Error)
				break
			}
		}
	}
	s.write(ctx, handler, &rsp)
}

func (s *Server) handleSizeLocal(ctx *arpc.Context) {
	var req protocol.SizeRequest
	if err := ctx.Bind(&req); err != nil {
		s.bindError(ctx, "cache/size-local", err)
		return
	}

	var rsp protocol.CountResponse
	count, err := s.store.Size(req.CacheID)
	if err != nil {
		rsp.Error = err.Error()
	} else {
		rsp.Count = count
	}
	s.write(ctx, "cache/size-local", &rsp)
}

// handleGetSize aggregates across the grid: the answering node sums its
// own count with every peer's local count, so the client sees one number
// in one round trip. A failed peer fails the whole request rather than
// returning an undercount.
func (s *Server) handleGetSize(ctx *arpc.Context) {
	var req protocol.SizeRequest
	if err := ctx.Bind(&req); err != nil {
		s.bindError(ctx, "cache/size", err)
		return
	}

	var rsp protocol.CountResponse
	count, err := s.store.Size(req.CacheID)
	if err != nil {
		rsp.Error = err.Error()
		s.write(ctx, "cache/size", &rsp)
		return
	}
	total := count

	for _, peer := range s.nodes[1:] {
		var peerRsp protocol.CountResponse
		if err := s.peers.call(peer, protocol.OpCacheSizeLocal, &req, &peerRsp); err != nil {
			rsp.Error = err.Error()
			s.write(ctx, "cache/size", &rsp)
			return
		}
		if peerRsp.Error != "" {
			rsp.Error = fmt.Sprintf("peer %s: %s", peer.ID, peerRsp.Error)
			s.write(ctx, "cache/size", &rsp)
			return
		}
		total += peerRsp.Count
	}

	rsp.Count = total
	s.write(ctx, "cache/size", &rsp)
}

func (s *Server) handlePartitions(ctx *arpc.Context) {
	var req protocol.PartitionsRequest
	if err := ctx.Bind(&req); err != nil {
		s.bindError(ctx, "cluster/partitions", err)
		return
	}

	s.write(ctx, "cluster/partitions", &protocol.PartitionsResponse{
		PartitionCount: affinity.PartitionCount,
		Nodes:          s.nodes,
	})
}

// Package server wires the command dispatcher, stores, and replication
// state into a listening TCP server: the per-connection read/dispatch/
// write loop, the RDB bootstrap load, and (when configured as a
// replica) the master handshake and consumption loop.
package server

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"redisd/internal/command"
	"redisd/internal/rdb"
	"redisd/internal/replication"
	"redisd/internal/resp"
	"redisd/internal/store"
)

// Server owns the listener, the data stores, and replication state for
// one running instance.
type Server struct {
	cfg  *Config
	log  *logrus.Logger
	disp *command.Dispatcher
	repl *replication.State

	kv      *store.KV
	streams *store.Streams

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	shutdown bool
}

// New builds a server from cfg, loading any existing RDB snapshot into
// the key space before returning.
func New(cfg *Config, log *logrus.Logger) *Server {
	kv := store.NewKV()
	streams := store.NewStreams()

	role := replication.RoleMaster
	if cfg.ReplicaOf {
		role = replication.RoleReplica
	}
	repl := replication.New(role, log)
	if cfg.ReplicaOf {
		repl.SetMasterAddr(cfg.MasterHost, cfg.MasterPort)
	}

	dispCfg := &command.Config{Dir: cfg.Dir, DBFilename: cfg.DBFilename, Port: cfg.Port}
	disp := command.New(kv, streams, repl, dispCfg, log)

	s := &Server{
		cfg:     cfg,
		log:     log,
		disp:    disp,
		repl:    repl,
		kv:      kv,
		streams: streams,
		conns:   make(map[net.Conn]struct{}),
	}

	s.loadSnapshot()
	return s
}

func (s *Server) loadSnapshot() {
	path := filepath.Join(s.cfg.Dir, s.cfg.DBFilename)
	entries, err := rdb.Load(path)
	if err != nil {
		s.log.WithError(err).Warn("server: RDB load failed, starting with an empty key space")
		return
	}
	for _, e := range entries {
		if e.IsHash {
			s.kv.RestoreHash(e.Key, e.Hash, e.ExpiresAt)
		} else {
			s.kv.Restore(e.Key, e.String, e.ExpiresAt)
		}
	}
	if len(entries) > 0 {
		s.log.WithField("keys", len(entries)).Info("server: loaded RDB snapshot")
	}
}

// Run starts the listener and blocks, accepting connections until ctx
// is cancelled or Shutdown is called.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.log.WithField("addr", addr).Info("server: listening")

	if s.cfg.ReplicaOf {
		s.startReplicaClient()
	}

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			down := s.shutdown
			s.mu.Unlock()
			if down {
				return nil
			}
			s.log.WithError(err).Warn("server: accept failed")
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) startReplicaClient() {
	go func() {
		client, err := replication.Connect(s.cfg.MasterHost, s.cfg.MasterPort, s.cfg.Port, s.log)
		if err != nil {
			s.log.WithError(err).Error("server: replica handshake failed, continuing without master data")
			return
		}
		err = client.Run(func(args []string) error {
			s.disp.Dispatch(args, nil)
			return nil
		})
		if err != nil {
			s.log.WithError(err).Warn("server: replication link to master closed")
		}
	}()
}

// handleConn is the per-connection loop: accumulate bytes, decode one
// command frame at a time, dispatch it, write the reply, and - when
// this node is a master and the command is a write - forward the
// original frame bytes to every replica.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	ctx := &command.ConnContext{Conn: conn}
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		args, n, err := resp.DecodeCommand(buf)
		if err == resp.ErrNeedMore {
			read, rerr := conn.Read(chunk)
			if rerr != nil {
				if ctx.ReplicaID != "" {
					s.repl.RemoveReplica(ctx.ReplicaID)
				}
				return
			}
			buf = append(buf, chunk[:read]...)
			continue
		}
		if err != nil {
			s.log.WithError(err).Debug("server: malformed frame, closing connection")
			if ctx.ReplicaID != "" {
				s.repl.RemoveReplica(ctx.ReplicaID)
			}
			return
		}

		frame := append([]byte(nil), buf[:n]...)
		buf = buf[n:]

		reply := s.disp.Dispatch(args, ctx)
		if reply != nil {
			if _, werr := conn.Write(reply); werr != nil {
				if ctx.ReplicaID != "" {
					s.repl.RemoveReplica(ctx.ReplicaID)
				}
				return
			}
		}

		if s.repl.Role() == replication.RoleMaster && len(args) > 0 && command.IsWrite(args[0]) {
			s.repl.Propagate(frame)
		}
	}
}

// Addr returns the listener's bound address, valid only after Run has
// started listening - useful for tests that bind to port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown closes the listener and every open connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	if s.listener != nil {
		s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("server: shutdown timed out waiting for connections to close")
	}
}

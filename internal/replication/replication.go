// Package replication implements the master/replica subsystem: replica
// bookkeeping on a master, command propagation and byte-offset
// tracking, the WAIT acknowledgement barrier, and (in client.go) the
// replica-side handshake and consumption loop.
package replication

import (
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Role is the server's position in a replication topology.
type Role int

const (
	RoleMaster Role = iota
	RoleReplica
)

func (r Role) String() string {
	if r == RoleReplica {
		return "slave"
	}
	return "master"
}

// Replica is the master's record of one connected replica, created on
// REPLCONF listening-port and torn down when the connection closes.
type Replica struct {
	ID            string
	Addr          string
	ListeningPort int

	conn     net.Conn
	outbound chan []byte

	mu         sync.Mutex
	ackedBytes int64
}

func newReplica(conn net.Conn) *Replica {
	return &Replica{
		ID:       uuid.NewString(),
		Addr:     conn.RemoteAddr().String(),
		conn:     conn,
		outbound: make(chan []byte, 1024),
	}
}

func (r *Replica) pump(log *logrus.Logger) {
	for frame := range r.outbound {
		if _, err := r.conn.Write(frame); err != nil {
			log.WithError(err).WithField("replica", r.ID).Warn("replication: write to replica failed")
			return
		}
	}
}

func (r *Replica) setAcked(offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset > r.ackedBytes {
		r.ackedBytes = offset
	}
}

func (r *Replica) acked() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ackedBytes
}

// State is the replication singleton: role, replication id, the
// propagated-byte offset, and (on a master) the live replica set.
type State struct {
	log *logrus.Logger

	mu               sync.Mutex
	role             Role
	replID           string
	masterReplOffset int64
	replicas         map[string]*Replica

	masterHost string
	masterPort int
}

// New creates replication state for the given role. replID is always
// generated fresh at startup - this implementation never persists or
// resumes a prior replication id across restarts.
func New(role Role, log *logrus.Logger) *State {
	return &State{
		log:      log,
		role:     role,
		replID:   generateReplID(),
		replicas: make(map[string]*Replica),
	}
}

func generateReplID() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%040x", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", b)
}

// Role reports the current role.
func (s *State) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// ReplID returns the 40-hex-character replication id.
func (s *State) ReplID() string {
	return s.replID
}

// Offset returns master_repl_offset: the cumulative byte count of
// propagated write commands. On a replica nothing is propagated, so it
// stays 0; the bytes consumed from the master are tracked separately by
// Client.ProcessedOffset in client.go.
func (s *State) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masterReplOffset
}

// SetMasterAddr records the configured master host/port for INFO output
// when role is replica.
func (s *State) SetMasterAddr(host string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masterHost, s.masterPort = host, port
}

// RegisterReplica creates a replica record bound to conn and starts its
// outbound pump goroutine, per REPLCONF listening-port handling.
func (s *State) RegisterReplica(conn net.Conn, listeningPort int) *Replica {
	r := newReplica(conn)
	r.ListeningPort = listeningPort

	s.mu.Lock()
	s.replicas[r.ID] = r
	s.mu.Unlock()

	go r.pump(s.log)
	s.log.WithFields(logrus.Fields{"replica": r.ID, "addr": r.Addr, "port": listeningPort}).Info("replication: replica registered")
	return r
}

// RemoveReplica tears down a replica record on disconnect.
func (s *State) RemoveReplica(id string) {
	s.mu.Lock()
	r, ok := s.replicas[id]
	if ok {
		delete(s.replicas, id)
	}
	s.mu.Unlock()
	if ok {
		close(r.outbound)
	}
}

// ReplicaCount reports how many replicas are currently registered.
func (s *State) ReplicaCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replicas)
}

// Ack records a replica's self-reported processed offset, from a
// REPLCONF ACK <offset> frame sent back over the replication link.
func (s *State) Ack(id string, offset int64) {
	s.mu.Lock()
	r, ok := s.replicas[id]
	s.mu.Unlock()
	if ok {
		r.setAcked(offset)
	}
}

// Propagate writes frame - the exact raw bytes of an applied write
// command - to every connected replica's outbound queue and advances
// master_repl_offset by its length. A replica whose queue is full has
// the frame dropped rather than blocking the caller; this only matters
// for a replica that is already badly behind, which WAIT will report.
func (s *State) Propagate(frame []byte) {
	s.mu.Lock()
	s.masterReplOffset += int64(len(frame))
	replicas := make([]*Replica, 0, len(s.replicas))
	for _, r := range s.replicas {
		replicas = append(replicas, r)
	}
	s.mu.Unlock()

	for _, r := range replicas {
		select {
		case r.outbound <- frame:
		default:
			s.log.WithField("replica", r.ID).Warn("replication: outbound queue full, dropping frame")
		}
	}
}

var getAckFrame = []byte("*3\r\n$8\r\nREPLCONF\r\n$6\r\nGETACK\r\n$1\r\n*\r\n")

// Wait implements the WAIT barrier: it returns immediately with the
// connected replica count if no writes have ever been propagated,
// otherwise it snapshots master_repl_offset *before* sending GETACK and
// counts replicas whose acknowledged offset reaches that snapshot - the
// corrected comparison base in place of the fragile "offset - 37" the
// GETACK frame length used to encode.
func (s *State) Wait(numReplicas int, timeout time.Duration) int {
	s.mu.Lock()
	threshold := s.masterReplOffset
	if threshold == 0 {
		n := len(s.replicas)
		s.mu.Unlock()
		return n
	}
	replicas := make([]*Replica, 0, len(s.replicas))
	for _, r := range s.replicas {
		replicas = append(replicas, r)
	}
	s.mu.Unlock()

	s.Propagate(getAckFrame)

	deadline := time.Now().Add(timeout)
	for {
		count := 0
		for _, r := range replicas {
			if r.acked() >= threshold {
				count++
			}
		}
		if count >= numReplicas || time.Now().After(deadline) {
			return count
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Info renders the INFO replication section as RESP-bulk-ready lines.
func (s *State) Info() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := []string{
		"role:" + s.role.String(),
		fmt.Sprintf("master_replid:%s", s.replID),
		fmt.Sprintf("master_repl_offset:%d", s.masterReplOffset),
	}
	if s.role == RoleMaster {
		lines = append(lines, fmt.Sprintf("connected_slaves:%d", len(s.replicas)))
	} else {
		lines = append(lines, fmt.Sprintf("master_host:%s", s.masterHost))
		lines = append(lines, fmt.Sprintf("master_port:%d", s.masterPort))
	}
	return lines
}

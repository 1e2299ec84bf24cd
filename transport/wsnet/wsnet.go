// Package wsnet connects ranks running as separate processes over
// websocket connections.
//
// Every rank listens on its own address. The connection between two ranks is
// opened on first use, the lower rank dialing the higher one, so only ranks
// that actually exchange edges get connected. Each message is one binary
// frame holding the values as little-endian float64, with no header: the
// connection identifies the sender.
package wsnet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	edgePath = "/edge"

	// DefaultConnectTimeout bounds how long a rank waits for a peer process
	// to come up.
	DefaultConnectTimeout = 30 * time.Second
	redialInterval        = 100 * time.Millisecond
)

var (
	ErrRank    = errors.New("rank out of range")
	ErrLength  = errors.New("message length mismatch")
	ErrConnect = errors.New("peer did not connect")
)

type peerConn struct {
	ready chan struct{}
	conn  *websocket.Conn
	err   error

	wmu, rmu sync.Mutex
}

// Transport is one rank's endpoint.
type Transport struct {
	rank   int
	peers  []string
	logger *slog.Logger

	// ConnectTimeout overrides DefaultConnectTimeout when set before first use.
	ConnectTimeout time.Duration

	mu     sync.Mutex
	conns  map[int]*peerConn
	server *http.Server
}

// Listen starts the endpoint of rank, listening on peers[rank].
func Listen(rank int, peers []string, logger *slog.Logger) (*Transport, error) {
	if rank < 0 || rank >= len(peers) {
		return nil, fmt.Errorf("%w: rank %d of %d", ErrRank, rank, len(peers))
	}
	ln, err := net.Listen("tcp", peers[rank])
	if err != nil {
		return nil, err
	}
	return Serve(rank, peers, ln, logger), nil
}

// Serve starts the endpoint of rank on an existing listener.
func Serve(rank int, peers []string, ln net.Listener, logger *slog.Logger) *Transport {
	t := &Transport{
		rank:           rank,
		peers:          peers,
		logger:         logger,
		ConnectTimeout: DefaultConnectTimeout,
		conns:          make(map[int]*peerConn),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(edgePath, t.accept)
	t.server = &http.Server{Handler: mux}
	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("edge listener stopped", "err", err)
		}
	}()
	logger.Debug("listening", "addr", ln.Addr().String())
	return t
}

func (t *Transport) Rank() int { return t.rank }
func (t *Transport) Size() int { return len(t.peers) }

// Close shuts down the listener and every peer connection.
func (t *Transport) Close() error {
	err := t.server.Close()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pc := range t.conns {
		select {
		case <-pc.ready:
			if pc.conn != nil {
				pc.conn.Close()
			}
		default:
		}
	}
	return err
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// accept takes the connection dialed by a lower rank.
func (t *Transport) accept(w http.ResponseWriter, r *http.Request) {
	from, err := strconv.Atoi(r.URL.Query().Get("rank"))
	if err != nil || from < 0 || from >= t.rank {
		http.Error(w, "bad rank", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("upgrade failed", "peer", from, "err", err)
		return
	}
	if !t.attach(from, conn) {
		t.logger.Warn("duplicate connection", "peer", from)
		conn.Close()
		return
	}
	t.logger.Debug("peer connected", "peer", from)
}

// slot returns the connection record for peer, creating it on first use.
// The lower rank of each pair dials.
func (t *Transport) slot(peer int) *peerConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc, ok := t.conns[peer]
	if !ok {
		pc = &peerConn{ready: make(chan struct{})}
		t.conns[peer] = pc
		if peer > t.rank {
			go t.dial(pc, peer)
		}
	}
	return pc
}

// attach records an inbound connection from peer unless one is already in use.
func (t *Transport) attach(peer int, conn *websocket.Conn) bool {
	pc := t.slot(peer)
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-pc.ready:
		return false
	default:
	}
	pc.conn = conn
	close(pc.ready)
	return true
}

func (t *Transport) dial(pc *peerConn, peer int) {
	u := url.URL{
		Scheme:   "ws",
		Host:     t.peers[peer],
		Path:     edgePath,
		RawQuery: "rank=" + strconv.Itoa(t.rank),
	}
	deadline := time.Now().Add(t.ConnectTimeout)
	for {
		conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err == nil {
			pc.conn = conn
			break
		}
		if time.Now().After(deadline) {
			pc.err = fmt.Errorf("%w: rank %d at %s: %v", ErrConnect, peer, t.peers[peer], err)
			break
		}
		time.Sleep(redialInterval)
	}
	close(pc.ready)
}

func (t *Transport) peer(id int) (*peerConn, error) {
	if id < 0 || id >= len(t.peers) || id == t.rank {
		return nil, fmt.Errorf("%w: peer %d of %d", ErrRank, id, len(t.peers))
	}
	pc := t.slot(id)
	select {
	case <-pc.ready:
		return pc, pc.err
	case <-time.After(t.ConnectTimeout):
		return nil, fmt.Errorf("%w: rank %d", ErrConnect, id)
	}
}

// Send writes data to dest as one binary frame.
func (t *Transport) Send(dest int, data []float64) error {
	pc, err := t.peer(dest)
	if err != nil {
		return err
	}
	buf := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	pc.wmu.Lock()
	defer pc.wmu.Unlock()
	return pc.conn.WriteMessage(websocket.BinaryMessage, buf)
}

// Receive reads the next frame from source into data.
func (t *Transport) Receive(source int, data []float64) error {
	pc, err := t.peer(source)
	if err != nil {
		return err
	}
	pc.rmu.Lock()
	defer pc.rmu.Unlock()
	kind, buf, err := pc.conn.ReadMessage()
	if err != nil {
		return err
	}
	if kind != websocket.BinaryMessage || len(buf) != 8*len(data) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrLength, len(buf), 8*len(data))
	}
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return nil
}

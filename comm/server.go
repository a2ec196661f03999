package comm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"
)

// Default transport tuning, overridable per option.
const (
	defaultDedupCap     = 256
	defaultDedupTTL     = 300 * time.Second
	defaultSweepEvery   = 30 * time.Second
	defaultReplyTimeout = 300 * time.Second
	defaultQueueSize    = 1024
)

// dedupEntry tracks one accepted (sender, seq) request.
type dedupEntry struct {
	created time.Time
	cached  []byte // response packet bytes; nil while the request is in flight
}

// dedupTable holds the sender-keyed request-dedup state. Not safe for
// concurrent use; Server guards it with its mutex.
type dedupTable struct {
	capacity int // per-sender entry cap
	senders  map[string]map[uint32]*dedupEntry
}

func newDedupTable(capacity int) *dedupTable {
	return &dedupTable{
		capacity: capacity,
		senders:  make(map[string]map[uint32]*dedupEntry),
	}
}

func (d *dedupTable) lookup(sender string, seq uint32) (*dedupEntry, bool) {
	entries, ok := d.senders[sender]
	if !ok {
		return nil, false
	}
	e, ok := entries[seq]
	return e, ok
}

// insert records a newly accepted request. A sender table at capacity
// evicts its oldest entry first.
func (d *dedupTable) insert(sender string, seq uint32, now time.Time) {
	entries, ok := d.senders[sender]
	if !ok {
		entries = make(map[uint32]*dedupEntry)
		d.senders[sender] = entries
	}
	if len(entries) >= d.capacity {
		var oldestSeq uint32
		var oldest time.Time
		first := true
		for s, e := range entries {
			if first || e.created.Before(oldest) {
				oldestSeq, oldest, first = s, e.created, false
			}
		}
		delete(entries, oldestSeq)
	}
	entries[seq] = &dedupEntry{created: now}
}

// setCached stores the response packet on an entry that still exists.
// Reports whether the entry was found.
func (d *dedupTable) setCached(sender string, seq uint32, pkt []byte) bool {
	e, ok := d.lookup(sender, seq)
	if !ok {
		return false
	}
	e.cached = pkt
	return true
}

// sweep removes entries created before cutoff and drops senders whose
// tables emptied. Returns the number of senders still tracked.
func (d *dedupTable) sweep(cutoff time.Time) int {
	for sender, entries := range d.senders {
		for seq, e := range entries {
			if e.created.Before(cutoff) {
				delete(entries, seq)
			}
		}
		if len(entries) == 0 {
			delete(d.senders, sender)
		}
	}
	return len(d.senders)
}

// Request is one accepted client request handed to the daemon. The
// handler must send exactly one ResponsePayload on Reply, or close it;
// otherwise the client receives a timeout response.
type Request struct {
	Sender  string
	Seq     uint32
	Content string
	Reply   chan ResponsePayload
}

// Server owns the daemon's UDP socket. It deduplicates retransmitted
// requests, acknowledges accepted ones, and fans them into a bounded
// queue for the agent. Completed responses are cached per (sender, seq)
// so a retransmit of an answered request replays identical bytes.
type Server struct {
	conn *net.UDPConn
	log  *slog.Logger

	maxPayload   int
	dedupCap     int
	dedupTTL     time.Duration
	sweepEvery   time.Duration
	replyTimeout time.Duration
	queueSize    int

	mu    sync.Mutex
	dedup *dedupTable

	requests chan *Request
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLogger sets the structured logger. If not set, a no-op logger
// is used.
func ServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// ServerMaxPayload caps accepted datagram payloads. Values above
// MaxPayload are clamped to it. Default: MaxPayload.
func ServerMaxPayload(n int) ServerOption {
	return func(s *Server) { s.maxPayload = n }
}

// ServerDedupCapacity sets the per-sender dedup entry cap. Default: 256.
func ServerDedupCapacity(n int) ServerOption {
	return func(s *Server) { s.dedupCap = n }
}

// ServerDedupTTL sets how long dedup entries live. Default: 300s.
func ServerDedupTTL(d time.Duration) ServerOption {
	return func(s *Server) { s.dedupTTL = d }
}

// ServerSweepInterval sets how often expired dedup entries are
// collected. Default: 30s.
func ServerSweepInterval(d time.Duration) ServerOption {
	return func(s *Server) { s.sweepEvery = d }
}

// ServerReplyTimeout bounds the wait for the agent's reply to one
// request. Default: 300s.
func ServerReplyTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.replyTimeout = d }
}

// ServerQueueSize sets the capacity of the request fan-in queue.
// Default: 1024.
func ServerQueueSize(n int) ServerOption {
	return func(s *Server) { s.queueSize = n }
}

// NewServer binds a UDP socket on addr. The server does not process
// packets until Start is called.
func NewServer(addr string, opts ...ServerOption) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	s := &Server{
		conn:         conn,
		maxPayload:   MaxPayload,
		dedupCap:     defaultDedupCap,
		dedupTTL:     defaultDedupTTL,
		sweepEvery:   defaultSweepEvery,
		replyTimeout: defaultReplyTimeout,
		queueSize:    defaultQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxPayload > MaxPayload {
		s.maxPayload = MaxPayload
	}
	if s.log == nil {
		s.log = nopLogger
	}
	s.dedup = newDedupTable(s.dedupCap)
	s.requests = make(chan *Request, s.queueSize)
	return s, nil
}

// Requests returns the queue of accepted requests. The channel is never
// closed; consumers should select against their own context.
func (s *Server) Requests() <-chan *Request { return s.requests }

// Addr reports the bound socket address.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// Close releases the socket. Start returns once the receive loop
// observes the closed socket.
func (s *Server) Close() error { return s.conn.Close() }

// Start runs the receive loop and the TTL sweeper until ctx is
// cancelled or the socket is closed. Returns nil on clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("listening", "addr", s.conn.LocalAddr())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sweepLoop(ctx)
	}()

	// Closing the socket is the only way to interrupt a blocking read.
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	err := s.recvLoop(ctx)
	wg.Wait()
	return err
}

func (s *Server) recvLoop(ctx context.Context) error {
	// Oversize datagrams must be read in full to be measured and dropped.
	buf := make([]byte, HeaderLen+s.maxPayload+1024)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("recv: %w", err)
		}
		s.handlePacket(ctx, buf[:n], addr)
	}
}

// handlePacket performs the inline part of request handling: header
// checks, dedup lookup, and the acknowledgement. Everything that can
// block on agent work runs in a per-request goroutine.
func (s *Server) handlePacket(ctx context.Context, pkt []byte, addr *net.UDPAddr) {
	if len(pkt) < HeaderLen {
		s.log.Warn("dropping short datagram", "len", len(pkt), "from", addr)
		return
	}
	if len(pkt)-HeaderLen > s.maxPayload {
		s.log.Warn("dropping oversize datagram",
			"payload_len", len(pkt)-HeaderLen, "max", s.maxPayload, "from", addr)
		return
	}
	typ, seq, err := DecodeHeader(pkt)
	if err != nil {
		s.log.Warn("dropping undecodable datagram", "from", addr, "error", err)
		return
	}
	if typ != MsgRequest {
		s.log.Warn("ignoring unexpected packet", "type", typ.String(), "seq", seq, "from", addr)
		return
	}

	sender := addr.String()

	s.mu.Lock()
	if entry, ok := s.dedup.lookup(sender, seq); ok {
		cached := entry.cached
		s.mu.Unlock()
		if cached != nil {
			s.log.Debug("replaying cached response", "sender", sender, "seq", seq)
			s.send(cached, addr)
		} else {
			// Original request is still in flight.
			s.log.Debug("duplicate request, re-acknowledging", "sender", sender, "seq", seq)
			s.send(EncodeRequestAck(seq), addr)
		}
		return
	}
	s.dedup.insert(sender, seq, time.Now())
	s.mu.Unlock()

	payload, err := DecodeRequestPayload(pkt[HeaderLen:])
	if err != nil {
		// The dedup entry stays until the TTL sweep collects it.
		s.log.Warn("dropping request with malformed payload",
			"sender", sender, "seq", seq, "error", err)
		return
	}

	s.send(EncodeRequestAck(seq), addr)

	req := &Request{
		Sender:  sender,
		Seq:     seq,
		Content: payload.Content,
		Reply:   make(chan ResponsePayload, 1),
	}
	go s.dispatch(ctx, req, addr)
}

// dispatch hands an accepted request to the agent queue and waits for
// the reply. One error response is sent if the queue is full, the reply
// channel is closed without a value, or the wait times out.
func (s *Server) dispatch(ctx context.Context, req *Request, addr *net.UDPAddr) {
	select {
	case s.requests <- req:
	default:
		s.log.Warn("request queue full", "sender", req.Sender, "seq", req.Seq)
		s.respond(req, addr, ResponsePayload{Content: "Internal server error", IsError: true})
		return
	}

	timer := time.NewTimer(s.replyTimeout)
	defer timer.Stop()

	select {
	case p, ok := <-req.Reply:
		if !ok {
			s.log.Warn("reply channel closed without response",
				"sender", req.Sender, "seq", req.Seq)
			p = ResponsePayload{Content: "No response from handler", IsError: true}
		}
		s.respond(req, addr, p)
	case <-timer.C:
		s.log.Warn("timed out waiting for handler",
			"sender", req.Sender, "seq", req.Seq, "timeout", s.replyTimeout)
		s.respond(req, addr, ResponsePayload{Content: "Response timeout", IsError: true})
	case <-ctx.Done():
	}
}

// respond encodes and sends one response, then caches the packet bytes
// for retransmit replay. Payloads too large for the wire are truncated
// and flagged as errors.
func (s *Server) respond(req *Request, addr *net.UDPAddr, p ResponsePayload) {
	blob, err := msgpack.Marshal(p)
	if err != nil {
		s.log.Error("encode response", "sender", req.Sender, "seq", req.Seq, "error", err)
		return
	}
	if len(blob) > s.maxPayload {
		s.log.Warn("truncating oversize response",
			"sender", req.Sender, "seq", req.Seq, "size", len(blob), "max", s.maxPayload)
		p = truncateToFit(p, len(blob), s.maxPayload)
		if blob, err = msgpack.Marshal(p); err != nil {
			s.log.Error("encode truncated response", "sender", req.Sender, "seq", req.Seq, "error", err)
			return
		}
	}
	pkt, err := EncodePacket(MsgResponse, req.Seq, blob)
	if err != nil {
		s.log.Error("frame response", "sender", req.Sender, "seq", req.Seq, "error", err)
		return
	}

	s.send(pkt, addr)

	// Cache after the wire send. The sweep may have dropped the entry
	// meanwhile; that only costs the client a retransmit round.
	s.mu.Lock()
	s.dedup.setCached(req.Sender, req.Seq, pkt)
	s.mu.Unlock()
}

// truncateToFit shortens a response payload so its encoded form fits in
// max bytes, cutting the content on a rune boundary. The result is
// always flagged as an error.
func truncateToFit(p ResponsePayload, encoded, max int) ResponsePayload {
	keep := len(p.Content) - (encoded - max)
	if keep < 0 {
		keep = 0
	}
	for keep > 0 && !utf8.RuneStart(p.Content[keep]) {
		keep--
	}
	p.Content = p.Content[:keep]
	p.IsError = true
	return p
}

func (s *Server) send(pkt []byte, addr *net.UDPAddr) {
	if _, err := s.conn.WriteToUDP(pkt, addr); err != nil {
		s.log.Warn("send failed", "to", addr, "error", err)
	}
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			n := s.dedup.sweep(time.Now().Add(-s.dedupTTL))
			s.mu.Unlock()
			s.log.Debug("Dedup table cleaned", "clients_tracked", n)
		}
	}
}

// nopLogger drops all records. Used when no logger is configured.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }

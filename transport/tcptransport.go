package transport

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/wire"
	"github.com/creditmesh/meshnode/xcrypto"
)

// TCPTransport is the length-prefixed, Ed25519-handshake,
// ChaCha20-Poly1305-sealed implementation of Transport. It listens with
// net.Listen and dials with net.Dial over plain TCP; no other listener or
// dialer can be supplied.
type TCPTransport struct {
	identity xcrypto.Signer

	mu    sync.Mutex
	peers map[meshtypes.PublicKey]*peerConn

	incoming chan InboundMessage
	listener net.Listener

	quit chan struct{}
}

type peerConn struct {
	conn     net.Conn
	remotePK meshtypes.PublicKey
	sendAEAD sendCipher
	recvAEAD recvCipher

	outgoing chan outgoingMsg
	quit     chan struct{}
}

// outgoingMsg mirrors peer.go's outgoinMsg{msg, sentChan}: a queued write
// with a channel the caller can block on for completion.
type outgoingMsg struct {
	msg      wire.Message
	sentChan chan error
}

type sendCipher struct {
	key     [chacha20poly1305.KeySize]byte
	counter uint64
}

type recvCipher struct {
	key     [chacha20poly1305.KeySize]byte
	counter uint64
}

// NewTCPTransport creates a transport that signs its handshake with
// identity and, if listenAddr is non-empty, accepts inbound connections
// on it.
func NewTCPTransport(identity xcrypto.Signer, listenAddr string) (*TCPTransport, error) {
	t := &TCPTransport{
		identity: identity,
		peers:    make(map[meshtypes.PublicKey]*peerConn),
		incoming: make(chan InboundMessage, 64),
		quit:     make(chan struct{}),
	}

	if listenAddr != "" {
		l, err := net.Listen("tcp", listenAddr)
		if err != nil {
			return nil, err
		}
		t.listener = l
		go t.acceptLoop()
	}

	return t, nil
}

func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		go func() {
			if _, err := t.handshakeAndRegister(conn, false); err != nil {
				conn.Close()
			}
		}()
	}
}

// Connect dials addr and performs the handshake as the initiating side.
func (t *TCPTransport) Connect(addr string) (meshtypes.PublicKey, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return meshtypes.PublicKey{}, err
	}
	return t.handshakeAndRegister(conn, true)
}

// handshakeAndRegister runs the Ed25519-authenticated X25519 key exchange
// over conn and, on success, registers the resulting peerConn and starts
// its read/write goroutines (peer.go's readHandler/writeHandler split).
func (t *TCPTransport) handshakeAndRegister(conn net.Conn, initiator bool) (meshtypes.PublicKey, error) {
	var ephPriv [32]byte
	if _, err := io.ReadFull(rand.Reader, ephPriv[:]); err != nil {
		return meshtypes.PublicKey{}, err
	}
	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return meshtypes.PublicKey{}, err
	}

	localPK := t.identity.PublicKey()
	sig := t.identity.Sign(ephPub)

	hello := make([]byte, 0, 32+32+64)
	hello = append(hello, ephPub...)
	hello = append(hello, localPK[:]...)
	hello = append(hello, sig[:]...)

	var remoteEphPub [32]byte
	var remotePK meshtypes.PublicKey

	if initiator {
		if _, err := conn.Write(hello); err != nil {
			return meshtypes.PublicKey{}, err
		}
		if err := readHello(conn, &remoteEphPub, &remotePK); err != nil {
			return meshtypes.PublicKey{}, err
		}
	} else {
		if err := readHello(conn, &remoteEphPub, &remotePK); err != nil {
			return meshtypes.PublicKey{}, err
		}
		if _, err := conn.Write(hello); err != nil {
			return meshtypes.PublicKey{}, err
		}
	}

	shared, err := curve25519.X25519(ephPriv[:], remoteEphPub[:])
	if err != nil {
		return meshtypes.PublicKey{}, fmt.Errorf("transport: key exchange failed: %w", err)
	}

	// Direction-separated keys: the initiator sends on "init->resp" and the
	// responder on "resp->init", each receiving on the other label, so both
	// directions never reuse
	// the same (key, counter) pair even though the underlying secret is
	// symmetric.
	initToResp := xcrypto.HashSHA512_256(shared, []byte("init->resp"))
	respToInit := xcrypto.HashSHA512_256(shared, []byte("resp->init"))

	pc := &peerConn{conn: conn, remotePK: remotePK, outgoing: make(chan outgoingMsg, 16), quit: make(chan struct{})}
	if initiator {
		pc.sendAEAD.key = initToResp
		pc.recvAEAD.key = respToInit
	} else {
		pc.sendAEAD.key = respToInit
		pc.recvAEAD.key = initToResp
	}

	t.mu.Lock()
	t.peers[remotePK] = pc
	t.mu.Unlock()

	go t.writeLoop(pc)
	go t.readLoop(pc)

	return remotePK, nil
}

func readHello(conn net.Conn, ephPub *[32]byte, pk *meshtypes.PublicKey) error {
	buf := make([]byte, 32+32+64)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return err
	}
	copy(ephPub[:], buf[0:32])
	copy(pk[:], buf[32:64])
	var sig meshtypes.Signature
	copy(sig[:], buf[64:128])
	if !xcrypto.Verify(*pk, buf[0:32], sig) {
		return fmt.Errorf("transport: handshake signature invalid")
	}
	return nil
}

// SendFriendMessage queues msg for delivery to pk, blocking until it has
// been written (not acknowledged) or the connection fails.
func (t *TCPTransport) SendFriendMessage(pk meshtypes.PublicKey, msg wire.Message) error {
	t.mu.Lock()
	pc, ok := t.peers[pk]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no connection to %s", pk)
	}

	sentChan := make(chan error, 1)
	select {
	case pc.outgoing <- outgoingMsg{msg: msg, sentChan: sentChan}:
	case <-pc.quit:
		return fmt.Errorf("transport: connection to %s closed", pk)
	}
	return <-sentChan
}

func (t *TCPTransport) Incoming() <-chan InboundMessage { return t.incoming }

func (t *TCPTransport) Close() error {
	close(t.quit)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pc := range t.peers {
		close(pc.quit)
		pc.conn.Close()
	}
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

func (t *TCPTransport) writeLoop(pc *peerConn) {
	for {
		select {
		case out := <-pc.outgoing:
			out.sentChan <- writeSealed(pc, out.msg)
		case <-pc.quit:
			return
		}
	}
}

func (t *TCPTransport) readLoop(pc *peerConn) {
	defer func() {
		t.mu.Lock()
		delete(t.peers, pc.remotePK)
		t.mu.Unlock()
		pc.conn.Close()
	}()
	for {
		msg, err := readSealed(pc)
		if err != nil {
			return
		}
		select {
		case t.incoming <- InboundMessage{From: pc.remotePK, Msg: msg}:
		case <-pc.quit:
			return
		case <-t.quit:
			return
		}
	}
}

func writeSealed(pc *peerConn, msg wire.Message) error {
	aead, err := chacha20poly1305.New(pc.sendAEAD.key[:])
	if err != nil {
		return err
	}

	var plain bytes.Buffer
	if err := wire.WriteMessage(&plain, msg); err != nil {
		return err
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], pc.sendAEAD.counter)
	pc.sendAEAD.counter++

	sealed := aead.Seal(nil, nonce, plain.Bytes(), nil)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sealed)))
	if _, err := pc.conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = pc.conn.Write(sealed)
	return err
}

func readSealed(pc *peerConn) (wire.Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(pc.conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > wire.MaxMessagePayload {
		return nil, fmt.Errorf("transport: sealed frame too large: %d", n)
	}
	sealed := make([]byte, n)
	if _, err := io.ReadFull(pc.conn, sealed); err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(pc.recvAEAD.key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], pc.recvAEAD.counter)
	pc.recvAEAD.counter++

	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, err
	}
	return wire.ReadMessage(bytes.NewReader(plain))
}

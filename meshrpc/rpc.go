// Package meshrpc is the app-facing control surface: a websocket server
// speaking newline-delimited JSON, mirroring rpcserver.go's shape (an
// atomic started/shutdown guard around a backend reference) but swapping
// lnd's generated gRPC service for a small tagged-union request/response
// protocol suited to a single local app talking to its own daemon.
package meshrpc

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/creditmesh/meshnode/buildlog"
	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/report"
)

var log = buildlog.Logger(buildlog.SubsystemRPC)

// RequestKind tags one AppRequest variant.
type RequestKind string

const (
	ReqAddFriend     RequestKind = "add_friend"
	ReqRemoveFriend  RequestKind = "remove_friend"
	ReqOpenCurrency  RequestKind = "open_currency"
	ReqSendPayment   RequestKind = "send_payment"
	ReqCreateInvoice RequestKind = "create_invoice"
	ReqGetReport     RequestKind = "get_report"
)

// AppRequest is the envelope every client->daemon message is decoded into.
// ID is echoed back on the matching response so a client can correlate
// replies to requests sent over the same connection.
type AppRequest struct {
	ID       uint64              `json:"id"`
	Kind     RequestKind         `json:"kind"`
	Friend   meshtypes.PublicKey `json:"friend,omitempty"`
	Currency meshtypes.Currency  `json:"currency,omitempty"`
	Dest     meshtypes.PublicKey `json:"dest,omitempty"`
	Amount   meshtypes.Uint128   `json:"amount,omitempty"`
}

// AppResponse is the envelope every daemon->client reply is encoded as.
type AppResponse struct {
	ID        uint64                                      `json:"id"`
	Error     string                                      `json:"error,omitempty"`
	Report    map[meshtypes.PublicKey]report.FriendReport `json:"report,omitempty"`
	Mutation  *report.Mutation                            `json:"mutation,omitempty"`
	InvoiceID meshtypes.InvoiceID                         `json:"invoice_id,omitempty"`
	PushOnly  bool                                        `json:"push_only,omitempty"`
}

// Backend is everything the RPC layer needs from the running daemon. meshd
// implements it by closing over its router, payment/invoice engines and
// report.
type Backend interface {
	AddFriend(pk meshtypes.PublicKey) error
	RemoveFriend(pk meshtypes.PublicKey) error
	OpenCurrency(pk meshtypes.PublicKey, currency meshtypes.Currency) error
	SendPayment(dest meshtypes.PublicKey, currency meshtypes.Currency, amount meshtypes.Uint128) error
	CreateInvoice(currency meshtypes.Currency, total meshtypes.Uint128) (meshtypes.InvoiceID, error)
	Report() map[meshtypes.PublicKey]report.FriendReport
	Subscribe() (<-chan report.Mutation, func())
}

// Server accepts websocket connections from a single local app and serves
// AppRequests against Backend, pushing report mutations as they occur.
type Server struct {
	started  int32
	shutdown int32

	backend  Backend
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	quit chan struct{}
}

func NewServer(backend Backend) *Server {
	return &Server{
		backend:  backend,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		quit:     make(chan struct{}),
	}
}

// Handler returns the HTTP handler serving the websocket endpoint, useful
// for embedding the server in a test harness without binding a real port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start begins listening on addr. Safe to call once; a second call is a
// no-op, mirroring rpcServer.Start's atomic guard.
func (s *Server) Start(addr string) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return nil
	}

	s.httpSrv = &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	default:
	}
	log.Infof("meshrpc listening on %s", addr)
	return nil
}

func (s *Server) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.shutdown, 0, 1) {
		return nil
	}
	close(s.quit)
	if s.httpSrv != nil {
		return s.httpSrv.Close()
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(resp AppResponse) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(resp)
	}

	mutations, cancel := s.backend.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case m, ok := <-mutations:
				if !ok {
					return
				}
				mCopy := m
				if err := write(AppResponse{PushOnly: true, Mutation: &mCopy}); err != nil {
					return
				}
			case <-s.quit:
				return
			}
		}
	}()

	for {
		var req AppRequest
		if err := conn.ReadJSON(&req); err != nil {
			break
		}
		resp := s.dispatch(req)
		if err := write(resp); err != nil {
			break
		}
	}
	<-done
}

func (s *Server) dispatch(req AppRequest) AppResponse {
	resp := AppResponse{ID: req.ID}

	var err error
	switch req.Kind {
	case ReqAddFriend:
		err = s.backend.AddFriend(req.Friend)
	case ReqRemoveFriend:
		err = s.backend.RemoveFriend(req.Friend)
	case ReqOpenCurrency:
		err = s.backend.OpenCurrency(req.Friend, req.Currency)
	case ReqSendPayment:
		err = s.backend.SendPayment(req.Dest, req.Currency, req.Amount)
	case ReqCreateInvoice:
		resp.InvoiceID, err = s.backend.CreateInvoice(req.Currency, req.Amount)
	case ReqGetReport:
		resp.Report = s.backend.Report()
	default:
		err = fmt.Errorf("meshrpc: unknown request kind %q", req.Kind)
	}

	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

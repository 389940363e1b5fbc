package devnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// Server is one JSON-RPC endpoint of a devnet. Several servers may share
// a Chain; each votes with its own validator identity.
type Server struct {
	addr   string
	chain  *Chain
	self   common.Address
	peers  func() int
	server *http.Server
	logger zerolog.Logger
	ln     net.Listener
}

// NewServer creates an endpoint on addr. self is the address this endpoint
// votes as.
func NewServer(addr string, chain *Chain, self common.Address) *Server {
	s := &Server{
		addr:   addr,
		chain:  chain,
		self:   self,
		peers:  func() int { return 0 },
		logger: klog.Devnet.With().Str("node", self.Hex()).Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// ServeHTTP lets a Server be mounted directly, e.g. under httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handleRequest(w, r)
}

// Self returns the address this endpoint votes as.
func (s *Server) Self() common.Address { return s.self }

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("devnet listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Devnet server error")
		}
	}()
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// URL returns the endpoint URL.
func (s *Server) URL() string { return "http://" + s.Addr() }

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleRequest is the main HTTP handler for JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	result, rpcErr := s.dispatch(&req)
	if rpcErr != nil {
		s.logger.Debug().Str("method", req.Method).Int("code", rpcErr.Code).Msg(rpcErr.Message)
		writeJSON(w, errorResponse{JSONRPC: "2.0", Error: rpcErr, ID: req.ID})
		return
	}
	writeJSON(w, Response{JSONRPC: "2.0", Result: result, ID: req.ID})
}

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(req *Request) (interface{}, *Error) {
	switch req.Method {
	case "eth_chainId":
		return s.handleChainID(req)
	case "eth_blockNumber":
		return s.handleBlockNumber(req)
	case "eth_getBlockByNumber":
		return s.handleGetBlockByNumber(req)
	case "eth_getTransactionCount":
		return s.handleGetTransactionCount(req)
	case "eth_sendRawTransaction":
		return s.handleSendRawTransaction(req)
	case "eth_getTransactionReceipt":
		return s.handleGetTransactionReceipt(req)
	case "eth_call":
		return s.handleCall(req)
	case "eth_getLogs":
		return s.handleGetLogs(req)
	case "eth_getCode":
		return s.handleGetCode(req)
	case "net_peerCount":
		return s.handlePeerCount(req)
	case "qbft_getValidatorsByBlockNumber":
		return s.handleGetValidatorsByBlockNumber(req)
	case "qbft_proposeValidatorVote":
		return s.handleProposeValidatorVote(req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, resp interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, errorResponse{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// param unmarshals positional parameter i into target.
func param(req *Request, i int, target interface{}) *Error {
	if i >= len(req.Params) {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("missing value for required argument %d", i)}
	}
	if err := json.Unmarshal(req.Params[i], target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid argument %d: %v", i, err)}
	}
	return nil
}

// optionalParam is param for trailing arguments that may be omitted.
func optionalParam(req *Request, i int, target interface{}) *Error {
	if i >= len(req.Params) {
		return nil
	}
	return param(req, i, target)
}

func serverError(err error) *Error {
	var re *revertError
	if errors.As(err, &re) {
		return &Error{Code: CodeReverted, Message: re.Error(), Data: re.reason}
	}
	return &Error{Code: CodeServerError, Message: err.Error()}
}

// Package rpc implements the wallet's JSON-RPC 2.0 APIs: the owner API,
// which controls the wallet from localhost, and the foreign API, which lets
// counterparties exchange slates with it directly.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/slatewallet/config"
	klog "github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/metrics"
)

// maxBodySize bounds a request body. Slates with many outputs fit easily.
const maxBodySize = 1 << 20

// dispatcher routes a request to an API's handlers.
type dispatcher interface {
	dispatch(ctx context.Context, req *Request) (any, *Error)
}

// Server is a JSON-RPC 2.0 HTTP server for one API.
type Server struct {
	addr   string
	api    dispatcher
	http   *http.Server
	logger zerolog.Logger
	ln     net.Listener
}

func newServer(addr string, api dispatcher, component, secret string, rpcCfg config.RPCConfig) *Server {
	s := &Server{
		addr:   addr,
		api:    api,
		logger: klog.WithComponent(component),
	}
	policy := &access{
		nets:    parseAllowedIPs(rpcCfg.AllowedIPs),
		origins: rpcCfg.CORSOrigins,
		secret:  secret,
	}

	mux := http.NewServeMux()
	mux.Handle("/", policy.wrap(http.HandlerFunc(s.serveRPC)))
	if component == "owner_api" {
		mux.Handle("/metrics", policy.wrap(metrics.Handler()))
	}
	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Sends wait for the relay to accept the slate.
		WriteTimeout: 10 * time.Minute,
	}
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("API listening")
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop waits up to five seconds for in-flight calls.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		reply(w, Response{Error: &Error{Code: CodeInvalidRequest, Message: "only POST method is allowed"}})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			reply(w, Response{Error: &Error{Code: CodeInvalidRequest, Message: "request body too large"}})
		} else {
			reply(w, Response{Error: &Error{Code: CodeParseError, Message: "failed to read request body"}})
		}
		return
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		reply(w, Response{Error: &Error{Code: CodeParseError, Message: "invalid JSON"}})
		return
	}
	if req.JSONRPC != "2.0" {
		reply(w, Response{ID: req.ID, Error: &Error{Code: CodeInvalidRequest, Message: `jsonrpc must be "2.0"`}})
		return
	}

	result, rpcErr := s.api.dispatch(r.Context(), &req)
	if rpcErr != nil {
		s.logger.Debug().Str("method", req.Method).Int("code", rpcErr.Code).Msg(rpcErr.Message)
		reply(w, Response{ID: req.ID, Error: rpcErr})
		return
	}
	reply(w, Response{ID: req.ID, Result: result})
}

func reply(w http.ResponseWriter, resp Response) {
	resp.JSONRPC = "2.0"
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// parseParams decodes required params into target.
func parseParams(req *Request, target any) *Error {
	if req.Params == nil {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}
	if err := json.Unmarshal(req.Params, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

func parseOptionalParams(req *Request, target any) *Error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	return parseParams(req, target)
}

package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// RequestHandler is implemented by the orchestrator for every RPC method
// the server exposes.
type RequestHandler interface {
	Create(ctx context.Context, p CreateParams) (string, error)
	Update(ctx context.Context, p UpdateParams) error
	Find(ctx context.Context, p FindParams) ([]map[string]string, uint64, error)
	FindIDs(ctx context.Context, p FindParams) ([]string, uint64, error)
	GetProperties(ctx context.Context, id string) (map[string]string, error)
	GetFilename(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
	UniqueValues(ctx context.Context, field string) ([]string, error)
	Root() string
}

// Server listens on a Unix socket and dispatches RPC requests to a
// RequestHandler.
type Server struct {
	socketPath string
	listener   net.Listener
	handler    RequestHandler
	started    time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server bound to the given Unix socket path.
func NewServer(socketPath string) (*Server, error) {
	return &Server{socketPath: socketPath}, nil
}

// SetHandler sets the orchestrator backing this server.
func (s *Server) SetHandler(h RequestHandler) {
	s.handler = h
}

// ListenAndServe starts the server and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener
	s.started = time.Now()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	slog.Info("daemon_listening", slog.String("socket", s.socketPath))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			slog.Error("accept_failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		slog.Warn("set_deadline_failed", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}

	_ = encoder.Encode(s.handleRequest(ctx, req))
}

func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})
	case MethodStatus:
		return NewSuccessResponse(req.ID, s.getStatus())
	case MethodCreate:
		return s.handleCreate(ctx, req)
	case MethodUpdate:
		return s.handleUpdate(ctx, req)
	case MethodFind:
		return s.handleFind(ctx, req)
	case MethodFindIDs:
		return s.handleFindIDs(ctx, req)
	case MethodGetProperties:
		return s.handleGetProperties(ctx, req)
	case MethodGetFilename:
		return s.handleGetFilename(ctx, req)
	case MethodDelete:
		return s.handleDelete(ctx, req)
	case MethodUniqueValues:
		return s.handleUniqueValues(ctx, req)
	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func decodeParams[T any](req Request, validate func(*T) error) (*T, *Response) {
	var params T
	data, err := json.Marshal(req.Params)
	if err != nil {
		resp := NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to encode params")
		return nil, &resp
	}
	if err := json.Unmarshal(data, &params); err != nil {
		resp := NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
		return nil, &resp
	}
	if validate != nil {
		if err := validate(&params); err != nil {
			resp := NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
			return nil, &resp
		}
	}
	return &params, nil
}

func (s *Server) handleCreate(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}
	params, errResp := decodeParams(req, (*CreateParams).Validate)
	if errResp != nil {
		return *errResp
	}
	id, err := s.handler.Create(ctx, *params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeStoreFault, err.Error())
	}
	return NewSuccessResponse(req.ID, CreateResult{ID: id})
}

func (s *Server) handleUpdate(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}
	params, errResp := decodeParams(req, (*UpdateParams).Validate)
	if errResp != nil {
		return *errResp
	}
	if err := s.handler.Update(ctx, *params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeStoreFault, err.Error())
	}
	return NewSuccessResponse(req.ID, struct{}{})
}

func (s *Server) handleFind(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}
	params, errResp := decodeParams[FindParams](req, nil)
	if errResp != nil {
		return *errResp
	}
	props, total, err := s.handler.Find(ctx, *params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeStoreFault, err.Error())
	}
	return NewSuccessResponse(req.ID, FindResult{Properties: props, Total: total})
}

func (s *Server) handleFindIDs(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}
	params, errResp := decodeParams[FindParams](req, nil)
	if errResp != nil {
		return *errResp
	}
	ids, total, err := s.handler.FindIDs(ctx, *params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeStoreFault, err.Error())
	}
	return NewSuccessResponse(req.ID, FindIDsResult{IDs: ids, Total: total})
}

func (s *Server) handleGetProperties(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}
	params, errResp := decodeParams(req, (*GetPropertiesParams).Validate)
	if errResp != nil {
		return *errResp
	}
	props, err := s.handler.GetProperties(ctx, params.ID)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeNotFound, err.Error())
	}
	return NewSuccessResponse(req.ID, GetPropertiesResult{Properties: props})
}

func (s *Server) handleGetFilename(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}
	params, errResp := decodeParams(req, (*GetPropertiesParams).Validate)
	if errResp != nil {
		return *errResp
	}
	path, err := s.handler.GetFilename(ctx, params.ID)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeNotFound, err.Error())
	}
	return NewSuccessResponse(req.ID, GetFilenameResult{Path: path})
}

func (s *Server) handleDelete(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}
	params, errResp := decodeParams(req, (*DeleteParams).Validate)
	if errResp != nil {
		return *errResp
	}
	if err := s.handler.Delete(ctx, params.ID); err != nil {
		return NewErrorResponse(req.ID, ErrCodeStoreFault, err.Error())
	}
	return NewSuccessResponse(req.ID, struct{}{})
}

func (s *Server) handleUniqueValues(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}
	params, errResp := decodeParams(req, (*UniqueValuesParams).Validate)
	if errResp != nil {
		return *errResp
	}
	values, err := s.handler.UniqueValues(ctx, params.Field)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeStoreFault, err.Error())
	}
	return NewSuccessResponse(req.ID, UniqueValuesResult{Values: values})
}

func (s *Server) getStatus() StatusResult {
	status := StatusResult{
		Running: true,
		PID:     os.Getpid(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	if s.handler != nil {
		status.Root = s.handler.Root()
	}
	return status
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

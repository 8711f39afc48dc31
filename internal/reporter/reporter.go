// Package reporter — reporter.go
//
// Unix domain socket server for the siemstream reporter (C7): a read-only
// surface over recently persisted alerts.
//
// Protocol: newline-delimited JSON over a Unix domain socket.
// Socket path: /run/siemstream/reporter.sock (configurable).
// Permissions: 0600.
//
// Commands (JSON request → JSON response):
//
//	{"cmd":"recent"}
//	{"cmd":"recent","limit":20}
//	  → Returns the N most recent alerts (default config.Reporter.RecentLimit),
//	    descending by timestamp, projected to {rule,severity,timestamp,
//	    user,source_ip,technique,evidence}.
//	  → Response: {"ok":true,"alerts":[...]}
//
// Security:
//   - Socket is created with 0600 permissions.
//   - Each connection is handled in a separate goroutine.
//   - Max concurrent connections: 4 (reporter use only, not high-throughput).
//   - Max request size: 4096 bytes (prevents memory exhaustion).
//   - Connection timeout: 10s read, 10s write.
//
// The reporter never mutates alert state — it is a read-only view over
// whatever the detectors have already written.
package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/siemstream/internal/model"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// AlertStore is the interface the reporter reads from. Implemented by
// storage.DB.
type AlertStore interface {
	RecentAlerts(n int) ([]model.Alert, error)
}

// AlertView is the projection the reporter exposes — a read-only subset
// of model.Alert's fields.
type AlertView struct {
	Rule      string    `json:"rule"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user,omitempty"`
	SourceIP  string    `json:"source_ip"`
	Technique string    `json:"technique"`
	Evidence  string    `json:"evidence,omitempty"`
}

// Request is the JSON structure for reporter commands.
type Request struct {
	Cmd   string `json:"cmd"` // recent
	Limit int    `json:"limit,omitempty"`
}

// Response is the JSON structure for reporter command responses.
type Response struct {
	OK     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Alerts []AlertView `json:"alerts,omitempty"`
}

// Server is the reporter's Unix domain socket server.
type Server struct {
	socketPath  string
	store       AlertStore
	defaultN    int
	log         *zap.Logger
	sem         chan struct{}
}

// NewServer creates a reporter Server. defaultN is used when a "recent"
// request omits limit (config.Reporter.RecentLimit).
func NewServer(socketPath string, store AlertStore, defaultN int, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		store:      store,
		defaultN:   defaultN,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the reporter socket server. Removes any stale
// socket file before binding. Blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reporter: remove stale socket %q: %w", s.socketPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("reporter: mkdir %q: %w", filepath.Dir(s.socketPath), err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("reporter: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("reporter: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("reporter socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("reporter: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("reporter: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("reporter: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	resp := s.dispatch(req)
	s.writeResponse(conn, resp)
}

func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "recent", "":
		return s.cmdRecent(req)
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q (only \"recent\" is supported)", req.Cmd)}
	}
}

func (s *Server) cmdRecent(req Request) Response {
	n := req.Limit
	if n <= 0 {
		n = s.defaultN
	}
	alerts, err := Recent(s.store, n)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true, Alerts: alerts}
}

// Recent returns the N most recent alerts, descending by timestamp,
// projected to the reporter's read-only view. Exposed as a plain function
// so it can be called directly (CLI tooling, tests) without a socket.
func Recent(store AlertStore, n int) ([]AlertView, error) {
	alerts, err := store.RecentAlerts(n)
	if err != nil {
		return nil, fmt.Errorf("reporter.Recent: %w", err)
	}
	views := make([]AlertView, 0, len(alerts))
	for _, a := range alerts {
		views = append(views, AlertView{
			Rule:      a.Rule,
			Severity:  string(a.Severity),
			Timestamp: a.Timestamp,
			User:      a.UserName,
			SourceIP:  a.SourceIP,
			Technique: string(a.Technique),
			Evidence:  a.Evidence,
		})
	}
	return views, nil
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}

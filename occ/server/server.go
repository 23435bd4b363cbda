package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pingcap-incubator/tinyocc/log"
	"github.com/pingcap-incubator/tinyocc/occ/cell"
	"github.com/pingcap/errors"
	"github.com/urfave/negroni"
)

const shutdownTimeout = 3 * time.Second

// Server exposes the status API on a TCP address.
type Server struct {
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates a status server for addr. Use ":0" to pick a free port.
func New(addr string, table *cell.Table, pool StatsProvider) *Server {
	n := negroni.New(negroni.NewRecovery())
	n.UseHandler(NewRouter(table, pool))
	return &Server{
		srv: &http.Server{
			Addr:    addr,
			Handler: n,
		},
		done: make(chan struct{}),
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errors.Annotatef(err, "listen on %s", s.srv.Addr)
	}
	s.listener = l
	log.Infof("status server listening on %s", l.Addr())
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(l); err != nil && err != http.ErrServerClosed {
			log.Errorf("status server stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.srv.Addr
	}
	return s.listener.Addr().String()
}

// Close stops the server, waiting briefly for open requests.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	<-s.done
	return errors.Trace(err)
}

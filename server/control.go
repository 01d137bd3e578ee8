package server

import (
	"bufio"
	"errors"
	"net"
	"os"
	"strings"
	"time"
)

// ServeControl accepts operator commands on a unix socket until the server
// stops. One command per connection:
//
//	stats            -> OK|connections=N,users=a;b
//	shutdown|reason  -> OK|Shutting down, then every session is told why
func (s *Server) ServeControl(path string) error {
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	go func() {
		<-s.done
		listener.Close()
	}()

	s.log.Info("control socket listening on %s", path)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}

		go s.handleControlCommand(conn)
	}
}

func (s *Server) handleControlCommand(conn net.Conn) {
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(s.config.WriteTimeout))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}

	parts := strings.SplitN(strings.TrimSpace(line), "|", 2)

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + s.GetStats() + "\n"))

	case "shutdown":
		reason := "maintenance"
		if len(parts) == 2 && parts[1] != "" {
			reason = parts[1]
		}

		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		s.log.Info("shutdown requested over control socket: %s", reason)
		s.Shutdown(reason)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}

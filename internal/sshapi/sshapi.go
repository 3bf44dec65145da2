// Package sshapi is the SSH collaborator: an exec-only SSH server
// exposing the same get/put/delete vocabulary as the HTTP
// collaborator, for scripting against the store without an HTTP
// client.
package sshapi

import (
	"fmt"
	"io"
	"strings"

	"github.com/gliderlabs/ssh"
	"github.com/sirupsen/logrus"
	gossh "golang.org/x/crypto/ssh"

	"github.com/forgebase/gitkv"
)

// Server is an exec-only SSH front end over a *gitkv.Store.
type Server struct {
	store      *gitkv.Store
	log        *logrus.Logger
	hostSigner gossh.Signer
}

// New builds a Server. hostKey may be nil, in which case the
// underlying gliderlabs/ssh server generates its own ephemeral host
// key for the process lifetime.
func New(store *gitkv.Store, log *logrus.Logger, hostKey gossh.Signer) *Server {
	return &Server{store: store, log: log, hostSigner: hostKey}
}

// ListenAndServe accepts connections at addr and serves exec requests
// against the store until the listener is closed.
func (s *Server) ListenAndServe(addr string) error {
	srv := &ssh.Server{
		Addr:    addr,
		Handler: s.handleSession,
	}
	if s.hostSigner != nil {
		srv.AddHostKey(s.hostSigner)
	}
	s.log.WithField("addr", addr).Info("ssh collaborator listening")
	return srv.ListenAndServe()
}

// handleSession implements the exec command vocabulary:
//
//	get COMMIT PATH
//	get-latest PATH
//	put-latest PATH DATA
//	delete-latest PATH
//	ping
func (s *Server) handleSession(sess ssh.Session) {
	cmd := sess.Command()
	if len(cmd) == 0 {
		fmt.Fprintln(sess.Stderr(), "usage: get|get-latest|put-latest|delete-latest|ping ...")
		sess.Exit(1)
		return
	}
	if err := s.dispatch(sess, cmd[0], cmd[1:]); err != nil {
		fmt.Fprintf(sess.Stderr(), "%v\n", err)
		sess.Exit(1)
		return
	}
	sess.Exit(0)
}

func (s *Server) dispatch(sess ssh.Session, op string, args []string) error {
	switch op {
	case "ping":
		fmt.Fprintln(sess, "pong")
		return nil
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: get COMMIT PATH")
		}
		entry, err := s.store.Read(args[0], args[1])
		return s.writeEntry(sess, entry, err)
	case "get-latest":
		if len(args) != 1 {
			return fmt.Errorf("usage: get-latest PATH")
		}
		entry, err := s.store.ReadLatest(args[0])
		return s.writeEntry(sess, entry, err)
	case "put-latest":
		if len(args) != 2 {
			return fmt.Errorf("usage: put-latest PATH DATA")
		}
		id, err := s.store.PutLatest(args[0], []byte(args[1]), gitkv.WriteOptions{})
		if err != nil {
			return err
		}
		fmt.Fprintln(sess, id)
		return nil
	case "delete-latest":
		if len(args) != 1 {
			return fmt.Errorf("usage: delete-latest PATH")
		}
		id, err := s.store.DeleteLatest(args[0], gitkv.WriteOptions{})
		if err != nil {
			return err
		}
		fmt.Fprintln(sess, id)
		return nil
	default:
		return fmt.Errorf("exec: no such command: %s", op)
	}
}

func (s *Server) writeEntry(w io.Writer, entry *gitkv.GitEntry, err error) error {
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("not found")
	}
	switch d := entry.Data.(type) {
	case gitkv.FileData:
		fmt.Fprintln(w, d.Data)
	case gitkv.DirData:
		names := make([]string, len(d.Entries))
		for i, e := range d.Entries {
			names[i] = e.Name
		}
		fmt.Fprintln(w, strings.Join(names, "\n"))
	}
	return nil
}

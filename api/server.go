// Package api serves replay sessions to debugger front-ends over websockets.
package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/liuxd6825/replayd/js"
)

// Defaults of Config.
const (
	DefaultRequestRate  = 200
	DefaultRequestBurst = 50
)

// Config describes what a server replays and how.
type Config struct {
	Logger logrus.FieldLogger

	// Load returns a fresh copy of the recording. Every connection replays its
	// own copy, as playback installs breakpoints on the compiled scripts.
	Load func() (*js.Recording, error)

	// Player options shared by every connection. The logger is replaced by a
	// per-connection one.
	Player js.PlayerOptions

	// InternalURLPrefixes mark more scripts as internal to the debuggee.
	InternalURLPrefixes []string

	// RequestRate and RequestBurst limit the requests of one connection.
	RequestRate  rate.Limit
	RequestBurst int
}

func newHandler(conf Config) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/v1/session", handleSession(conf))
	mux.Handle("/ping", handlePing(conf.Logger))
	mux.Handle("/", handlePing(conf.Logger))
	return mux
}

// GetServer returns a http.Server instance that serves replay sessions.
func GetServer(addr string, conf Config) *http.Server {
	if conf.Logger == nil {
		conf.Logger = logrus.StandardLogger()
	}
	if conf.RequestRate <= 0 {
		conf.RequestRate = DefaultRequestRate
	}
	if conf.RequestBurst <= 0 {
		conf.RequestBurst = DefaultRequestBurst
	}

	mux := withLoggingHandler(conf.Logger, newHandler(conf))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}

type wrappedResponseWriter struct {
	http.ResponseWriter
	status *int
}

func (w wrappedResponseWriter) WriteHeader(status int) {
	*w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (w wrappedResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("%T can't be hijacked", w.ResponseWriter)
	}
	*w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// withLoggingHandler returns the middleware which logs response status for request.
func withLoggingHandler(l logrus.FieldLogger, next http.Handler) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		status := http.StatusOK // The default status code is 200 if it's not set
		next.ServeHTTP(wrappedResponseWriter{ResponseWriter: rw, status: &status}, r)

		l.WithField("status", status).Debugf("%s %s", r.Method, r.URL.Path)
	}
}

func handlePing(logger logrus.FieldLogger) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Add("Content-Type", "text/plain; charset=utf-8")
		if _, err := fmt.Fprint(rw, "ok"); err != nil {
			logger.WithError(err).Error("Error while printing ok")
		}
	})
}

func handleSession(conf Config) http.Handler {
	upgrader := &websocket.Upgrader{}
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rec, err := conf.Load()
		if err != nil {
			conf.Logger.WithError(err).Error("Couldn't load the recording")
			http.Error(rw, "couldn't load the recording", http.StatusInternalServerError)
			return
		}

		ws, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			// the upgrader already replied
			conf.Logger.WithError(err).Debug("Websocket upgrade failed")
			return
		}
		defer func() { _ = ws.Close() }()
		// hijacked connections outlive http.Server.Shutdown otherwise
		stop := context.AfterFunc(r.Context(), func() { _ = ws.Close() })
		defer stop()

		c, err := newConn(r.Context(), ws, rec, conf)
		if err != nil {
			conf.Logger.WithError(err).Error("Couldn't start a session")
			return
		}
		c.logger.Info("Session started")
		if err := c.serve(); err != nil && !isClosed(err) {
			c.logger.WithError(err).Warn("Session failed")
			return
		}
		c.logger.Info("Session closed")
	})
}

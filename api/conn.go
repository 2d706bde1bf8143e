package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/liuxd6825/replayd/js"
	"github.com/liuxd6825/replayd/replay"
)

// Control messages. Every other message type is a replay.RequestType.
const (
	MessageResume = "resume"
	MessageRewind = "rewind"
)

// Events sent to the client.
const (
	EventPositionHit = "positionHit"
	EventFinished    = "finished"
	EventRewound     = "rewound"
	EventError       = "error"
)

// Event is a message the server sends on its own.
type Event struct {
	Event    string           `json:"event"`
	Position *replay.Position `json:"position,omitempty"`
	Pause    *uint64          `json:"pause,omitempty"`
	Message  string           `json:"message,omitempty"`
}

// Response answers a request. Seq repeats the seq of the request.
type Response struct {
	Seq      int64 `json:"seq"`
	Response any   `json:"response"`
}

type action int

const (
	actionNone action = iota
	actionResume
	actionRewind
)

// conn is one client connection. Everything runs on the goroutine serving
// the connection: reads happen both at the top level and, while paused,
// from inside the pause handler.
type conn struct {
	ctx     context.Context
	ws      *websocket.Conn
	logger  logrus.FieldLogger
	limiter *rate.Limiter
	player  *js.Player
	session *replay.Session

	// err is set when the connection failed while playback was paused.
	err    error
	rewind bool
}

func newConn(ctx context.Context, ws *websocket.Conn, rec *js.Recording, conf Config) (*conn, error) {
	logger := conf.Logger.WithField("remote", ws.RemoteAddr().String())

	opts := conf.Player
	opts.Logger = logger
	player := js.NewPlayer(rec, opts)
	session, err := replay.NewSession(replay.Config{
		Debugger:            player,
		Host:                player,
		Logger:              logger,
		InternalURLPrefixes: conf.InternalURLPrefixes,
	})
	if err != nil {
		return nil, err
	}
	player.Attach(session)

	c := &conn{
		ctx:     ctx,
		ws:      ws,
		logger:  logger,
		limiter: rate.NewLimiter(conf.RequestRate, conf.RequestBurst),
		player:  player,
		session: session,
	}
	player.SetPauseHandler(c.pause)
	return c, nil
}

func (c *conn) serve() error {
	for {
		msg, err := c.read()
		if err != nil {
			return err
		}
		act, err := c.dispatch(msg)
		if err != nil {
			return err
		}
		switch act {
		case actionResume:
			err = c.play()
		case actionRewind:
			err = c.doRewind()
		case actionNone:
		}
		if err != nil {
			return err
		}
	}
}

func (c *conn) read() ([]byte, error) {
	for {
		mt, msg, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage {
			return msg, nil
		}
		c.logger.WithField("type", mt).Debug("Ignoring non-text message")
	}
}

func (c *conn) send(v any) error {
	return c.ws.WriteJSON(v)
}

// dispatch answers a request, or returns the control action a message asks
// for. Malformed messages are reported to the client.
func (c *conn) dispatch(msg []byte) (action, error) {
	if !gjson.ValidBytes(msg) {
		return actionNone, c.send(Event{Event: EventError, Message: "invalid JSON message"})
	}
	typ := gjson.GetBytes(msg, "type")
	if typ.Type != gjson.String {
		return actionNone, c.send(Event{Event: EventError, Message: "message without a type"})
	}
	switch typ.Str {
	case MessageResume:
		return actionResume, nil
	case MessageRewind:
		return actionRewind, nil
	}

	if err := c.limiter.Wait(c.ctx); err != nil {
		return actionNone, err
	}
	seq := gjson.GetBytes(msg, "seq").Int()
	var req replay.Request
	if err := json.Unmarshal(msg, &req); err != nil {
		return actionNone, c.send(Response{Seq: seq, Response: replay.ExceptionResponse{Exception: err.Error()}})
	}
	c.logger.WithFields(logrus.Fields{"type": req.Type, "seq": seq}).Debug("Request")
	return actionNone, c.send(Response{Seq: seq, Response: c.session.ProcessRequest(req, c.player)})
}

// play plays until the end of the recording, a rewind or a failure of the
// connection.
func (c *conn) play() error {
	err := c.player.Play(c.ctx)
	if c.err != nil {
		return c.err
	}
	if c.rewind {
		return c.doRewind()
	}
	if err != nil {
		c.logger.WithError(err).Warn("Playback failed")
		return c.send(Event{Event: EventError, Message: err.Error()})
	}
	return c.send(Event{Event: EventFinished})
}

func (c *conn) doRewind() error {
	c.rewind = false
	c.session.Reset()
	c.player.Rewind()
	return c.send(Event{Event: EventRewound})
}

// pause reports a hit and serves requests until the client resumes.
func (c *conn) pause(pos replay.Position) {
	if c.err != nil || c.rewind {
		return
	}
	defer c.session.ClearPausedState()

	gen := c.session.PauseGeneration()
	if err := c.send(Event{Event: EventPositionHit, Position: &pos, Pause: &gen}); err != nil {
		c.fail(err)
		return
	}
	for {
		msg, err := c.read()
		if err != nil {
			c.fail(err)
			return
		}
		act, err := c.dispatch(msg)
		if err != nil {
			c.fail(err)
			return
		}
		switch act {
		case actionResume:
			return
		case actionRewind:
			c.rewind = true
			c.player.Stop()
			return
		case actionNone:
		}
	}
}

func (c *conn) fail(err error) {
	c.err = err
	c.player.Stop()
}

func isClosed(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) || errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

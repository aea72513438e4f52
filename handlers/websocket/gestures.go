package websocket

import (
	"errors"
	"fmt"
	"quicksign-server/canvas"
	"quicksign-server/middleware"
	"quicksign-server/widgets"
	"reflect"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const (
	EventJoinSession = "join-session"
	EventPointerDown = "pointer-down"
	EventPointerMove = "pointer-move"
	EventPointerUp   = "pointer-up"
	EventInkChanged  = "ink-changed"
)

var errForbidden = errors.New("session belongs to another user")

type ackInvoker func(err error, payload map[string]any)

func SetupSocketIO(registry *widgets.Registry) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(1000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		me := socket.Id()
		subject, err := authenticate(socket.Handshake())
		if err != nil {
			logrus.WithField("socket_id", me).WithError(err).Warn("Socket rejected")
			_ = socket.Emit("auth-error", map[string]any{"error": err.Error()})
			socket.Disconnect(true)
			return
		}
		log := logrus.WithFields(logrus.Fields{
			"socket_id": me,
			"subject":   subject,
		})
		log.Debug("Socket connected")

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(EventJoinSession, func(datas ...any) {
			ack, args := extractAck(datas)
			state, err := applyGesture(registry, subject, EventJoinSession, args)
			if err != nil {
				respondWithAck(ack, errorPayload(err), err)
				return
			}
			socket.Join(socketio.Room(state.ID))
			log.WithField("widget_id", state.ID).Info("Socket joined session")
			respondWithAck(ack, statePayload(state), nil)
		})

		for _, event := range []string{EventPointerDown, EventPointerMove, EventPointerUp} {
			//nolint:errcheck // Socket.IO event handlers do not return useful errors
			socket.On(event, func(datas ...any) {
				ack, args := extractAck(datas)
				state, err := applyGesture(registry, subject, event, args)
				if err != nil {
					respondWithAck(ack, errorPayload(err), err)
					return
				}
				respondWithAck(ack, statePayload(state), nil)

				if event == EventPointerUp {
					_ = socket.Broadcast().To(socketio.Room(state.ID)).Emit(EventInkChanged, map[string]any{
						"sessionId": state.ID,
						"strokes":   state.StrokeCount,
					})
				}
			})
		}

		socket.On("disconnect", func(datas ...any) {
			log.Debug("Socket disconnected")
			socket.RemoveAllListeners("")
		})
	})

	return srv
}

// authenticate returns the subject of the token passed in the handshake auth
// object or the "token" query parameter. Anonymous sockets are allowed when
// JWT auth is disabled.
func authenticate(h *socketio.Handshake) (string, error) {
	if !middleware.Enabled() {
		return "", nil
	}

	var token string
	if auth, ok := any(h.Auth).(map[string]any); ok {
		token, _ = auth["token"].(string)
	}
	if token == "" {
		if values := h.Query["token"]; len(values) > 0 {
			token = values[0]
		}
	}
	if token == "" {
		return "", errors.New("token is required")
	}

	claims, err := middleware.ParseJWT(token)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return claims.Subject, nil
}

// applyGesture runs one socket event against the session named by args[0].
// Pointer down and move events carry a point as args[1].
func applyGesture(registry *widgets.Registry, subject, event string, args []any) (widgets.State, error) {
	if len(args) == 0 {
		return widgets.State{}, errors.New("session id is required")
	}
	id, ok := args[0].(string)
	if !ok || id == "" {
		return widgets.State{}, errors.New("invalid session id")
	}

	wdg, err := registry.Get(id)
	if err != nil {
		return widgets.State{}, err
	}
	if wdg.Owner() != "" && wdg.Owner() != subject {
		return widgets.State{}, errForbidden
	}

	switch event {
	case EventJoinSession:
		return wdg.State(), nil
	case EventPointerUp:
		return wdg.End(), nil
	}

	if len(args) < 2 {
		return widgets.State{}, errors.New("point is required")
	}
	p, origin, err := parsePoint(args[1])
	if err != nil {
		return widgets.State{}, err
	}
	if event == EventPointerDown {
		return wdg.Begin(p, origin), nil
	}
	return wdg.Extend(p, origin), nil
}

// parsePoint reads {x, y, origin?: {x, y}} as decoded from JSON.
func parsePoint(v any) (canvas.Point, *canvas.Point, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return canvas.Point{}, nil, errors.New("point must be an object")
	}
	p, err := coords(m)
	if err != nil {
		return canvas.Point{}, nil, err
	}

	raw, exists := m["origin"]
	if !exists || raw == nil {
		return p, nil, nil
	}
	om, ok := raw.(map[string]any)
	if !ok {
		return canvas.Point{}, nil, errors.New("origin must be an object")
	}
	origin, err := coords(om)
	if err != nil {
		return canvas.Point{}, nil, fmt.Errorf("origin: %w", err)
	}
	return p, &origin, nil
}

func coords(m map[string]any) (canvas.Point, error) {
	x, ok := number(m["x"])
	if !ok {
		return canvas.Point{}, errors.New("x must be a number")
	}
	y, ok := number(m["y"])
	if !ok {
		return canvas.Point{}, errors.New("y must be a number")
	}
	p := canvas.Point{X: x, Y: y}
	if !p.Valid() {
		return canvas.Point{}, errors.New("coordinates are out of range")
	}
	return p, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func statePayload(state widgets.State) map[string]any {
	return map[string]any{
		"status":  "ok",
		"strokes": state.StrokeCount,
		"drawing": state.Drawing,
	}
}

func errorPayload(err error) map[string]any {
	return map[string]any{
		"status": "error",
		"error":  err.Error(),
	}
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	ack = wrapAck(datas[len(datas)-1])
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

// wrapAck adapts whatever callback the socket.io layer handed us into an
// ackInvoker. Single-argument callbacks receive the error or the payload.
func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}

	value := reflect.ValueOf(candidate)
	if value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		args := make([]reflect.Value, typ.NumIn())
		for i := range args {
			var arg any
			switch {
			case typ.NumIn() == 1 && err != nil:
				arg = err
			case typ.NumIn() == 1:
				arg = payload
			case i == 0:
				arg = err
			case i == 1:
				arg = payload
			}
			args[i] = coerceValue(arg, typ.In(i))
		}
		value.Call(args)
	}
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(targetType) {
		return rv
	}
	if targetType.Kind() == reflect.String {
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	}
	return reflect.Zero(targetType)
}

func respondWithAck(ack ackInvoker, payload map[string]any, err error) {
	if ack != nil {
		ack(err, payload)
	}
}

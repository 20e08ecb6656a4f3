package realtime

import (
	"context"
	"sync"

	"designboard/core"
	"designboard/docstore"
	"designboard/presence"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// connState tracks what a single socket has joined, so every exit path can
// tear it down exactly once.
type connState struct {
	mu        sync.Mutex
	projectID string
	session   *presence.Session
	dispose   func()
	cancel    context.CancelFunc
}

func (c *connState) clear() (session *presence.Session, dispose func(), cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, dispose, cancel = c.session, c.dispose, c.cancel
	c.projectID = ""
	c.session = nil
	c.dispose = nil
	c.cancel = nil
	return session, dispose, cancel
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

// NewServer builds the socket.io server that pushes live project snapshots
// and feeds cursor movement through the presence tracker.
func NewServer(adapter *docstore.Adapter, tracker *presence.Tracker) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})
	ioo := socketio.NewServer(nil, opts)

	ioo.On("connection", func(clients ...any) {
		socket := clients[0].(*socketio.Socket)
		me := socket.Id()
		state := &connState{}

		leave := func() {
			session, dispose, cancel := state.clear()
			if cancel != nil {
				cancel()
			}
			if dispose != nil {
				dispose()
			}
			if session != nil {
				if err := session.Leave(context.Background()); err != nil {
					logrus.WithFields(logrus.Fields{
						"socket": me,
						"error":  err,
					}).Warn("Failed to leave project")
				}
			}
		}

		socket.On("join-project", func(datas ...any) {
			payload, _ := datas[0].(map[string]any)
			projectID := asString(payload["projectId"])
			userID := asString(payload["userId"])
			if projectID == "" || userID == "" {
				socket.Emit("join-error", "projectId and userId are required")
				return
			}

			// A socket follows one project at a time.
			leave()

			session, err := tracker.Join(context.Background(), projectID, userID,
				asString(payload["email"]), asString(payload["name"]))
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"projectId": projectID,
					"userId":    userID,
					"error":     err,
				}).Error("Failed to join project")
				socket.Emit("join-error", "failed to join project")
				return
			}

			ctx, cancel := context.WithCancel(context.Background())
			updates, dispose, err := adapter.Subscribe(ctx, projectID)
			if err != nil {
				cancel()
				_ = session.Leave(context.Background())
				logrus.WithFields(logrus.Fields{
					"projectId": projectID,
					"error":     err,
				}).Error("Failed to subscribe to project")
				socket.Emit("join-error", "failed to subscribe")
				return
			}

			state.mu.Lock()
			state.projectID = projectID
			state.session = session
			state.dispose = dispose
			state.cancel = cancel
			state.mu.Unlock()

			socket.Join(socketio.Room(projectID))
			logrus.WithFields(logrus.Fields{
				"socket":    me,
				"projectId": projectID,
				"userId":    userID,
			}).Debug("Socket joined project")

			go func() {
				for snap := range updates {
					socket.Emit("project-snapshot", snap)
				}
			}()
		})

		socket.On("cursor", func(datas ...any) {
			payload, _ := datas[0].(map[string]any)

			state.mu.Lock()
			session := state.session
			state.mu.Unlock()
			if session == nil {
				return
			}

			err := session.MoveCursor(context.Background(), core.Point{
				X: asFloat(payload["x"]),
				Y: asFloat(payload["y"]),
			})
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"socket": me,
					"error":  err,
				}).Debug("Dropped cursor update")
			}
		})

		socket.On("leave-project", func(datas ...any) {
			leave()
		})

		socket.On("disconnecting", func(datas ...any) {
			leave()
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})
	return ioo
}

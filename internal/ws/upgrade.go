package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"lipa/config"
	"lipa/internal/apperr"
	"lipa/internal/auth"
	"lipa/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var errNotOwner = errors.New("intent belongs to another user")

// message is one frame sent to the watcher.
type message struct {
	Type    string        `json:"type"` // status | outcome | error
	Outcome string        `json:"outcome,omitempty"`
	Message string        `json:"message,omitempty"`
	Data    *service.View `json:"data,omitempty"`
}

// StatusWatch streams an intent's status over a websocket. It sends a status
// frame whenever the status changes and finishes with one outcome frame, which
// is "pending" with a check-later message if polling ran out first.
// When a JWT secret is configured the token is read from ?token=.
func StatusWatch(status *service.StatusService, jwtCfg *config.JWTConfig, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil || id == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid intent id"})
			return
		}
		var userID uint
		if jwtCfg != nil && jwtCfg.AccessSecret != "" {
			claims, err := auth.ParseAccessToken(jwtCfg, c.Query("token"))
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid or expired token"})
				return
			}
			userID = claims.UserID
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Debug("status watch upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		go readPump(conn, cancel)

		last := ""
		out, err := status.Watch(ctx, service.Lookup{IntentID: uint(id)}, func(v *service.View) error {
			if userID != 0 && v.UserID != userID {
				return errNotOwner
			}
			if v.Status == last {
				return nil
			}
			last = v.Status
			return writeJSON(conn, message{Type: "status", Data: v})
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			msg := apperr.PublicMessage(err)
			if errors.Is(err, errNotOwner) {
				msg = "Payment not found"
			}
			_ = writeJSON(conn, message{Type: "error", Message: msg})
			closeNormal(conn)
			return
		}
		_ = writeJSON(conn, message{Type: "outcome", Outcome: out.Outcome, Message: out.Message, Data: out.View})
		closeNormal(conn)
	}
}

func writeJSON(conn *websocket.Conn, m message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(m)
}

func closeNormal(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// readPump discards client frames and cancels the watch when the peer goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

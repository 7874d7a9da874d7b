// Package gateway accepts WebSocket connections, authenticates them and
// pumps frames between clients and the broker.
package gateway

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/auth"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/crypto"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/protocol"
)

type Gateway struct {
	router Router
	pres   Presence
	auth   *auth.Manager
	log    *zap.Logger

	upgrader websocket.Upgrader
}

func New(router Router, pres Presence, authMgr *auth.Manager, log *zap.Logger) *Gateway {
	return &Gateway{
		router: router,
		pres:   pres,
		auth:   authMgr,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades an authenticated request to a WebSocket session. The
// token comes from the Authorization header or, for browser clients that
// cannot set headers on the upgrade, the token query parameter.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.FromHeader(r.Header.Get("Authorization"))
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := g.auth.ValidateToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	var key []byte
	if claims.SessionKey != "" {
		if key, err = crypto.KeyFromHex(claims.SessionKey); err != nil {
			g.log.Warn("bad session key, encryption disabled",
				zap.String("user", claims.UserID), zap.Error(err))
			key = nil
		}
	}

	s := newSession(uuid.NewString(), claims.UserID, key, conn, g.router, g.pres, g.log)
	g.router.Register(s)
	// Every session listens on its own event stream and the global channel;
	// unread signals and presence broadcasts need no explicit join.
	g.router.Subscribe(s, protocol.UserTopic(claims.UserID))
	g.router.Subscribe(s, protocol.TopicGlobal)
	g.pres.Connect(s.id, s.userID)
	g.log.Info("session connected", zap.String("conn", s.id), zap.String("user", s.userID))

	go s.writePump()
	go s.readPump()
}

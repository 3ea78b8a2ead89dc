package realtime

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Buchi-dev/puretrack/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The UI is served from the same origin as the API in this module's
	// deployment topology; cross-origin websocket clients are out of scope.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// jwtSecret is the signing key ServeHTTP verifies a session's bearer token
// against. Nil (the default) disables verification entirely; setting a
// secret only opts a deployment into reading sub/role claims off an
// already-issued token, never into performing authentication itself.
var jwtSecret []byte

// SetJWTSecret configures the bearer-token verification key. Call once at
// startup; an empty secret disables verification.
func SetJWTSecret(secret []byte) { jwtSecret = secret }

type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// verifyBearer extracts and verifies a bearer token from the Authorization
// header or ?token= query parameter. It returns ok=false both when no
// secret is configured and when no token was presented (both are treated as
// anonymous); it returns an error only for a token that was presented but
// failed verification, which the caller rejects outright.
func verifyBearer(r *http.Request) (claims sessionClaims, present bool, err error) {
	if len(jwtSecret) == 0 {
		return claims, false, nil
	}
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if raw == "" {
		return claims, false, nil
	}
	_, err = jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) { return jwtSecret, nil })
	if err != nil {
		return claims, true, err
	}
	return claims, true, nil
}

// ServeHTTP upgrades the request to a websocket and subscribes it to the
// topics named by repeated ?topic= query parameters, tearing the session
// down when the connection drops. When a JWT secret is configured, a
// presented-but-invalid bearer token is rejected before the upgrade; a
// verified token's sub/role claims are attached to the session's log fields.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, tokenPresent, err := verifyBearer(r)
	if tokenPresent && err != nil {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Component("realtime").WithError(err).Warn("websocket upgrade failed")
		return
	}

	topics := ParseTopics(r.URL.Query()["topic"])
	if len(topics) == 0 {
		topics = []Topic{TopicReadings, TopicAlerts, TopicDeviceStatus}
	}

	id := uuid.NewString()
	entry := logging.Component("realtime").WithField("session", id)
	if tokenPresent {
		entry = entry.WithField("sub", claims.Subject).WithField("role", claims.Role)
	}
	entry.Debug("session established")

	unsub := h.Subscribe(id, conn, topics)
	defer unsub()

	// The read side only exists to detect client disconnects and honor
	// pings; PureTrack's realtime channel is push-only from the server.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

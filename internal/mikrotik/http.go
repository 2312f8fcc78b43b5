package mikrotik

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"hotspotd/internal/logs"
	"hotspotd/internal/models"

	"github.com/gorilla/mux"
)

// HTTP — proxy-поверхность для UI: все ручки принимают реквизиты роутера в
// теле запроса и открывают сессию на время одного вызова (без пула).
type HTTP struct {
	probe *Probe
}

func NewHTTP(p *Probe) *HTTP { return &HTTP{probe: p} }

func (h *HTTP) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1/mikrotik").Subrouter()

	api.HandleFunc("/connect", h.connect).Methods(http.MethodPost)
	api.HandleFunc("/identity", h.identity).Methods(http.MethodPost)
	api.HandleFunc("/command", h.command).Methods(http.MethodPost)
	api.HandleFunc("/hotspot/users", h.hotspotUsers).Methods(http.MethodPost)
	api.HandleFunc("/hotspot/users/create", h.createUser).Methods(http.MethodPost)
	api.HandleFunc("/hotspot/users/create-batch", h.createBatch).Methods(http.MethodPost)
	api.HandleFunc("/hotspot/active", h.activeUsers).Methods(http.MethodPost)
}

// connBody — общая часть тела запроса: реквизиты подключения.
type connBody struct {
	IP             string `json:"ip"`
	Port           int    `json:"port"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	ConnectionType string `json:"connectionType"`
}

func (b connBody) validate() string {
	if net.ParseIP(b.IP) == nil {
		return "ip must be a valid IP address"
	}
	if b.Port < 0 || b.Port > 65535 {
		return "port out of range"
	}
	if b.Username == "" {
		return "username required"
	}
	if b.Password == "" {
		return "password required"
	}
	switch b.ConnectionType {
	case "", models.ConnectAuto, models.ConnectAPI, models.ConnectWinbox:
	default:
		return "connectionType must be auto|api|winbox"
	}
	return ""
}

func (b connBody) router() models.Router {
	return models.Router{
		Address:        b.IP,
		Port:           b.Port,
		Username:       b.Username,
		Password:       b.Password,
		ConnectionType: b.ConnectionType,
	}
}

type userBody struct {
	Name               string `json:"name"`
	Password           string `json:"password"`
	Profile            string `json:"profile"`
	LimitUptimeMinutes int    `json:"limitUptimeMinutes"`
	LimitBytesIn       int64  `json:"limitBytesIn"`
	LimitBytesOut      int64  `json:"limitBytesOut"`
	Disabled           bool   `json:"disabled"`
	Comment            string `json:"comment"`
}

func (b userBody) spec() UserSpec {
	return UserSpec{
		Name:               b.Name,
		Password:           b.Password,
		Profile:            b.Profile,
		LimitUptimeMinutes: b.LimitUptimeMinutes,
		LimitBytesIn:       b.LimitBytesIn,
		LimitBytesOut:      b.LimitBytesOut,
		Disabled:           b.Disabled,
		Comment:            b.Comment,
	}
}

// ---- envelope ответа: {success, data} / {success:false, error, message}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func writeErr(w http.ResponseWriter, status int, title string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"success": false, "error": title}
	if err != nil {
		body["message"] = err.Error()
	}
	_ = json.NewEncoder(w).Encode(body)
}

func decodeConn(w http.ResponseWriter, r *http.Request, dst any, conn *connBody) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErr(w, http.StatusBadRequest, "Validation error", err)
		return false
	}
	if msg := conn.validate(); msg != "" {
		writeErr(w, http.StatusBadRequest, "Validation error", errString(msg))
		return false
	}
	return true
}

type errString string

func (e errString) Error() string { return string(e) }

func (h *HTTP) open(w http.ResponseWriter, r *http.Request, conn connBody) *Session {
	sess, err := h.probe.Connect(r.Context(), conn.router())
	if err != nil {
		status := http.StatusBadGateway
		var ce *ConnectError
		if errors.As(err, &ce) && ce.AuthRejected() {
			status = http.StatusUnauthorized
		}
		writeErr(w, status, "Connection failed", err)
		return nil
	}
	return sess
}

func (h *HTTP) connect(w http.ResponseWriter, r *http.Request) {
	var in connBody
	if !decodeConn(w, r, &in, &in) {
		return
	}
	sess := h.open(w, r, in)
	if sess == nil {
		return
	}
	defer sess.Close()

	writeData(w, http.StatusOK, map[string]any{
		"connected":      true,
		"host":           in.IP,
		"port":           sess.Strategy().Port,
		"connectionType": sess.Strategy().Name,
		"identity":       sess.Identity(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HTTP) identity(w http.ResponseWriter, r *http.Request) {
	var in connBody
	if !decodeConn(w, r, &in, &in) {
		return
	}
	sess := h.open(w, r, in)
	if sess == nil {
		return
	}
	defer sess.Close()

	info, err := sess.SystemInfo(r.Context())
	if err != nil {
		writeErr(w, http.StatusBadGateway, "Failed to get system identity", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"identity": info.Identity,
		"resource": info.Resource,
		"license":  info.License,
	})
}

func (h *HTTP) command(w http.ResponseWriter, r *http.Request) {
	var in struct {
		connBody
		Command string            `json:"command"`
		Params  map[string]string `json:"params"`
	}
	if !decodeConn(w, r, &in, &in.connBody) {
		return
	}
	if in.Command == "" {
		writeErr(w, http.StatusBadRequest, "Validation error", errString("command required"))
		return
	}
	sess := h.open(w, r, in.connBody)
	if sess == nil {
		return
	}
	defer sess.Close()

	rows, err := sess.Run(r.Context(), in.Command, in.Params)
	if err != nil {
		writeErr(w, http.StatusBadGateway, "Command execution failed", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"command": in.Command, "result": rows})
}

func (h *HTTP) hotspotUsers(w http.ResponseWriter, r *http.Request) {
	var in connBody
	if !decodeConn(w, r, &in, &in) {
		return
	}
	sess := h.open(w, r, in)
	if sess == nil {
		return
	}
	defer sess.Close()

	users, err := sess.HotspotUsers(r.Context())
	if err != nil {
		writeErr(w, http.StatusBadGateway, "Failed to get hotspot users", err)
		return
	}
	writeData(w, http.StatusOK, users)
}

func (h *HTTP) activeUsers(w http.ResponseWriter, r *http.Request) {
	var in connBody
	if !decodeConn(w, r, &in, &in) {
		return
	}
	sess := h.open(w, r, in)
	if sess == nil {
		return
	}
	defer sess.Close()

	active, err := sess.ActiveUsers(r.Context())
	if err != nil {
		writeErr(w, http.StatusBadGateway, "Failed to get active users", err)
		return
	}
	writeData(w, http.StatusOK, active)
}

func (h *HTTP) createUser(w http.ResponseWriter, r *http.Request) {
	var in struct {
		connBody
		User userBody `json:"user"`
	}
	if !decodeConn(w, r, &in, &in.connBody) {
		return
	}
	if in.User.Name == "" {
		writeErr(w, http.StatusBadRequest, "Validation error", errString("user.name required"))
		return
	}
	sess := h.open(w, r, in.connBody)
	if sess == nil {
		return
	}
	defer sess.Close()

	id, err := sess.CreateUser(r.Context(), in.User.spec())
	if err != nil {
		writeErr(w, http.StatusBadGateway, "Failed to create hotspot user", err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"name": in.User.Name, "id": id})
}

func (h *HTTP) createBatch(w http.ResponseWriter, r *http.Request) {
	var in struct {
		connBody
		Users []userBody `json:"users"`
	}
	if !decodeConn(w, r, &in, &in.connBody) {
		return
	}
	if len(in.Users) < 1 || len(in.Users) > BatchLimit {
		writeErr(w, http.StatusBadRequest, "Validation error",
			errString("users must contain 1..200 items"))
		return
	}
	specs := make([]UserSpec, 0, len(in.Users))
	for _, u := range in.Users {
		if u.Name == "" {
			writeErr(w, http.StatusBadRequest, "Validation error", errString("user.name required"))
			return
		}
		specs = append(specs, u.spec())
	}

	sess := h.open(w, r, in.connBody)
	if sess == nil {
		return
	}
	defer sess.Close()

	res, err := sess.CreateUsersBatch(r.Context(), specs)
	if err != nil {
		logs.Logger.Warnf("mikrotik: batch create on %s failed: %v", in.IP, err)
		writeErr(w, http.StatusBadGateway, "Failed to create hotspot users batch", err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{
		"results": res.Created,
		"count":   len(res.Created),
	})
}

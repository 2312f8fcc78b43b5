package repo

import (
	"encoding/json"
	"net/http"
	"strconv"

	"hotspotd/internal/mikrotik"
	"hotspotd/internal/models"

	"github.com/gorilla/mux"
)

// RouterHTTP — реестр роутеров + проверка связи по сохранённым реквизитам.
type RouterHTTP struct {
	store *RouterStore
	probe *mikrotik.Probe
}

func NewRouterHTTP(s *RouterStore, p *mikrotik.Probe) *RouterHTTP {
	return &RouterHTTP{store: s, probe: p}
}

func (h *RouterHTTP) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1/routers").Subrouter()

	api.HandleFunc("", h.list).Methods(http.MethodGet)
	api.HandleFunc("", h.create).Methods(http.MethodPost)
	api.HandleFunc("/{id}", h.get).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.remove).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/test", h.test).Methods(http.MethodPost)
}

func (h *RouterHTTP) byID(w http.ResponseWriter, r *http.Request) *models.Router {
	idU, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || idU == 0 {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "invalid router id", nil)
		return nil
	}
	m, err := h.store.Get(uint(idU))
	if err != nil {
		models.WriteProblem(w, http.StatusNotFound, "Not found", err.Error(), nil)
		return nil
	}
	return m
}

func (h *RouterHTTP) list(w http.ResponseWriter, _ *http.Request) {
	out, err := h.store.List()
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "DB error", err.Error(), nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (h *RouterHTTP) create(w http.ResponseWriter, r *http.Request) {
	var in models.Router
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", err.Error(), nil)
		return
	}
	if in.Name == "" || in.Address == "" || in.Username == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "need name, address, username", nil)
		return
	}
	if err := h.store.Create(&in); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "DB error", err.Error(), nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(in)
}

func (h *RouterHTTP) get(w http.ResponseWriter, r *http.Request) {
	m := h.byID(w, r)
	if m == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m)
}

func (h *RouterHTTP) remove(w http.ResponseWriter, r *http.Request) {
	m := h.byID(w, r)
	if m == nil {
		return
	}
	if err := h.store.Delete(m.ID); err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "DB error", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// test — пробуем подключиться по сохранённым реквизитам и фиксируем исход
// на строке роутера (status/last_identity/last_error).
func (h *RouterHTTP) test(w http.ResponseWriter, r *http.Request) {
	m := h.byID(w, r)
	if m == nil {
		return
	}
	sess, err := h.probe.Connect(r.Context(), *m)
	if err != nil {
		_ = h.store.MarkOffline(m.ID, err.Error())
		models.WriteProblem(w, http.StatusBadGateway, "Connection failed", err.Error(), nil)
		return
	}
	defer sess.Close()

	info, err := sess.SystemInfo(r.Context())
	if err != nil {
		_ = h.store.MarkOffline(m.ID, err.Error())
		models.WriteProblem(w, http.StatusBadGateway, "Connection failed", err.Error(), nil)
		return
	}
	_ = h.store.MarkOnline(m.ID, info.Identity)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"connected": true,
		"strategy":  sess.Strategy().Name,
		"port":      sess.Strategy().Port,
		"identity":  info.Identity,
		"resource":  info.Resource,
	})
}

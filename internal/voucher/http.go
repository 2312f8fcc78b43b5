package voucher

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"hotspotd/internal/models"

	"github.com/gorilla/mux"
)

// HTTP — ручки ledger-а: тарифы, ваучеры, продажи.
type HTTP struct {
	ledger *Ledger
	prov   *Provisioner
}

func NewHTTP(l *Ledger, p *Provisioner) *HTTP { return &HTTP{ledger: l, prov: p} }

func (h *HTTP) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/packages", h.listPackages).Methods(http.MethodGet)
	api.HandleFunc("/packages", h.createPackage).Methods(http.MethodPost)

	api.HandleFunc("/vouchers", h.listVouchers).Methods(http.MethodGet)
	api.HandleFunc("/vouchers/generate", h.generate).Methods(http.MethodPost)
	api.HandleFunc("/vouchers/{id}", h.getVoucher).Methods(http.MethodGet)
	api.HandleFunc("/vouchers/{id}", h.deleteVoucher).Methods(http.MethodDelete)
	api.HandleFunc("/vouchers/{id}/activate", h.activate).Methods(http.MethodPost)
	api.HandleFunc("/vouchers/{id}/sell", h.sell).Methods(http.MethodPost)
	api.HandleFunc("/vouchers/{id}/reset", h.reset).Methods(http.MethodPost)
	api.HandleFunc("/vouchers/{id}/status", h.updateStatus).Methods(http.MethodPost)
}

func pathID(r *http.Request) (uint, bool) {
	idU, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || idU == 0 {
		return 0, false
	}
	return uint(idU), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *HTTP) fail(w http.ResponseWriter, err error) {
	switch {
	case IsNotFound(err):
		models.WriteProblem(w, http.StatusNotFound, "Not found", err.Error(), nil)
	case isTransitionErr(err):
		models.WriteProblem(w, http.StatusConflict, "Invalid transition", err.Error(), nil)
	default:
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", err.Error(), nil)
	}
}

func isTransitionErr(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te)
}

// ---- packages

func (h *HTTP) listPackages(w http.ResponseWriter, _ *http.Request) {
	var out []models.VoucherPackage
	if err := h.ledger.DB().Where("is_active = ?", true).Order("id").Find(&out).Error; err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTP) createPackage(w http.ResponseWriter, r *http.Request) {
	var in models.VoucherPackage
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", err.Error(), nil)
		return
	}
	if in.Name == "" || in.Price < 0 {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "need name and non-negative price", nil)
		return
	}
	in.IsActive = true
	if err := h.ledger.DB().Create(&in).Error; err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

// ---- vouchers

func (h *HTTP) listVouchers(w http.ResponseWriter, r *http.Request) {
	var routerID uint64
	if s := r.URL.Query().Get("router"); s != "" {
		routerID, _ = strconv.ParseUint(s, 10, 64)
	}
	out, err := h.ledger.List(uint(routerID))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTP) getVoucher(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "invalid voucher id", nil)
		return
	}
	v, err := h.ledger.Get(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *HTTP) generate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PackageID    uint  `json:"package_id"`
		RouterID     uint  `json:"router_id"`
		Quantity     int   `json:"quantity"`
		AutoGenerate *bool `json:"auto_generate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", err.Error(), nil)
		return
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	auto := true
	if in.AutoGenerate != nil {
		auto = *in.AutoGenerate
	}

	var pkg models.VoucherPackage
	if err := h.ledger.DB().First(&pkg, in.PackageID).Error; err != nil {
		h.fail(w, err)
		return
	}
	var router models.Router
	if err := h.ledger.DB().First(&router, in.RouterID).Error; err != nil {
		h.fail(w, err)
		return
	}

	res, err := h.prov.GenerateBatch(r.Context(), pkg, router, in.Quantity, auto)
	if res == nil {
		// не прошла валидация — до устройства не дошли
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", err.Error(), nil)
		return
	}
	body := map[string]any{
		"requested": res.Requested,
		"count":     len(res.Vouchers),
		"vouchers":  res.Vouchers,
	}
	if err == nil {
		writeJSON(w, http.StatusCreated, body)
		return
	}
	// частичный (или нулевой) успех: всё, что есть в ledger, отдаём + причину
	body["error"] = err.Error()
	writeJSON(w, http.StatusBadGateway, body)
}

func (h *HTTP) activate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "invalid voucher id", nil)
		return
	}
	var in struct {
		MAC string `json:"mac"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.MAC == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "need {mac}", nil)
		return
	}
	v, err := h.ledger.Activate(id, in.MAC)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *HTTP) sell(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "invalid voucher id", nil)
		return
	}
	var in struct {
		PaymentMethod string `json:"payment_method"`
		Notes         string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.PaymentMethod == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "need {payment_method}", nil)
		return
	}
	sale, err := h.ledger.Sell(id, in.PaymentMethod, in.Notes)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (h *HTTP) reset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "invalid voucher id", nil)
		return
	}
	v, err := h.ledger.Reset(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *HTTP) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "invalid voucher id", nil)
		return
	}
	var in struct {
		Status models.VoucherStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Status == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "need {status}", nil)
		return
	}
	v, err := h.ledger.UpdateStatus(id, in.Status)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *HTTP) deleteVoucher(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "invalid voucher id", nil)
		return
	}
	v, err := h.ledger.Get(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	var router models.Router
	if err := h.ledger.DB().First(&router, v.RouterID).Error; err != nil {
		// роутер удалён — чистим только ledger
		if err := h.ledger.Delete(id); err != nil {
			h.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.prov.DeleteVoucher(r.Context(), id, router); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

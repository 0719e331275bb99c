// Package handler exposes application intake, processing, and operator
// endpoints over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"enrolld/internal/enrollment/models"
	"enrolld/internal/enrollment/service"
	"enrolld/pkg/domain"
	dErrors "enrolld/pkg/domain-errors"
	"enrolld/pkg/platform/httputil"
	"enrolld/pkg/platform/middleware/admin"
	"enrolld/pkg/requestcontext"
)

// defaultMaxUploadBytes bounds a multipart process request when none is configured.
const defaultMaxUploadBytes = 20 << 20

// multipartMemory is how much of a multipart body is buffered before spilling to disk.
const multipartMemory = 8 << 20

// Service defines the enrollment operations exposed over HTTP.
type Service interface {
	Submit(ctx context.Context, cmd service.SubmitCommand) (*models.PendingApplication, error)
	Get(ctx context.Context, id domain.NationalID) (*service.ApplicationView, error)
	Process(ctx context.Context, cmd service.ProcessCommand) (*service.ProcessResult, error)
	List(ctx context.Context, filter service.ListFilter) ([]*service.ApplicationView, error)
	ResetAlarm(ctx context.Context, id domain.NationalID, days int, reason string) (*service.ApplicationView, error)
	Remove(ctx context.Context, id domain.NationalID) error
}

// Handler wires enrollment endpoints to the service.
type Handler struct {
	service        Service
	logger         *slog.Logger
	adminToken     string
	maxUploadBytes int64
}

// New constructs an enrollment handler. Admin routes reject every request
// when adminToken is empty.
func New(svc Service, logger *slog.Logger, adminToken string, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		service:        svc,
		logger:         logger,
		adminToken:     adminToken,
		maxUploadBytes: maxUploadBytes,
	}
}

// Register mounts the enrollment endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/applications", h.HandleSubmit)
	r.Get("/applications/{nationalID}", h.HandleGet)
	r.Post("/applications/{nationalID}/process", h.HandleProcess)

	r.Route("/admin/applications", func(r chi.Router) {
		r.Use(admin.RequireAdminToken(h.adminToken, h.logger))
		r.Get("/", h.HandleList)
		r.Post("/{nationalID}/alarm", h.HandleResetAlarm)
		r.Delete("/{nationalID}", h.HandleRemove)
	})
}

// HandleSubmit handles POST /applications.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	app, err := h.service.Submit(ctx, req.Command())
	if err != nil {
		h.logFailure(ctx, "application submission failed", err, "national_id", req.parsedNationalID.String())
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if app.Version == 1 {
		status = http.StatusCreated
	}
	view, err := h.service.Get(ctx, app.NationalID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, status, FromView(view))
}

// HandleGet handles GET /applications/{nationalID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.nationalID(w, r)
	if !ok {
		return
	}
	view, err := h.service.Get(ctx, id)
	if err != nil {
		h.logFailure(ctx, "application lookup failed", err, "national_id", id.String())
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromView(view))
}

// HandleProcess handles POST /applications/{nationalID}/process. The body is
// either multipart (selector fields plus one file part per document slot) or
// JSON with an optional selector override.
func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	id, ok := h.nationalID(w, r)
	if !ok {
		return
	}

	cmd := service.ProcessCommand{NationalID: id}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "multipart/form-data":
		form, err := h.parseMultipart(w, r)
		if err != nil {
			h.logger.WarnContext(ctx, "invalid multipart process request",
				"request_id", requestID,
				"error", err,
			)
			httputil.WriteError(w, err)
			return
		}
		defer form.close()
		cmd.Selectors = form.selectors
		cmd.Uploads = form.uploads
	case r.ContentLength == 0:
		// No body: process with the stored selection.
	default:
		req, ok := httputil.DecodeAndPrepare[ProcessRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
		if req.Selectors != nil {
			sel := req.Selectors.toModel()
			cmd.Selectors = &sel
		}
	}

	result, err := h.service.Process(ctx, cmd)
	if err != nil {
		h.logFailure(ctx, "application processing failed", err, "national_id", id.String())
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "application processed",
		"request_id", requestID,
		"national_id", id.String(),
		"state", result.State,
		"uploads", len(cmd.Uploads),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromResult(result))
}

// HandleList handles GET /admin/applications.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := service.ListFilter{}
	if raw := r.URL.Query().Get("overdue"); raw != "" {
		overdue, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "overdue must be true or false"))
			return
		}
		filter.OverdueOnly = overdue
	}
	views, err := h.service.List(ctx, filter)
	if err != nil {
		h.logFailure(ctx, "application listing failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromViews(views))
}

// HandleResetAlarm handles POST /admin/applications/{nationalID}/alarm.
func (h *Handler) HandleResetAlarm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	id, ok := h.nationalID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ResetAlarmRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	view, err := h.service.ResetAlarm(ctx, id, req.Days, req.Reason)
	if err != nil {
		h.logFailure(ctx, "deadline reset failed", err, "national_id", id.String())
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromView(view))
}

// HandleRemove handles DELETE /admin/applications/{nationalID}.
func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.nationalID(w, r)
	if !ok {
		return
	}
	if err := h.service.Remove(ctx, id); err != nil {
		h.logFailure(ctx, "application removal failed", err, "national_id", id.String())
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) nationalID(w http.ResponseWriter, r *http.Request) (domain.NationalID, bool) {
	id, err := domain.ParseNationalID(chi.URLParam(r, "nationalID"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return id, true
}

// logFailure logs client faults at WARN and server faults at ERROR.
func (h *Handler) logFailure(ctx context.Context, msg string, err error, attrs ...any) {
	attrs = append(attrs, "request_id", requestcontext.RequestID(ctx), "error", err)
	if dErrors.IsClientError(dErrors.CodeOf(err)) {
		h.logger.WarnContext(ctx, msg, attrs...)
		return
	}
	h.logger.ErrorContext(ctx, msg, attrs...)
}

type processForm struct {
	selectors *models.Selectors
	uploads   []service.Upload
	files     []multipart.File
}

func (f *processForm) close() {
	for _, file := range f.files {
		_ = file.Close()
	}
}

// parseMultipart reads selector fields and one file part per slot. Selector
// fields are all-or-nothing: modality_id and plan_id together, module_id optional.
func (h *Handler) parseMultipart(w http.ResponseWriter, r *http.Request) (*processForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, dErrors.New(dErrors.CodeBadRequest,
				"request body exceeds "+strconv.FormatInt(h.maxUploadBytes, 10)+" bytes")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid multipart body")
	}

	form := &processForm{}
	sel, err := selectorsFromForm(r.MultipartForm.Value)
	if err != nil {
		return nil, err
	}
	form.selectors = sel

	for name := range r.MultipartForm.File {
		if slot, ok := models.ParseSlot(name); !ok || string(slot) != name {
			return nil, dErrors.New(dErrors.CodeValidation, "unknown document slot: "+name)
		}
	}
	for _, slot := range models.AllSlots {
		headers := r.MultipartForm.File[string(slot)]
		if len(headers) == 0 {
			continue
		}
		if len(headers) > 1 {
			form.close()
			return nil, dErrors.New(dErrors.CodeValidation, "one file per document slot: "+string(slot))
		}
		file, err := headers[0].Open()
		if err != nil {
			form.close()
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "unreadable upload: "+string(slot))
		}
		form.files = append(form.files, file)
		form.uploads = append(form.uploads, service.Upload{
			Slot:   slot,
			Ext:    filepath.Ext(headers[0].Filename),
			Reader: file,
		})
	}
	return form, nil
}

func selectorsFromForm(values map[string][]string) (*models.Selectors, error) {
	get := func(key string) string {
		if v := values[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	modality, plan, module := get("modality_id"), get("plan_id"), get("module_id")
	if modality == "" && plan == "" && module == "" {
		return nil, nil
	}
	req := SelectorsRequest{}
	var err error
	if req.ModalityID, err = domain.ParseCatalogID("modality_id", modality); err != nil {
		return nil, err
	}
	if req.PlanID, err = domain.ParseCatalogID("plan_id", plan); err != nil {
		return nil, err
	}
	if module != "" {
		if req.ModuleID, err = domain.ParseCatalogID("module_id", module); err != nil {
			return nil, err
		}
	}
	sel := req.toModel()
	return &sel, nil
}

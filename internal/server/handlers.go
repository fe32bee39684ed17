package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"poflow/internal"
	"poflow/internal/logging"
	"poflow/internal/mailer"
	"poflow/internal/pipeline"
	"poflow/internal/potemplate"
	"poflow/internal/storage"
	"poflow/internal/uploads"
	"poflow/internal/validate"
)

const (
	extractedName = "extracted.xlsx"
	pdfName       = "po-sheets.pdf"
	reportName    = "validation-report.xlsx"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEnvironment(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.deps.Pipeline.Environment())
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gateway == nil {
		writeError(w, r, http.StatusServiceUnavailable, "", "no persistence backend configured")
		return
	}
	stats, err := s.deps.Gateway.Stats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "", err.Error())
		return
	}
	writeData(w, http.StatusOK, stats)
}

func (s *Server) handleResetMock(w http.ResponseWriter, r *http.Request) {
	if s.deps.Production {
		writeError(w, r, http.StatusForbidden, "", "reset is not allowed in production")
		return
	}
	rs, ok := s.deps.Gateway.(storage.Resetter)
	if !ok {
		writeError(w, r, http.StatusConflict, "", "reset is only available on the mock backend")
		return
	}
	rs.Reset()
	logging.FromContext(r.Context()).Info("mock store reset", "actor", actorFrom(r.Context()))
	s.handleStatistics(w, r)
}

type uploadResponse struct {
	UploadID   string                    `json:"uploadId,omitempty"`
	FileName   string                    `json:"fileName"`
	Validation internal.StructuralResult `json:"validation"`
	Parsing    *internal.ParseResult     `json:"parsing,omitempty"`
}

// handleUpload stores a workbook, checks its structure and parses it. A
// workbook that fails the structural check is not kept.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	up, ok := s.receiveUpload(w, r)
	if !ok {
		return
	}

	resp := uploadResponse{UploadID: up.ID, FileName: up.FileName}
	resp.Validation = validate.QuickFile(up.Path)
	if !resp.Validation.Valid {
		_ = s.deps.Uploads.Delete(up.ID)
		resp.UploadID = ""
		err := internal.Errorf(validate.StructuralCode(resp.Validation), "%s", strings.Join(resp.Validation.Errors, "; "))
		writeStageError(w, r, err, resp)
		return
	}

	required := s.deps.Profile.RequiredFields(r.FormValue("context"))
	orders, err := potemplate.ParseFile(up.Path, potemplate.Options{Required: required})
	if err == nil && s.deps.Profile.GroupOrders {
		orders = potemplate.GroupOrders(orders)
	}
	parsed := potemplate.Summarize(orders, err)
	resp.Parsing = &parsed
	if err != nil {
		_ = s.deps.Uploads.Delete(up.ID)
		resp.UploadID = ""
		writeStageError(w, r, err, resp)
		return
	}
	writeData(w, http.StatusOK, resp)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var (
		up      uploads.Upload
		ok      bool
		context string
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if up, ok = s.receiveUpload(w, r); !ok {
			return
		}
		context = r.FormValue("context")
	} else {
		var req struct {
			UploadID string `json:"uploadId"`
			Context  string `json:"context"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "", "invalid request body")
			return
		}
		if up, ok = s.lookupUpload(w, r, req.UploadID); !ok {
			return
		}
		context = req.Context
	}

	report := validate.File(up.Path, validate.DeepOptions{
		Required:     s.deps.Profile.RequiredFields(context),
		OutputSheets: s.deps.Profile.OutputSheets,
	})
	writeData(w, http.StatusOK, map[string]any{
		"uploadId":   up.ID,
		"fileName":   up.FileName,
		"validation": report,
	})
}

type party struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (s *Server) handleVendorsValidate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Matcher == nil {
		writeError(w, r, http.StatusServiceUnavailable, "", "vendor matching is not configured")
		return
	}
	var req struct {
		Vendors    []party `json:"vendors"`
		Deliveries []party `json:"deliveries"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "", "invalid request body")
		return
	}
	if len(req.Vendors) == 0 && len(req.Deliveries) == 0 {
		writeError(w, r, http.StatusBadRequest, "", "no vendor names given")
		return
	}

	orders := make([]internal.OrderRecord, 0, len(req.Vendors)+len(req.Deliveries))
	for _, v := range req.Vendors {
		orders = append(orders, internal.OrderRecord{VendorName: v.Name, VendorEmail: v.Email})
	}
	for _, d := range req.Deliveries {
		orders = append(orders, internal.OrderRecord{DeliveryName: d.Name, DeliveryEmail: d.Email})
	}
	writeData(w, http.StatusOK, s.deps.Matcher.MatchOrders(r.Context(), orders))
}

// handleSave re-checks the submitted orders and persists the valid ones.
// Orders that fail the rules are reported as failures without being written.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gateway == nil {
		writeError(w, r, http.StatusServiceUnavailable, "", "no persistence backend configured")
		return
	}
	var req struct {
		Orders  []internal.OrderRecord `json:"orders"`
		Context string                 `json:"context"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "", "invalid request body")
		return
	}
	if len(req.Orders) == 0 {
		writeError(w, r, http.StatusBadRequest, "", "no orders to save")
		return
	}

	required := s.deps.Profile.RequiredFields(req.Context)
	valid := make([]internal.OrderRecord, 0, len(req.Orders))
	rejected := []internal.OrderFailure{}
	for _, o := range req.Orders {
		potemplate.ApplyRules(&o, required)
		if o.IsValid {
			valid = append(valid, o)
			continue
		}
		rejected = append(rejected, internal.OrderFailure{
			RowIndex:    o.RowIndex,
			VendorName:  o.VendorName,
			ProjectName: o.ProjectName,
			Error:       strings.Join(o.Errors, "; "),
		})
	}

	if len(valid) == 0 {
		res := internal.PersistenceResult{
			Backend:         s.deps.Gateway.Backend(),
			AttemptedOrders: len(req.Orders),
			Saved:           []internal.SavedOrder{},
			Failures:        rejected,
		}
		writeStageError(w, r, internal.Errorf(internal.CodeBusinessValidationFailed, "no valid orders to save"), res)
		return
	}

	res, err := s.deps.Gateway.SaveOrders(r.Context(), valid, actorFrom(r.Context()))
	res.AttemptedOrders += len(rejected)
	res.Failures = append(res.Failures, rejected...)
	res.Success = len(res.Failures) == 0
	if !res.Success {
		res.Error = fmt.Sprintf("%d of %d orders failed", len(res.Failures), res.AttemptedOrders)
	}
	if res.SavedOrders == 0 {
		if err == nil {
			err = internal.Errorf(internal.CodePersistenceFailed, "%s", res.Error)
		}
		writeStageError(w, r, err, res)
		return
	}

	out := response{Success: res.Success, Data: res, Error: res.Error}
	if !res.Success {
		out.Code = internal.CodePersistenceFailed
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UploadID string   `json:"uploadId"`
		Sheets   []string `json:"sheets"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "", "invalid request body")
		return
	}
	up, ok := s.lookupUpload(w, r, req.UploadID)
	if !ok {
		return
	}
	res, err := s.extractUpload(up, req.Sheets)
	if err != nil {
		writeStageError(w, r, err, res)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) extractUpload(up uploads.Upload, sheets []string) (internal.ExtractionResult, error) {
	if len(sheets) == 0 {
		sheets = s.deps.Profile.OutputSheets
	}
	return s.deps.Extractor.Extract(up.Path, sheets, s.deps.Uploads.ArtifactPath(up.ID, extractedName))
}

// handleConvert renders the extracted workbook of an upload, extracting it
// first when that has not happened yet.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if s.deps.Converter == nil {
		writeError(w, r, http.StatusServiceUnavailable, "", "pdf conversion is not configured")
		return
	}
	var req struct {
		UploadID string `json:"uploadId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "", "invalid request body")
		return
	}
	up, ok := s.lookupUpload(w, r, req.UploadID)
	if !ok {
		return
	}

	extracted := s.deps.Uploads.ArtifactPath(up.ID, extractedName)
	if _, err := os.Stat(extracted); err != nil {
		if res, err := s.extractUpload(up, nil); err != nil {
			writeStageError(w, r, err, res)
			return
		}
	}
	res, err := s.deps.Converter.Convert(extracted, s.deps.Uploads.ArtifactPath(up.ID, pdfName))
	if err != nil {
		writeStageError(w, r, err, res)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	up, ok := s.lookupUpload(w, r, chi.URLParam(r, "uploadID"))
	if !ok {
		return
	}
	kind := chi.URLParam(r, "kind")
	var name string
	switch kind {
	case "xlsx":
		name = extractedName
	case "pdf":
		name = pdfName
	default:
		writeError(w, r, http.StatusNotFound, "", "unknown file kind")
		return
	}
	path := s.deps.Uploads.ArtifactPath(up.ID, name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, r, http.StatusNotFound, "", "file has not been generated")
		return
	}
	serveAttachment(w, r, path, fmt.Sprintf("발주서_%s.%s", up.ID, kind))
}

func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Mailer == nil {
		writeError(w, r, http.StatusServiceUnavailable, "", "mail dispatch is not configured")
		return
	}
	var req struct {
		UploadID          string          `json:"uploadId"`
		To                []string        `json:"to"`
		CC                []string        `json:"cc"`
		BCC               []string        `json:"bcc"`
		Subject           string          `json:"subject"`
		OrderNumber       string          `json:"orderNumber"`
		VendorName        string          `json:"vendorName"`
		OrderDate         string          `json:"orderDate"`
		DueDate           string          `json:"dueDate"`
		TotalAmount       decimal.Decimal `json:"totalAmount"`
		AdditionalMessage string          `json:"additionalMessage"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "", "invalid request body")
		return
	}
	if len(splitList(req.To...)) == 0 {
		writeError(w, r, http.StatusBadRequest, "", "at least one recipient is required")
		return
	}

	mreq := mailer.Request{
		To:                splitList(req.To...),
		CC:                splitList(req.CC...),
		BCC:               splitList(req.BCC...),
		Subject:           req.Subject,
		OrderNumber:       req.OrderNumber,
		VendorName:        req.VendorName,
		OrderDate:         req.OrderDate,
		DueDate:           req.DueDate,
		TotalAmount:       req.TotalAmount,
		AdditionalMessage: req.AdditionalMessage,
	}
	if req.UploadID != "" {
		up, ok := s.lookupUpload(w, r, req.UploadID)
		if !ok {
			return
		}
		label := req.OrderNumber
		if label == "" {
			label = up.ID
		}
		for _, name := range []string{extractedName, pdfName} {
			path := s.deps.Uploads.ArtifactPath(up.ID, name)
			if _, err := os.Stat(path); err == nil {
				mreq.Attachments = append(mreq.Attachments, mailer.Attachment{
					Path:     path,
					Filename: fmt.Sprintf("발주서_%s%s", label, filepath.Ext(name)),
				})
			}
		}
	}

	res, err := s.deps.Mailer.Dispatch(r.Context(), mreq)
	if err != nil {
		writeStageError(w, r, err, res)
		return
	}
	writeData(w, http.StatusOK, res)
}

// handleProcessComplete runs every stage over one uploaded workbook.
func (s *Server) handleProcessComplete(w http.ResponseWriter, r *http.Request) {
	up, ok := s.receiveUpload(w, r)
	if !ok {
		return
	}
	opts := pipeline.Options{
		Actor:       actorFrom(r.Context()),
		UploadID:    up.ID,
		FileName:    up.FileName,
		Context:     r.FormValue("context"),
		GeneratePDF: formBool(r, "generatePDF", true),
		SendEmail:   formBool(r, "sendEmail", false),
		IsDraft:     formBool(r, "isDraft", true),
		Email: pipeline.EmailOptions{
			To:                splitList(r.FormValue("to")),
			CC:                splitList(r.FormValue("cc")),
			BCC:               splitList(r.FormValue("bcc")),
			Subject:           r.FormValue("subject"),
			AdditionalMessage: r.FormValue("additionalMessage"),
		},
	}
	s.placeArtifacts(&opts, up.ID)
	s.writeRun(w, s.deps.Pipeline.Process(r.Context(), up.Path, opts))
}

// handleProcessUpload reruns the pipeline over an upload that is already stored.
func (s *Server) handleProcessUpload(w http.ResponseWriter, r *http.Request) {
	up, ok := s.lookupUpload(w, r, chi.URLParam(r, "uploadID"))
	if !ok {
		return
	}
	var req struct {
		GeneratePDF       *bool    `json:"generatePDF"`
		SendEmail         bool     `json:"sendEmail"`
		IsDraft           *bool    `json:"isDraft"`
		Context           string   `json:"context"`
		To                []string `json:"to"`
		CC                []string `json:"cc"`
		BCC               []string `json:"bcc"`
		Subject           string   `json:"subject"`
		AdditionalMessage string   `json:"additionalMessage"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "", "invalid request body")
		return
	}
	opts := pipeline.Options{
		Actor:       actorFrom(r.Context()),
		UploadID:    up.ID,
		FileName:    up.FileName,
		Context:     req.Context,
		GeneratePDF: req.GeneratePDF == nil || *req.GeneratePDF,
		SendEmail:   req.SendEmail,
		IsDraft:     req.IsDraft == nil || *req.IsDraft,
		Email: pipeline.EmailOptions{
			To:                splitList(req.To...),
			CC:                splitList(req.CC...),
			BCC:               splitList(req.BCC...),
			Subject:           req.Subject,
			AdditionalMessage: req.AdditionalMessage,
		},
	}
	s.placeArtifacts(&opts, up.ID)
	s.writeRun(w, s.deps.Pipeline.Process(r.Context(), up.Path, opts))
}

// placeArtifacts points the run's outputs at the upload's artifact slots so
// the files endpoint serves them after the run.
func (s *Server) placeArtifacts(opts *pipeline.Options, uploadID string) {
	opts.ExtractPath = s.deps.Uploads.ArtifactPath(uploadID, extractedName)
	opts.PDFPath = s.deps.Uploads.ArtifactPath(uploadID, pdfName)
}

func (s *Server) writeRun(w http.ResponseWriter, res internal.PipelineRunResult) {
	status := http.StatusOK
	if res.Aborted != nil {
		status = statusFor(res.Aborted.Code)
	}
	writeJSON(w, status, res)
}

// handleReport exports the validation findings of an upload as a workbook.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	up, ok := s.lookupUpload(w, r, chi.URLParam(r, "uploadID"))
	if !ok {
		return
	}
	report := validate.File(up.Path, validate.DeepOptions{
		Required:     s.deps.Profile.RequiredFields(r.URL.Query().Get("context")),
		OutputSheets: s.deps.Profile.OutputSheets,
	})
	path := s.deps.Uploads.ArtifactPath(up.ID, reportName)
	if err := validate.ExportReport(report, path); err != nil {
		writeError(w, r, http.StatusInternalServerError, "", err.Error())
		return
	}
	serveAttachment(w, r, path, reportName)
}

func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request) (uploads.Upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.deps.MaxUploadBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, "", "file too large or invalid form")
		return uploads.Upload{}, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "", "no file provided")
		return uploads.Upload{}, false
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".xlsx", ".xlsm":
	default:
		writeError(w, r, http.StatusBadRequest, "", "only Excel workbooks (.xlsx, .xlsm) are accepted")
		return uploads.Upload{}, false
	}

	up, err := s.deps.Uploads.Save(file, header.Filename)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "", err.Error())
		return uploads.Upload{}, false
	}
	logging.FromContext(r.Context()).Info("upload stored", "upload_id", up.ID, "file", up.FileName, "size", header.Size)
	return up, true
}

func (s *Server) lookupUpload(w http.ResponseWriter, r *http.Request, id string) (uploads.Upload, bool) {
	up, err := s.deps.Uploads.Get(id)
	if err != nil {
		if errors.Is(err, uploads.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "", "upload not found")
		} else {
			writeError(w, r, http.StatusInternalServerError, "", err.Error())
		}
		return uploads.Upload{}, false
	}
	return up, true
}

func formBool(r *http.Request, key string, fallback bool) bool {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

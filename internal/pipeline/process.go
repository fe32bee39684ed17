package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"poflow/internal"
	"poflow/internal/blobstore"
	"poflow/internal/config"
	"poflow/internal/convert"
	"poflow/internal/extract"
	"poflow/internal/logging"
	"poflow/internal/mailer"
	"poflow/internal/potemplate"
	"poflow/internal/registry"
	"poflow/internal/storage"
	"poflow/internal/validate"
)

// Deps are the stage implementations a ProcessingService runs. Matcher,
// Converter, Mailer and Archiver may be nil; their stages then do not run.
type Deps struct {
	Gateway    storage.Gateway
	Matcher    *registry.Matcher
	Extractor  *extract.Extractor
	Converter  *convert.Converter
	Mailer     *mailer.Service
	Archiver   *blobstore.Archiver
	Profile    config.Profile
	Production bool
	Logger     *slog.Logger
}

type ProcessingService struct {
	deps Deps
}

func NewProcessingService(deps Deps) *ProcessingService {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.New(os.TempDir())
	}
	return &ProcessingService{deps: deps}
}

type EmailOptions struct {
	To                []string
	CC                []string
	BCC               []string
	Subject           string
	AdditionalMessage string
}

type Options struct {
	Actor       string
	UploadID    string
	FileName    string
	Context     string
	GeneratePDF bool
	SendEmail   bool
	// IsDraft is accepted for compatibility; orders are always stored as drafts.
	IsDraft bool
	Email   EmailOptions
	// KeepUpload leaves the upload in place when the run aborts.
	KeepUpload bool
	// ExtractPath and PDFPath place the run's artifacts. When empty they are
	// derived under the extractor's output directory from the clock and the
	// trace id.
	ExtractPath string
	PDFPath     string
}

func (s *ProcessingService) Environment() internal.Environment {
	env := internal.Environment{
		IsProduction: s.deps.Production,
		UsingMockDB:  s.deps.Gateway == nil || s.deps.Gateway.Backend() == internal.BackendMock,
	}
	if s.deps.Mailer != nil {
		env.MailMode = s.deps.Mailer.Mode()
	}
	return env
}

// Process runs every stage over the workbook at uploadPath. Structural
// validation and parse failures abort the run and delete the upload; later
// stage failures are recorded and the run continues.
func (s *ProcessingService) Process(ctx context.Context, uploadPath string, opts Options) internal.PipelineRunResult {
	start := time.Now()
	trace := traceID()
	ctx = logging.WithTrace(ctx, trace)
	logger := logging.Enrich(ctx, s.deps.Logger).With("upload_id", opts.UploadID)
	if opts.Context == "" {
		opts.Context = config.DefaultContext
	}
	required := s.deps.Profile.RequiredFields(opts.Context)

	run := &run{
		result: internal.PipelineRunResult{
			TraceID:     trace,
			UploadID:    opts.UploadID,
			FileName:    opts.FileName,
			State:       internal.StateUploaded,
			Environment: s.Environment(),
		},
		logger: logger,
	}
	run.result.Summary.Backend = backendOf(s.deps.Gateway)

	abort := func(stage internal.RunState, code internal.ErrorCode, reason string) internal.PipelineRunResult {
		run.result.State = internal.StateAborted
		run.result.Aborted = &internal.Abort{Stage: stage, Code: code, Reason: reason}
		if !opts.KeepUpload {
			if err := os.Remove(uploadPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn("remove rejected upload", "path", uploadPath, "error", err)
			}
		}
		logger.Warn("pipeline aborted", "stage", stage, "code", code, "reason", reason, "ms", time.Since(start).Milliseconds())
		return run.result
	}

	// Validate
	report := validate.File(uploadPath, validate.DeepOptions{Required: required, OutputSheets: s.deps.Profile.OutputSheets})
	run.result.Results.Validation = &report
	run.result.Summary.ValidationPassed = report.Valid
	if !report.Structural.Valid {
		return abort(internal.StateValidated, validate.StructuralCode(report.Structural), strings.Join(report.Structural.Errors, "; "))
	}
	run.advance(internal.StateValidated, "warnings", len(report.Warnings), "errors", len(report.Errors))

	// Parse
	orders, err := potemplate.ParseFile(uploadPath, potemplate.Options{Required: required})
	if err == nil && s.deps.Profile.GroupOrders {
		orders = potemplate.GroupOrders(orders)
	}
	parsed := potemplate.Summarize(orders, err)
	run.result.Results.Parsing = &parsed
	run.result.Summary.TotalOrders = parsed.TotalOrders
	run.result.Summary.TotalItems = parsed.TotalItems
	if err != nil {
		code := internal.CodeOf(err)
		if code == "" {
			code = internal.CodeStructuralValidationFailed
		}
		return abort(internal.StateParsed, code, err.Error())
	}
	run.advance(internal.StateParsed, "orders", parsed.TotalOrders, "items", parsed.TotalItems)

	// Match
	if s.deps.Matcher != nil {
		match := s.deps.Matcher.MatchOrders(ctx, orders)
		run.result.Results.Matching = &match
		logger.Info("vendors matched", "vendors", len(match.Vendors), "deliveries", len(match.Deliveries), "conflicts", len(match.EmailConflicts), "degraded", match.Degraded)
	}

	// Persist
	saving := s.persist(ctx, orders, opts.Actor)
	run.result.Results.Saving = &saving
	run.result.Summary.SavedToDatabase = saving.Success
	run.advance(internal.StatePersisted, "saved", saving.SavedOrders, "attempted", saving.AttemptedOrders, "failures", len(saving.Failures))

	// Extract
	extractPath := opts.ExtractPath
	if extractPath == "" {
		extractPath = s.deps.Extractor.OutputPath("extracted-"+trace, ".xlsx")
	}
	extraction, _ := s.deps.Extractor.Extract(uploadPath, s.deps.Profile.OutputSheets, extractPath)
	run.result.Results.Extraction = &extraction
	run.result.Summary.SheetsExtracted = extraction.Success
	for _, w := range extraction.Warnings {
		logger.Warn("extraction", "warning", w)
	}
	run.advance(internal.StateExtracted, "sheets", len(extraction.ExtractedSheets), "missing", len(extraction.MissingSheets), "warnings", len(extraction.Warnings))

	// Convert
	if opts.GeneratePDF {
		pdfPath := opts.PDFPath
		if pdfPath == "" {
			pdfPath = s.deps.Extractor.OutputPath("po-sheets-"+trace, ".pdf")
		}
		conversion := s.convert(extraction, pdfPath)
		run.result.Results.PDF = &conversion
		run.result.Summary.PDFGenerated = conversion.Success
		run.advance(internal.StateConverted, "success", conversion.Success, "pages", conversion.Pages)
	}

	// Dispatch
	if opts.SendEmail {
		dispatch := s.dispatch(ctx, orders, saving, extraction, run.result.Results.PDF, opts.Email)
		run.result.Results.Email = &dispatch
		run.result.Summary.EmailSent = dispatch.Success
		run.advance(internal.StateDispatched, "success", dispatch.Success, "simulated", dispatch.Simulated)
	}

	if s.deps.Archiver != nil {
		group := opts.UploadID
		if group == "" {
			group = trace
		}
		var pdfPath string
		if run.result.Results.PDF != nil {
			pdfPath = run.result.Results.PDF.PDFPath
		}
		keys, err := s.deps.Archiver.Archive(ctx, group, extraction.OutputPath, pdfPath)
		if err != nil {
			logger.Warn("archive artifacts", "error", err)
		}
		run.result.Archived = keys
	}

	run.result.State = internal.StateCompleted
	run.result.Success = true
	logger.Info("pipeline completed", "ms", time.Since(start).Milliseconds(), "saved", saving.SavedOrders, "orders", parsed.TotalOrders)
	return run.result
}

type run struct {
	result internal.PipelineRunResult
	logger *slog.Logger
}

func (r *run) advance(state internal.RunState, args ...any) {
	r.result.State = state
	r.logger.Info("stage finished", append([]any{"stage", state}, args...)...)
}

// persist saves the valid orders only; invalid ones stay behind with their errors.
func (s *ProcessingService) persist(ctx context.Context, orders []internal.OrderRecord, actor string) internal.PersistenceResult {
	backend := backendOf(s.deps.Gateway)
	valid := make([]internal.OrderRecord, 0, len(orders))
	for _, o := range orders {
		if o.IsValid {
			valid = append(valid, o)
		}
	}
	if s.deps.Gateway == nil {
		return internal.PersistenceResult{Backend: backend, Saved: []internal.SavedOrder{}, Failures: []internal.OrderFailure{}, Error: "no persistence backend configured"}
	}
	if len(valid) == 0 {
		return internal.PersistenceResult{Backend: backend, Saved: []internal.SavedOrder{}, Failures: []internal.OrderFailure{}, Error: "no valid orders to save"}
	}
	res, _ := s.deps.Gateway.SaveOrders(ctx, valid, actor)
	return res
}

func (s *ProcessingService) convert(extraction internal.ExtractionResult, pdfPath string) internal.ConversionResult {
	if s.deps.Converter == nil {
		err := internal.Errorf(internal.CodeConversionFailed, "pdf converter not configured")
		return internal.ConversionResult{Error: err.Error(), Code: internal.CodeConversionFailed}
	}
	if !extraction.Success {
		err := internal.Errorf(internal.CodeConversionFailed, "no extracted workbook to convert")
		return internal.ConversionResult{Error: err.Error(), Code: internal.CodeConversionFailed}
	}
	res, _ := s.deps.Converter.Convert(extraction.OutputPath, pdfPath)
	return res
}

func (s *ProcessingService) dispatch(ctx context.Context, orders []internal.OrderRecord, saving internal.PersistenceResult, extraction internal.ExtractionResult, pdf *internal.ConversionResult, email EmailOptions) internal.DispatchResult {
	if s.deps.Mailer == nil {
		err := internal.Errorf(internal.CodeDispatchFailed, "mailer not configured")
		return internal.DispatchResult{Error: err.Error(), Code: internal.CodeDispatchFailed}
	}

	req := mailer.Request{
		To:                email.To,
		CC:                email.CC,
		BCC:               email.BCC,
		Subject:           email.Subject,
		AdditionalMessage: email.AdditionalMessage,
	}
	if len(orders) > 0 {
		first := orders[0]
		req.VendorName = first.VendorName
		req.OrderDate = first.OrderDate
		req.DueDate = first.DeliveryDate
		req.TotalAmount = first.TotalAmount()
	}
	if len(saving.Saved) > 0 {
		req.OrderNumber = saving.Saved[0].OrderNumber
	}
	label := req.OrderNumber
	if label == "" {
		label = time.Now().Format("20060102150405")
	}
	if extraction.Success {
		req.Attachments = append(req.Attachments, mailer.Attachment{Path: extraction.OutputPath, Filename: fmt.Sprintf("발주서_%s.xlsx", label)})
	}
	if pdf != nil && pdf.Success {
		req.Attachments = append(req.Attachments, mailer.Attachment{Path: pdf.PDFPath, Filename: fmt.Sprintf("발주서_%s.pdf", label)})
	}

	res, _ := s.deps.Mailer.Dispatch(ctx, req)
	return res
}

func backendOf(g storage.Gateway) internal.Backend {
	if g == nil {
		return internal.BackendMock
	}
	return g.Backend()
}

func traceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
